// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the matching service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Feature flags. Either pipeline can be disabled independently; a
	// disabled pipeline answers 503 on its submission endpoint.
	MatchingEnabled bool
	RankingEnabled  bool

	QueueKey    string // Redis list key for pending run tasks
	WorkerCount int    // concurrent run executors

	SweepInterval time.Duration // how often the stale-run sweep fires
	StaleAge      time.Duration // PENDING age before a run is re-dispatched
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	port := os.Getenv("MATCHING_PORT")
	if port == "" {
		port = "8083"
	}

	queueKey := os.Getenv("RUN_QUEUE_KEY")
	if queueKey == "" {
		queueKey = "matchsvc:runs:pending"
	}

	workers := 4
	if s := os.Getenv("RUN_WORKER_COUNT"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("RUN_WORKER_COUNT must be a positive integer, got %q", s)
		}
		workers = v
	}

	sweepInterval := 5 * time.Minute
	if s := os.Getenv("SWEEP_INTERVAL_MINUTES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("SWEEP_INTERVAL_MINUTES must be a positive integer, got %q", s)
		}
		sweepInterval = time.Duration(v) * time.Minute
	}

	staleAge := 10 * time.Minute
	if s := os.Getenv("STALE_RUN_AGE_MINUTES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("STALE_RUN_AGE_MINUTES must be a positive integer, got %q", s)
		}
		staleAge = time.Duration(v) * time.Minute
	}

	return &Config{
		Port:            port,
		DatabaseURL:     dbURL,
		RedisURL:        redisURL,
		MatchingEnabled: flag("MATCHING_ENABLED", true),
		RankingEnabled:  flag("RANKING_ENABLED", true),
		QueueKey:        queueKey,
		WorkerCount:     workers,
		SweepInterval:   sweepInterval,
		StaleAge:        staleAge,
	}, nil
}

// flag reads a boolean environment variable with a default for absence.
func flag(name string, def bool) bool {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
