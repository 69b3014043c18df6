// matching-service
//
// Async run orchestration for two pipelines:
//   - job matching  — deterministic filtering + scored top-5 recommendations
//   - candidate ranking — per-candidate stage pipeline + shortlist
//
// Submissions return a PENDING snapshot immediately; workers consume a
// Redis task queue, with inline fallback execution when the broker is down.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"jobmatch/matching-service/internal/candidate"
	"jobmatch/matching-service/internal/config"
	"jobmatch/matching-service/internal/corpus"
	"jobmatch/matching-service/internal/db"
	"jobmatch/matching-service/internal/dispatch"
	"jobmatch/matching-service/internal/httpapi"
	"jobmatch/matching-service/internal/run"
	"jobmatch/matching-service/internal/scheduler"
	"jobmatch/matching-service/internal/scoring"
)

const version = "1.0.0"

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("postgres connected")

	// ── Redis ────────────────────────────────────────────────────────────────
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("redis connected")

	// ── Pipeline wiring ──────────────────────────────────────────────────────
	store := run.NewPostgresStore(pool)
	source := corpus.NewPostgres(pool)
	tiers := candidate.NewCachedTierClassifier(candidate.HeuristicTierClassifier{}, rdb, log)

	orch := run.NewOrchestrator(store, source,
		scoring.HeuristicJobScorer{}, scoring.HeuristicCandidateScorer{}, tiers, log)

	queue := dispatch.NewQueue(rdb, cfg.QueueKey)
	orch.SetDispatcher(dispatch.NewWithFallback(queue, orch, log))

	worker := dispatch.NewWorker(rdb, cfg.QueueKey, orch, cfg.WorkerCount, log)
	worker.Start(ctx)

	sched := scheduler.New(orch, cfg.SweepInterval, cfg.StaleAge, log)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("scheduler", zap.Error(err))
	}
	defer sched.Stop()

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	flags := httpapi.Flags{
		MatchingEnabled: cfg.MatchingEnabled,
		RankingEnabled:  cfg.RankingEnabled,
	}
	h := httpapi.NewHandler(orch, source, flags, log)
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("version", version), zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	cancel()
	worker.Wait()
	log.Info("stopped")
}
