// Package run owns the run state machines, the persisted run records and
// the orchestration of both pipelines.
//
// Valid status graphs (forward-only, no state revisited):
//
//	matching:  PENDING ──► FILTERING ──► AGENT_RUNNING ──► COMPLETED
//	               │            │              │
//	               └────────────┴──────────────┴──────────► FAILED
//
//	ranking:   PENDING ──► RUNNING ──► COMPLETED
//	               │           │
//	               └───────────┴──────► FAILED
//
// COMPLETED and FAILED are terminal states.
package run

import "fmt"

// Status values mirror the run_status enums in PostgreSQL.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusFiltering    Status = "FILTERING"
	StatusAgentRunning Status = "AGENT_RUNNING"
	StatusRunning      Status = "RUNNING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
)

// matchingTransitions lists every allowed (from → to) pair for matching runs.
var matchingTransitions = map[Status][]Status{
	StatusPending:      {StatusFiltering, StatusFailed},
	StatusFiltering:    {StatusAgentRunning, StatusCompleted, StatusFailed},
	StatusAgentRunning: {StatusCompleted, StatusFailed},
	// COMPLETED and FAILED are terminal — no outgoing transitions
}

// rankingTransitions lists every allowed (from → to) pair for ranking runs.
var rankingTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// ParseMatchingStatus converts a raw string to a matching-run Status,
// returning an error for unknown values.
func ParseMatchingStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusFiltering, StatusAgentRunning, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown matching run status %q", s)
}

// ParseRankingStatus converts a raw string to a ranking-run Status,
// returning an error for unknown values.
func ParseRankingStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown ranking run status %q", s)
}

// IsMatchingTransitionAllowed returns true when moving from → to is
// permitted by the matching-run state machine.
func IsMatchingTransitionAllowed(from, to Status) bool {
	return transitionAllowed(matchingTransitions, from, to)
}

// IsRankingTransitionAllowed returns true when moving from → to is
// permitted by the ranking-run state machine.
func IsRankingTransitionAllowed(from, to Status) bool {
	return transitionAllowed(rankingTransitions, from, to)
}

// IsTerminal returns true for COMPLETED and FAILED.
func IsTerminal(s Status) bool { return s == StatusCompleted || s == StatusFailed }

func transitionAllowed(graph map[Status][]Status, from, to Status) bool {
	allowed, ok := graph[from]
	if !ok {
		return false // terminal state — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
