// Package scheduler wires up the cron job that periodically re-dispatches
// runs stuck in PENDING.
//
// A run can be left PENDING forever if the process dies between persisting
// the record and completing dispatch. The sweep finds such runs past a
// minimum age and re-enqueues them; duplicate deliveries are harmless
// because execution start is a compare-and-set on the run status.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobmatch/matching-service/internal/run"
)

// Scheduler wraps robfig/cron and manages the reconciliation sweep.
type Scheduler struct {
	cron     *cron.Cron
	orch     *run.Orchestrator
	staleAge time.Duration
	spec     string // cron spec, e.g. "@every 5m"
	log      *zap.Logger
}

// New creates a Scheduler that fires every interval, re-dispatching runs
// that have been PENDING longer than staleAge.
func New(orch *run.Orchestrator, interval, staleAge time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(),
		orch:     orch,
		staleAge: staleAge,
		spec:     fmt.Sprintf("@every %s", interval),
		log:      log,
	}
}

// Start registers the job and starts the scheduler. Also runs one sweep
// immediately so runs orphaned by a previous process are picked up without
// waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.log.Info("reconciliation sweep started", zap.String("spec", s.spec))

	go s.sweep(ctx)

	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("reconciliation sweep stopped")
}

func (s *Scheduler) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.staleAge)
	n, err := s.orch.ResubmitStalePending(ctx, cutoff)
	if err != nil {
		s.log.Error("stale run sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("stale runs re-dispatched", zap.Int("count", n))
	}
}
