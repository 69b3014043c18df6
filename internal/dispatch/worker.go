package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// blockTimeout bounds each BRPOP so workers notice context cancellation.
const blockTimeout = 5 * time.Second

// Worker is the pool consuming the task queue. Each task executes at most
// one logical pipeline attempt; duplicate deliveries are harmless because
// every stage transition is a guarded compare-and-set on the run record.
type Worker struct {
	rdb     *redis.Client
	key     string
	runner  Runner
	log     *zap.Logger
	workers int

	wg sync.WaitGroup
}

// NewWorker returns a pool of n consumers on the queue at key.
func NewWorker(rdb *redis.Client, key string, runner Runner, n int, log *zap.Logger) *Worker {
	if key == "" {
		key = DefaultQueueKey
	}
	if n < 1 {
		n = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{rdb: rdb, key: key, runner: runner, workers: n, log: log}
}

// Start launches the consumer goroutines. They exit when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("worker pool starting", zap.Int("workers", w.workers), zap.String("queue", w.key))
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.consume(ctx, i)
	}
}

// Wait blocks until every consumer has exited.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) consume(ctx context.Context, id int) {
	defer w.wg.Done()
	log := w.log.With(zap.Int("worker", id))

	for {
		if ctx.Err() != nil {
			return
		}

		values, err := w.rdb.BRPop(ctx, blockTimeout, w.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		// BRPop returns [key, value].
		if len(values) != 2 {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(values[1]), &task); err != nil {
			log.Error("discarding undecodable task", zap.String("payload", values[1]), zap.Error(err))
			continue
		}

		log.Info("executing task", zap.String("task", task.Kind), zap.String("run_id", task.RunID))
		if err := Execute(ctx, w.runner, task); err != nil {
			// Pipeline failures are recorded on the run record; anything
			// surfacing here is infrastructure trouble.
			log.Error("task execution failed", zap.String("task", task.Kind), zap.String("run_id", task.RunID), zap.Error(err))
		}
	}
}
