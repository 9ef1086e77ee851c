package bootstrap

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"subscan/config"
	"subscan/pkg/logger"
)

// sweepInterval is how often the self-heal loop calls LeaseAndRun directly,
// bypassing the queue (see DESIGN.md section I).
const sweepInterval = 30 * time.Second

// Worker runs the queue-consumer loop plus the self-heal sweep loop that
// together drive SessionOrchestrator.LeaseAndRun. Grounded on the teacher's
// Worker{pool, consumer, wg, cancel}/Start/Stop shape, with the multi-job-type
// dispatch (worker.Pool/Handler) replaced by direct Orchestrator calls since
// this pipeline has exactly one job kind: "run the next ready chunk".
type Worker struct {
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumerConcurrency int
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	concurrency := cfg.ConsumerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Worker{
		deps:                deps,
		ctx:                 ctx,
		cancel:              cancel,
		consumerConcurrency: concurrency,
	}, cleanup, nil
}

// Start launches the consumer loop(s) and the sweep loop, then blocks until
// Stop is called.
func (w *Worker) Start() {
	logger.Info("worker %s starting: %d consumer loop(s), sweep every %v", w.deps.WorkerID, w.consumerConcurrency, sweepInterval)

	for i := 0; i < w.consumerConcurrency; i++ {
		consumerID := w.deps.WorkerID
		if w.consumerConcurrency > 1 {
			consumerID = consumerID + "-" + strconv.Itoa(i)
		}
		w.wg.Add(1)
		go w.consumeLoop(consumerID)
	}

	w.wg.Add(1)
	go w.sweepLoop()

	<-w.ctx.Done()
	w.wg.Wait()
	logger.Info("worker %s stopped", w.deps.WorkerID)
}

// Stop signals both loops to exit and waits for them to drain.
func (w *Worker) Stop() {
	w.cancel()
}

// consumeLoop is the primary, fast work-discovery path: block on
// Queue.Claim, and on each claimed message run exactly one LeaseAndRun
// attempt. The message's own sessionID is a hint only — Postgres'
// LeaseNext, not the Redis message, decides which session actually runs
// (see DESIGN.md section I).
func (w *Worker) consumeLoop(consumerID string) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		jobID, _, err := w.deps.Queue.Claim(w.ctx, consumerID)
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Warn("queue claim failed for %s: %v", consumerID, err)
			time.Sleep(time.Second)
			continue
		}
		if jobID == "" {
			continue
		}

		if err := w.deps.Orchestrator.LeaseAndRun(w.ctx); err != nil {
			logger.Warn("leaseAndRun failed for job %s: %v", jobID, err)
			if nackErr := w.deps.Queue.Nack(w.ctx, jobID); nackErr != nil {
				logger.Warn("nack failed for job %s: %v", jobID, nackErr)
			}
			continue
		}
		if err := w.deps.Queue.Ack(w.ctx, jobID); err != nil {
			logger.Warn("ack failed for job %s: %v", jobID, err)
		}
	}
}

// sweepLoop is the secondary, self-heal path: it calls LeaseAndRun on a
// fixed tick regardless of queue activity, catching sessions whose queue
// message was lost between Store.CreateSession/Queue.Enqueue (or a worker
// crash mid-chunk that left a lease to expire).
func (w *Worker) sweepLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.deps.Orchestrator.LeaseAndRun(w.ctx); err != nil {
				logger.Warn("sweep leaseAndRun failed: %v", err)
			}
		}
	}
}
