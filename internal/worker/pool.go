// Package worker implements the Worker Pool (C5): a fixed number of
// goroutines that take ready job IDs off the Priority Queue and drive
// them through the Pipeline Driver, one job per worker at a time.
//
// Grounded on cmd/worker/main.go's consumer-loop shape: a context
// cancelled on shutdown signal, a WaitGroup tracking in-flight workers,
// and a timeout-bounded drain before giving up and returning. The
// Kafka consumer loop there becomes queue.Take here; everything around
// it (bounded wait, logging) is kept; signal handling lives in
// cmd/server, which cancels the context passed to Run.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/queue"
)

// Driver is the subset of pipeline.Driver the pool depends on.
type Driver interface {
	Run(ctx context.Context, jobID string) error
}

// Pool runs a fixed number of worker goroutines pulling from a Queue.
type Pool struct {
	queue         *queue.Queue
	driver        Driver
	concurrency   int
	hardDeadline  time.Duration
	drainWindow   time.Duration

	wg sync.WaitGroup
}

// New builds a Pool. concurrency is clamped to at least 1. hardDeadline
// bounds the context of each individual job attempt, set here (not by the
// driver). When it expires the worker still waits for the driver to
// return before taking another job, so an attempt that does not observe
// its context keeps its worker slot. drainWindow
// bounds how long Run waits for in-flight attempts to finish once ctx
// is cancelled, before giving up and returning anyway.
func New(q *queue.Queue, driver Driver, concurrency int, hardDeadline, drainWindow time.Duration) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		queue:        q,
		driver:       driver,
		concurrency:  concurrency,
		hardDeadline: hardDeadline,
		drainWindow:  drainWindow,
	}
}

// Run starts the configured number of workers and blocks until ctx is
// cancelled, then waits up to drainWindow for in-flight attempts to
// finish before returning.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}

	<-ctx.Done()
	log.Info().Msg("worker pool: shutdown requested, draining in-flight attempts")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("worker pool: drained cleanly")
	case <-time.After(p.drainWindow):
		log.Warn().Msg("worker pool: drain window exceeded, returning with attempts still in flight")
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		jobID, err := p.queue.Take(ctx)
		if err != nil {
			if errors.Is(err, apperr.ErrCancelled) || errors.Is(err, apperr.ErrClosed) {
				return
			}
			log.Error().Err(err).Int("worker", id).Msg("queue take failed")
			return
		}

		p.runOne(ctx, id, jobID)
	}
}

// runOne enforces the hard deadline around a single attempt: the driver's
// own context is bounded independently of the pool's lifetime context, so
// a shutdown in progress does not itself count against a job's hard
// deadline, and a job exceeding its hard deadline does not affect other
// workers or the pool's own shutdown.
func (p *Pool) runOne(ctx context.Context, workerID int, jobID string) {
	attemptCtx, cancel := context.WithTimeout(context.Background(), p.hardDeadline)
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- p.driver.Run(attemptCtx, jobID)
	}()

	select {
	case err := <-runDone:
		if err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Int("worker", workerID).Msg("job attempt ended with error")
		}
	case <-attemptCtx.Done():
		log.Error().Str("job_id", jobID).Int("worker", workerID).Msg("job attempt exceeded hard deadline, forcing unwind")
		<-runDone // the driver observes ctx.Done() via its own checkpoints and returns; wait for it to actually release the slot
	}
}
