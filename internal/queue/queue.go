// Package queue implements the in-process priority queue of ready jobs
// (C2): one buffered channel per priority class, drained high-before-
// default-before-low, FIFO preserved within a class by channel order.
//
// Grounded on the three-channel priority job queue pattern (high/medium/
// low channels, sync.Once-guarded Close) and generalized with a
// retry-cooldown re-offer scheduled via time.AfterFunc so the main queue
// stays pure, per the delay-wheel design note.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/models"
)

const defaultChannelSize = 4096

// Queue is the in-process priority queue of ready-to-run job identifiers.
type Queue struct {
	high    chan string
	normal  chan string
	low     chan string
	done    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[*time.Timer]struct{} // retry-cooldown timers, tracked so Close can stop them
}

// New creates a Queue with the given per-class channel capacity. A
// capacity of 0 uses a sensible default.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultChannelSize
	}
	return &Queue{
		high:    make(chan string, capacity),
		normal:  make(chan string, capacity),
		low:     make(chan string, capacity),
		done:    make(chan struct{}),
		pending: make(map[*time.Timer]struct{}),
	}
}

func (q *Queue) channelFor(class models.PriorityClass) chan string {
	switch class {
	case models.PriorityHigh:
		return q.high
	case models.PriorityLow:
		return q.low
	default:
		return q.normal
	}
}

// Offer is a nonblocking enqueue. Returns apperr.ErrClosed if the queue is
// closed or the channel for this class is full.
func (q *Queue) Offer(jobID string, class models.PriorityClass) error {
	select {
	case <-q.done:
		return apperr.ErrClosed
	default:
	}

	ch := q.channelFor(class)
	select {
	case ch <- jobID:
		return nil
	case <-q.done:
		return apperr.ErrClosed
	default:
		return apperr.ErrClosed
	}
}

// OfferAfter schedules an Offer to run after delay, for the failure
// handler's retry cooldown. The re-offer is best-effort: if the queue has
// since closed, it is silently dropped (the caller learns about shutdown
// on its own next Offer/Take).
func (q *Queue) OfferAfter(jobID string, class models.PriorityClass, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		return // closed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.pending, timer)
		q.mu.Unlock()
		_ = q.Offer(jobID, class)
	})
	q.pending[timer] = struct{}{}
}

// Take blocks until a job is available, ctx is cancelled, or the queue is
// closed. High priority is always drained before default before low.
func (q *Queue) Take(ctx context.Context) (string, error) {
	// Fast path: drain strictly in priority order without blocking.
	select {
	case id := <-q.high:
		return id, nil
	default:
	}
	select {
	case id := <-q.normal:
		return id, nil
	default:
	}
	select {
	case id := <-q.low:
		return id, nil
	default:
	}

	select {
	case id := <-q.high:
		return id, nil
	case id := <-q.normal:
		return id, nil
	case id := <-q.low:
		return id, nil
	case <-q.done:
		return "", apperr.ErrClosed
	case <-ctx.Done():
		return "", apperr.ErrCancelled
	}
}

// Close wakes every blocked Take with apperr.ErrClosed; subsequent Offers
// are rejected. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		for t := range q.pending {
			t.Stop()
		}
		q.pending = nil
		q.mu.Unlock()
	})
}
