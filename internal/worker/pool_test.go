package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/videosynth/internal/models"
	"github.com/snappy-loop/videosynth/internal/queue"
)

type fakeDriver struct {
	mu      sync.Mutex
	seen    []string
	delay   time.Duration
	onRun   func(ctx context.Context, jobID string) error
}

func (f *fakeDriver) Run(ctx context.Context, jobID string) error {
	if f.onRun != nil {
		return f.onRun(ctx, jobID)
	}
	f.mu.Lock()
	f.seen = append(f.seen, jobID)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeDriver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func TestPoolProcessesQueuedJobs(t *testing.T) {
	q := queue.New(8)
	driver := &fakeDriver{}
	pool := New(q, driver, 2, time.Second, time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Offer("job-"+string(rune('a'+i)), models.PriorityDefault))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return driver.count() == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestPoolForceUnwindsOnHardDeadline(t *testing.T) {
	q := queue.New(8)
	var observedDone int32
	driver := &fakeDriver{onRun: func(ctx context.Context, jobID string) error {
		<-ctx.Done()
		atomic.AddInt32(&observedDone, 1)
		return ctx.Err()
	}}
	pool := New(q, driver, 1, 30*time.Millisecond, time.Second)

	require.NoError(t, q.Offer("stuck-job", models.PriorityDefault))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&observedDone) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestPoolDrainsWithinWindowOnShutdown(t *testing.T) {
	q := queue.New(8)
	driver := &fakeDriver{delay: 20 * time.Millisecond}
	pool := New(q, driver, 1, time.Second, 200*time.Millisecond)

	require.NoError(t, q.Offer("quick-job", models.PriorityDefault))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not shut down within expected drain window")
	}
	require.Equal(t, 1, driver.count())
}
