package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/models"
)

func TestPriorityOrdering(t *testing.T) {
	q := New(8)
	require.NoError(t, q.Offer("A", models.PriorityLow))
	require.NoError(t, q.Offer("B", models.PriorityHigh))
	require.NoError(t, q.Offer("C", models.PriorityDefault))

	ctx := context.Background()
	first, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", first)

	second, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "C", second)

	third, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", third)
}

func TestFIFOWithinClass(t *testing.T) {
	q := New(8)
	require.NoError(t, q.Offer("first", models.PriorityDefault))
	require.NoError(t, q.Offer("second", models.PriorityDefault))

	ctx := context.Background()
	got1, _ := q.Take(ctx)
	got2, _ := q.Take(ctx)
	assert.Equal(t, "first", got1)
	assert.Equal(t, "second", got2)
}

func TestTakeOnClosedQueue(t *testing.T) {
	q := New(8)
	q.Close()
	_, err := q.Take(context.Background())
	assert.ErrorIs(t, err, apperr.ErrClosed)
}

func TestOfferAfterClosed(t *testing.T) {
	q := New(8)
	q.Close()
	err := q.Offer("x", models.PriorityHigh)
	assert.ErrorIs(t, err, apperr.ErrClosed)
}

func TestTakeCancelledContext(t *testing.T) {
	q := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Take(ctx)
	assert.ErrorIs(t, err, apperr.ErrCancelled)
}

func TestOfferAfterReoffersLater(t *testing.T) {
	q := New(8)
	q.OfferAfter("retry-me", models.PriorityHigh, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := q.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "retry-me", id)
}

func TestCloseWakesBlockedTake(t *testing.T) {
	q := New(8)
	done := make(chan error, 1)
	go func() {
		_, err := q.Take(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, apperr.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake on Close")
	}
}
