package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, time.Hour)
}

func newJob(user string) *models.Job {
	return &models.Job{
		ID:            uuid.NewString(),
		UserID:        user,
		Request:       models.Request{ScriptText: "hello world"},
		PriorityClass: models.PriorityDefault,
		MaxRetries:    3,
		CreatedAt:     time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := newJob("alice")
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatePending, got.State)
	require.Equal(t, "alice", got.UserID)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStateTransitionsRepairStatusIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := newJob("bob")
	require.NoError(t, store.Create(ctx, job))

	pending, err := store.ListByStatus(ctx, models.StatePending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = store.MarkStarted(ctx, job.ID)
	require.NoError(t, err)

	pending, err = store.ListByStatus(ctx, models.StatePending, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	started, err := store.ListByStatus(ctx, models.StateStarted, 10)
	require.NoError(t, err)
	require.Len(t, started, 1)

	_, err = store.MarkProgress(ctx, job.ID, 0.5, "composing", "compose")
	require.NoError(t, err)

	processing, err := store.ListByStatus(ctx, models.StateProcessing, 10)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	require.InDelta(t, 0.5, processing[0].Progress, 0.0001)

	result := models.ResultBundle{ArtifactPath: "/artifacts/x.mp4", DurationSec: 12.5}
	_, err = store.MarkSuccess(ctx, job.ID, result)
	require.NoError(t, err)

	success, err := store.ListByStatus(ctx, models.StateSuccess, 10)
	require.NoError(t, err)
	require.Len(t, success, 1)
	require.NotNil(t, success[0].Result)
	require.Equal(t, "/artifacts/x.mp4", success[0].Result.ArtifactPath)

	processing, err = store.ListByStatus(ctx, models.StateProcessing, 10)
	require.NoError(t, err)
	require.Empty(t, processing)
}

func TestMarkFailureRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := newJob("carol")
	job.MaxRetries = 1
	require.NoError(t, store.Create(ctx, job))

	updated, retried, err := store.MarkFailure(ctx, job.ID, models.JobFailure{Message: "tts timeout", Stage: "narrate"}, false)
	require.NoError(t, err)
	require.True(t, retried)
	require.Equal(t, models.StatePending, updated.State)
	require.Equal(t, 1, updated.Retries)
	require.Nil(t, updated.Error)

	updated, retried, err = store.MarkFailure(ctx, job.ID, models.JobFailure{Message: "tts timeout again", Stage: "narrate"}, false)
	require.NoError(t, err)
	require.False(t, retried)
	require.Equal(t, models.StateFailure, updated.State)
	require.NotNil(t, updated.Error)
	require.Equal(t, "tts timeout again", updated.Error.Message)
}

func TestMarkFailureForceTerminalSkipsRetryRegardlessOfBudget(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := newJob("dave")
	job.MaxRetries = 3
	require.NoError(t, store.Create(ctx, job))

	updated, retried, err := store.MarkFailure(ctx, job.ID, models.JobFailure{Message: "script invalid", Stage: "scene_parsing"}, true)
	require.NoError(t, err)
	require.False(t, retried)
	require.Equal(t, models.StateFailure, updated.State)
	require.Equal(t, 0, updated.Retries)
}

func TestMarkCancelledIsIdempotentOnTerminal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := newJob("dave")
	require.NoError(t, store.Create(ctx, job))
	_, err := store.MarkSuccess(ctx, job.ID, models.ResultBundle{})
	require.NoError(t, err)

	got, err := store.MarkCancelled(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateSuccess, got.State)
}

func TestListByUserOrderedNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now()
	for i, delta := range []time.Duration{0, time.Minute, 2 * time.Minute} {
		job := newJob("erin")
		job.ID = uuid.NewString()
		job.CreatedAt = base.Add(delta)
		require.NoError(t, store.Create(ctx, job))
		_ = i
	}

	jobs, err := store.ListByUser(ctx, "erin", 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	require.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))
	require.True(t, jobs[1].CreatedAt.After(jobs[2].CreatedAt))
}

func TestDeleteRemovesFromAllIndexes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := newJob("frank")
	require.NoError(t, store.Create(ctx, job))

	ok, err := store.Delete(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.Get(ctx, job.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	jobs, err := store.ListByUser(ctx, "frank", 10, 0)
	require.NoError(t, err)
	require.Empty(t, jobs)

	pending, err := store.ListByStatus(ctx, models.StatePending, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestCountsByStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	j1 := newJob("gina")
	require.NoError(t, store.Create(ctx, j1))
	j2 := newJob("gina")
	require.NoError(t, store.Create(ctx, j2))
	_, err := store.MarkSuccess(ctx, j2.ID, models.ResultBundle{})
	require.NoError(t, err)

	counts, err := store.CountsByStatus(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, counts[models.StatePending])
	require.EqualValues(t, 1, counts[models.StateSuccess])
}

func TestEvictOlderThan(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := newJob("hank")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Create(ctx, old))
	_, err := store.MarkSuccess(ctx, old.ID, models.ResultBundle{})
	require.NoError(t, err)

	fresh := newJob("hank")
	require.NoError(t, store.Create(ctx, fresh))
	_, err = store.MarkSuccess(ctx, fresh.ID, models.ResultBundle{})
	require.NoError(t, err)

	evicted, err := store.EvictOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, evicted)

	_, err = store.Get(ctx, old.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestHealthy(t *testing.T) {
	store := newTestStore(t)
	require.True(t, store.Healthy(context.Background()))
}
