package submission

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/jobstore"
	"github.com/snappy-loop/videosynth/internal/models"
	"github.com/snappy-loop/videosynth/internal/pipeline"
	"github.com/snappy-loop/videosynth/internal/queue"
	"github.com/snappy-loop/videosynth/internal/ratelimit"
)

func newTestService(t *testing.T, rateLimit int) (*Service, *jobstore.Store, *queue.Queue) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := jobstore.New(rdb, time.Hour)
	q := queue.New(16)
	limiter := ratelimit.New(rdb, rateLimit, time.Hour)
	cancel := pipeline.NewCancelRegistry()
	return New(store, q, limiter, cancel), store, q
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		ScriptText:    "Hello world. This is a test.",
		ScriptID:      "s1",
		UserID:        "u1",
		Locale:        "en-US",
		Platform:      "youtube_shorts",
		AspectRatio:   models.Aspect9x16,
		VoiceSelector: "Zephyr",
		Priority:      5,
	}
}

func TestSubmitHappyPathEnqueues(t *testing.T) {
	svc, _, q := newTestService(t, 10)
	resp, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, models.StatePending, resp.State)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	jobID, takeErr := q.Take(ctx)
	require.NoError(t, takeErr)
	require.Equal(t, resp.JobID, jobID)
}

func TestSubmitEmptyScriptIsValidationError(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	req := validRequest()
	req.ScriptText = "   "
	_, err := svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSubmitUnknownPlatformIsValidationError(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	req := validRequest()
	req.Platform = "not-a-real-platform"
	_, err := svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSubmitPlatformAspectMismatchIsValidationError(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	req := validRequest()
	req.AspectRatio = models.Aspect16x9 // youtube_shorts expects 9:16
	_, err := svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSubmitRejectsEleventhJobInRollingHour(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	for i := 0; i < 10; i++ {
		_, err := svc.Submit(context.Background(), validRequest())
		require.NoError(t, err)
	}
	_, err := svc.Submit(context.Background(), validRequest())
	require.ErrorIs(t, err, apperr.ErrRateLimited)
}

func TestCancelOnTerminalJobIsValidationError(t *testing.T) {
	svc, store, _ := newTestService(t, 10)
	resp, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = store.MarkSuccess(context.Background(), resp.JobID, models.ResultBundle{})
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), resp.JobID)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCancelUnknownJobIsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	err := svc.Cancel(context.Background(), "no-such-job")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListByUserRejectsOversizedPage(t *testing.T) {
	svc, _, _ := newTestService(t, 10)
	_, err := svc.ListByUser(context.Background(), "u1", 1, 101)
	require.ErrorIs(t, err, apperr.ErrValidation)
}
