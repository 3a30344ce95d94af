package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/videosynth/internal/artifact"
	"github.com/snappy-loop/videosynth/internal/jobstore"
	"github.com/snappy-loop/videosynth/internal/pipeline"
	"github.com/snappy-loop/videosynth/internal/pushchannel"
	"github.com/snappy-loop/videosynth/internal/queue"
	"github.com/snappy-loop/videosynth/internal/ratelimit"
	"github.com/snappy-loop/videosynth/internal/submission"
)

func newTestHandler(t *testing.T) (*Handler, *jobstore.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := jobstore.New(rdb, time.Hour)
	q := queue.New(8)
	limiter := ratelimit.New(rdb, 10, time.Hour)
	cancel := pipeline.NewCancelRegistry()
	submit := submission.New(store, q, limiter, cancel)
	art := artifact.New(store, t.TempDir())
	push := pushchannel.New()

	return New(submit, nil, art, push), store
}

func router(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func TestCreateJobAccepted(t *testing.T) {
	h, _ := newTestHandler(t)
	body := map[string]interface{}{
		"script_text":    "Hello world. This is a test.",
		"script_id":      "s1",
		"user_id":        "u1",
		"locale":         "en-US",
		"platform":       "youtube_shorts",
		"aspect_ratio":   "9:16",
		"voice_selector": "Zephyr",
		"priority":       5,
	}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submission.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
}

func TestCreateJobValidationError(t *testing.T) {
	h, _ := newTestHandler(t)
	body := map[string]interface{}{
		"script_text": "",
		"user_id":     "u1",
		"platform":    "youtube_shorts",
		"aspect_ratio": "9:16",
	}
	buf, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelAcknowledgesPendingJob(t *testing.T) {
	h, _ := newTestHandler(t)

	body := map[string]interface{}{
		"script_text":    "Hello world. This is a test.",
		"script_id":      "s1",
		"user_id":        "u1",
		"locale":         "en-US",
		"platform":       "youtube_shorts",
		"aspect_ratio":   "9:16",
		"voice_selector": "Zephyr",
		"priority":       5,
	}
	buf, _ := json.Marshal(body)
	createReq := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(buf))
	createRec := httptest.NewRecorder()
	router(h).ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusAccepted, createRec.Code)

	var resp submission.SubmitResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &resp))

	cancelReq := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+resp.JobID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	router(h).ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code)
}

func TestListJobsRequiresUser(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	rec := httptest.NewRecorder()
	router(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
