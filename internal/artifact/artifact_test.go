package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/jobstore"
	"github.com/snappy-loop/videosynth/internal/models"
)

func newTestAccessor(t *testing.T) (*Accessor, *jobstore.Store, string) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := jobstore.New(rdb, time.Hour)
	root := t.TempDir()
	return New(store, root), store, root
}

func TestResolveNotReadyBeforeSuccess(t *testing.T) {
	acc, store, _ := newTestAccessor(t)
	job := &models.Job{ID: "job-1", UserID: "u1", CreatedAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), job))

	_, err := acc.Resolve(context.Background(), "job-1", KindArtifact)
	require.ErrorIs(t, err, apperr.ErrNotReady)
}

func TestResolveGoneWhenFileMissing(t *testing.T) {
	acc, store, root := newTestAccessor(t)
	job := &models.Job{ID: "job-2", UserID: "u1", CreatedAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), job))
	_, err := store.MarkSuccess(context.Background(), "job-2", models.ResultBundle{
		ArtifactPath: filepath.Join(root, "job-2", "artifact.mp4"),
	})
	require.NoError(t, err)

	_, err = acc.Resolve(context.Background(), "job-2", KindArtifact)
	require.ErrorIs(t, err, apperr.ErrGone)
}

func TestResolveReturnsFileInfoOnSuccess(t *testing.T) {
	acc, store, root := newTestAccessor(t)
	job := &models.Job{ID: "job-3", UserID: "u1", CreatedAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), job))

	dir := filepath.Join(root, "job-3")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	artifactPath := filepath.Join(dir, "artifact.mp4")
	require.NoError(t, os.WriteFile(artifactPath, []byte("0123456789"), 0o644))

	_, err := store.MarkSuccess(context.Background(), "job-3", models.ResultBundle{
		ArtifactPath: artifactPath,
	})
	require.NoError(t, err)

	resolved, err := acc.Resolve(context.Background(), "job-3", KindArtifact)
	require.NoError(t, err)
	require.Equal(t, int64(10), resolved.SizeBytes)
	require.Equal(t, "video/mp4", resolved.ContentType)
	require.Equal(t, "job-3.mp4", resolved.Filename)
}
