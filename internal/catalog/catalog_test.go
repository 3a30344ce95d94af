package catalog

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/migrations"
)

// newTestService connects to DATABASE_URL and runs migrations, skipping
// the test entirely when no database is configured — the same pattern
// the teacher's own jobs_test.go uses for its database-backed tests.
func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping catalog integration test")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Run(db))
	return New(db)
}

func TestListPlatformsReturnsSeedTable(t *testing.T) {
	svc := newTestService(t)
	platforms, err := svc.ListPlatforms(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, platforms)

	var found bool
	for _, p := range platforms {
		if p.Code == "youtube_shorts" {
			found = true
			require.EqualValues(t, "9:16", p.AspectRatio)
			require.Equal(t, "1080x1920", p.Resolution)
		}
	}
	require.True(t, found)
}

func TestGetPlatformUnknownCodeIsNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetPlatform(context.Background(), "not-a-real-platform")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListVoicesRejectsOutOfRangeLimit(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ListVoices(context.Background(), VoiceFilter{}, 0)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.ListVoices(context.Background(), VoiceFilter{}, MaxPageSize+1)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListVoicesUnknownFilterYieldsEmptyNotError(t *testing.T) {
	svc := newTestService(t)
	voices, err := svc.ListVoices(context.Background(), VoiceFilter{Locale: "xx-not-a-locale"}, 10)
	require.NoError(t, err)
	require.Empty(t, voices)
}
