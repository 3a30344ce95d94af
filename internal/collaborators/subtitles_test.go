package collaborators

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/videosynth/internal/models"
)

func TestGenerateSkippedWhenDisabled(t *testing.T) {
	gen := NewWordGroupSubtitleGenerator()
	segments, err := gen.Generate(context.Background(), []models.Scene{{Text: "hello there", DurationSec: 2}}, models.SubtitlePolicy{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, segments)
}

func TestGenerateGroupsWordsAcrossDuration(t *testing.T) {
	gen := NewWordGroupSubtitleGenerator()
	scenes := []models.Scene{{Text: "one two three four five six seven eight nine ten", DurationSec: 10}}
	policy := models.SubtitlePolicy{Enabled: true, WordsPerLine: 5}

	segments, err := gen.Generate(context.Background(), scenes, policy)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "one two three four five", segments[0].Text)
	assert.Equal(t, "six seven eight nine ten", segments[1].Text)
	assert.InDelta(t, 0, segments[0].StartSec, 0.001)
	assert.InDelta(t, 5, segments[0].EndSec, 0.001)
	assert.InDelta(t, 10, segments[1].EndSec, 0.001)
}

func TestRenderWritesSRT(t *testing.T) {
	gen := NewWordGroupSubtitleGenerator()
	segments := []models.SubtitleSegment{
		{Text: "hello world", StartSec: 0, EndSec: 1.5},
	}
	out := filepath.Join(t.TempDir(), "out.srt")
	require.NoError(t, gen.Render(context.Background(), segments, models.SubtitlePolicy{}, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "1\n")
	assert.Contains(t, content, "00:00:00,000 --> 00:00:01,500")
	assert.Contains(t, content, "hello world")
}

func TestSRTTimestampFormatting(t *testing.T) {
	assert.Equal(t, "00:00:00,000", srtTimestamp(0))
	assert.Equal(t, "00:01:05,250", srtTimestamp(65.25))
	assert.Equal(t, "01:00:00,000", srtTimestamp(3600))
}
