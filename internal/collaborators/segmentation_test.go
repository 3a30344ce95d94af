package collaborators

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleBasedSegmenterSplitsLongText(t *testing.T) {
	seg := NewRuleBasedSegmenter(40)
	text := strings.Repeat("This is a sentence about widgets. ", 20)

	scenes, err := seg.Segment(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(scenes), 1)
	for i, sc := range scenes {
		assert.Equal(t, i, sc.Index)
		assert.Greater(t, sc.DurationSec, 0.0)
	}
}

func TestRuleBasedSegmenterEmptyText(t *testing.T) {
	seg := NewRuleBasedSegmenter(40)
	scenes, err := seg.Segment(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, scenes)
}

func TestRuleBasedSegmenterShortTextSingleScene(t *testing.T) {
	seg := NewRuleBasedSegmenter(1000)
	scenes, err := seg.Segment(context.Background(), "A short narration line.")
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "A short narration line.", scenes[0].Text)
}

func TestEstimateDurationScalesWithWordCount(t *testing.T) {
	short := estimateDuration("one two three")
	long := estimateDuration(strings.Repeat("word ", 60))
	assert.Greater(t, long, short)
}
