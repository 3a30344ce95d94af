package collaborators

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// WordsPerMinute is the narration pace original_source's video_processor.py
// uses to turn a scene's word count into a preliminary duration, before
// the measured narration audio overwrites it.
const WordsPerMinute = 120

// RuleBasedSegmenter splits script text into scenes along paragraph and
// sentence boundaries, using langchaingo's recursive character splitter
// rather than a model call — segmentation here is structural, not
// generative, so no LLM round-trip is warranted.
type RuleBasedSegmenter struct {
	splitter textsplitter.RecursiveCharacter
}

// NewRuleBasedSegmenter builds a segmenter targeting scenes of roughly
// targetChars characters (280 when targetChars is not positive); a script
// shorter than that comes back as a single scene.
func NewRuleBasedSegmenter(targetChars int) *RuleBasedSegmenter {
	if targetChars <= 0 {
		targetChars = 280
	}
	return &RuleBasedSegmenter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(targetChars),
			textsplitter.WithChunkOverlap(0),
			textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", "! ", "? ", " "}),
		),
	}
}

// Segment implements Segmenter.
func (s *RuleBasedSegmenter) Segment(ctx context.Context, scriptText string) ([]SceneDraft, error) {
	text := strings.TrimSpace(scriptText)
	if text == "" {
		return nil, nil
	}

	chunks, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	scenes := make([]SceneDraft, 0, len(chunks))
	for i, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		scenes = append(scenes, SceneDraft{
			Index:       len(scenes),
			Text:        chunk,
			DurationSec: estimateDuration(chunk),
		})
		_ = i
	}
	if len(scenes) == 0 {
		scenes = append(scenes, SceneDraft{Index: 0, Text: text, DurationSec: estimateDuration(text)})
	}
	return scenes, nil
}

func estimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 1.0
	}
	return float64(words) / float64(WordsPerMinute) * 60.0
}
