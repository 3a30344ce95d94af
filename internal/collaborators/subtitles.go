package collaborators

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/snappy-loop/videosynth/internal/models"
)

// WordGroupSubtitleGenerator groups each scene's words into fixed-size
// lines spread evenly across the scene's measured duration, and renders
// them as an SRT file — the simplest of original_source's
// SubtitleGenerator's supported formats, and the one ffmpeg's `subtitles`
// filter reads directly without an ASS style block.
type WordGroupSubtitleGenerator struct{}

// NewWordGroupSubtitleGenerator builds the default subtitle generator.
func NewWordGroupSubtitleGenerator() *WordGroupSubtitleGenerator {
	return &WordGroupSubtitleGenerator{}
}

// Generate implements SubtitleGenerator.
func (g *WordGroupSubtitleGenerator) Generate(ctx context.Context, scenes []models.Scene, policy models.SubtitlePolicy) ([]models.SubtitleSegment, error) {
	if !policy.Enabled {
		return nil, nil
	}
	wordsPerLine := policy.WordsPerLine
	if wordsPerLine <= 0 {
		wordsPerLine = 7
	}

	var segments []models.SubtitleSegment
	cursor := 0.0
	for _, sc := range scenes {
		words := strings.Fields(sc.Text)
		if len(words) == 0 {
			cursor += sc.DurationSec
			continue
		}
		lines := groupWords(words, wordsPerLine)
		perLine := sc.DurationSec / float64(len(lines))
		for _, line := range lines {
			segments = append(segments, models.SubtitleSegment{
				Text:     line,
				StartSec: cursor,
				EndSec:   cursor + perLine,
			})
			cursor += perLine
		}
	}
	return segments, nil
}

func groupWords(words []string, perLine int) []string {
	lines := make([]string, 0, len(words)/perLine+1)
	for i := 0; i < len(words); i += perLine {
		end := i + perLine
		if end > len(words) {
			end = len(words)
		}
		lines = append(lines, strings.Join(words[i:end], " "))
	}
	return lines
}

// Render implements SubtitleGenerator, writing SRT (SubRip) format.
func (g *WordGroupSubtitleGenerator) Render(ctx context.Context, segments []models.SubtitleSegment, policy models.SubtitlePolicy, outputPath string) error {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n", i+1, srtTimestamp(seg.StartSec), srtTimestamp(seg.EndSec))
		if policy.Style == models.SubtitleWordHighlight || policy.Style == models.SubtitleKaraoke {
			b.WriteString(strings.ToUpper(seg.Text))
		} else {
			b.WriteString(seg.Text)
		}
		b.WriteString("\n\n")
	}
	return os.WriteFile(outputPath, []byte(b.String()), 0o644)
}

func srtTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	totalMs := int64(sec * 1000)
	hours := totalMs / 3_600_000
	totalMs -= hours * 3_600_000
	minutes := totalMs / 60_000
	totalMs -= minutes * 60_000
	seconds := totalMs / 1000
	millis := totalMs - seconds*1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}
