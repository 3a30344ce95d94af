// Package collaborators defines the Pipeline Driver's external
// collaborator interfaces (segmentation, narration, visual acquisition,
// composition, probing, subtitling) and a default adapter for each,
// grounded on the teacher's internal/llm adapter shape (one small Client
// method per concern, genai/langchaingo as the model backend) and on
// original_source's ffmpeg_compositor.py / subtitle_generator.py for the
// exact semantics a complete implementation needs.
//
// The Pipeline Driver depends only on these interfaces, never on a
// concrete adapter, so a test can swap in a fake without touching ffmpeg
// or a live model endpoint.
package collaborators

import (
	"context"

	"github.com/snappy-loop/videosynth/internal/models"
)

// SceneDraft is a preliminary scene: text plus a word-count-based
// duration estimate, produced before narration/probing overwrite it with
// a measured value.
type SceneDraft struct {
	Index       int
	Text        string
	DurationSec float64
}

// Segmenter splits a script into narration-sized scenes.
type Segmenter interface {
	Segment(ctx context.Context, scriptText string) ([]SceneDraft, error)
}

// TTSProvider synthesizes narration audio for one scene, returning the
// path of the written audio file and its own duration estimate (which
// the driver treats as preliminary until Prober measures the file).
type TTSProvider interface {
	Synthesize(ctx context.Context, text, voice string) (audioPath string, estimatedDurationSec float64, err error)
}

// AssetProvider acquires a background visual (image or short clip) for
// one scene.
type AssetProvider interface {
	Acquire(ctx context.Context, sceneText string, preference models.SourceType) (visualPath string, err error)
}

// Prober measures the true duration of a media file, the authoritative
// value the scene-duration-overwrite invariant requires.
type Prober interface {
	Probe(ctx context.Context, path string) (durationSec float64, err error)
}

// CompositionResult is what Compose produces.
type CompositionResult struct {
	ArtifactPath string
	Format       string
	Resolution   string
}

// Compositor renders the final video from timed scenes.
type Compositor interface {
	Compose(ctx context.Context, scenes []models.Scene, aspectRatio models.AspectRatio, subtitleFilePath string, outputPath string) (CompositionResult, error)
	Thumbnail(ctx context.Context, sourcePath string, outputPath string) error
}

// SubtitleGenerator produces timed caption segments from timed scenes and
// renders them to an on-disk subtitle file the Compositor can burn in.
type SubtitleGenerator interface {
	Generate(ctx context.Context, scenes []models.Scene, policy models.SubtitlePolicy) ([]models.SubtitleSegment, error)
	Render(ctx context.Context, segments []models.SubtitleSegment, policy models.SubtitlePolicy, outputPath string) error
}

// Set bundles one adapter of each kind, the shape the Pipeline Driver is
// constructed with.
type Set struct {
	Segmenter  Segmenter
	TTS        TTSProvider
	Assets     AssetProvider
	Prober     Prober
	Compositor Compositor
	Subtitles  SubtitleGenerator
}
