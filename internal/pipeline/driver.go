// Package pipeline implements the Pipeline Driver (C4): the 8-stage
// sequencer that turns one job into one artifact, driving the job state
// machine and owning all mutation of that job during its attempt.
//
// Grounded on the teacher's internal/processor/job_processor.go: its
// ProcessJob/processJobPipeline shape (idempotent restart, staged
// progress logging, bounded-concurrency per-segment fan-out via a
// semaphore + WaitGroup + mutex-guarded first error) is kept and
// generalized from "one job processed concurrently" to "scenes within
// the Narrate stage processed concurrently, the whole job run serially
// by one worker".
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/collaborators"
	"github.com/snappy-loop/videosynth/internal/jobstore"
	"github.com/snappy-loop/videosynth/internal/models"
	"github.com/snappy-loop/videosynth/internal/pushchannel"
	"github.com/snappy-loop/videosynth/internal/queue"
)

// Step labels, the fixed small set the progress-emission policy reports.
const (
	StepInitialization     = "initialization"
	StepScenePlanning       = "scene_parsing"
	StepAudioGeneration     = "audio_generation"
	StepVideoComposition    = "video_composition"
	StepThumbnailGeneration = "thumbnail_generation"
	StepFinalization        = "finalization"
	StepCompleted           = "completed"
)

// Config holds the driver's fixed knobs.
type Config struct {
	ScratchRoot        string // root of the per-attempt working directories, each removed when Run returns
	ArtifactRoot       string // permanent home for result artifacts, served by the Artifact Accessor
	NarrateConcurrency int
	SoftDeadline       time.Duration
	HardDeadline       time.Duration
	RetryCooldown      time.Duration
}

// Driver sequences one job's attempt from PENDING through a terminal
// state (or back to PENDING for a retry).
type Driver struct {
	jobs     *jobstore.Store
	queue    *queue.Queue
	push     *pushchannel.Hub
	collab   collaborators.Set
	cancel   *CancelRegistry
	cfg      Config
	webhooks WebhookPublisher
}

// WebhookPublisher decouples the driver from the transport that carries
// webhook-delivery events to cmd/dispatcher. Satisfied by
// *webhookbus.Producer; left nil, terminal transitions simply don't
// publish, which keeps tests free of a Kafka dependency.
type WebhookPublisher interface {
	Publish(ctx context.Context, jobID, event, traceID string) error
}

// New builds a Driver.
func New(jobs *jobstore.Store, q *queue.Queue, push *pushchannel.Hub, collab collaborators.Set, cancel *CancelRegistry, cfg Config) *Driver {
	if cfg.NarrateConcurrency < 1 {
		cfg.NarrateConcurrency = 3
	}
	return &Driver{jobs: jobs, queue: q, push: push, collab: collab, cancel: cancel, cfg: cfg}
}

// SetWebhookPublisher wires the optional webhook-delivery event bus.
func (d *Driver) SetWebhookPublisher(p WebhookPublisher) {
	d.webhooks = p
}

// Run drives one attempt of jobID end to end. The caller (Worker Pool)
// is responsible for enforcing the hard deadline via ctx; Run enforces
// the soft deadline itself and treats ctx cancellation (from either) the
// same way: a cooperative abort recorded as TimedOut.
func (d *Driver) Run(ctx context.Context, jobID string) error {
	job, err := d.jobs.MarkStarted(ctx, jobID)
	if err != nil {
		return err
	}
	d.push.EmitStarted(jobID)
	defer d.cancel.Clear(jobID)

	softCtx, cancelSoft := context.WithTimeout(ctx, d.cfg.SoftDeadline)
	defer cancelSoft()

	workDir := filepath.Join(d.cfg.ScratchRoot, jobID)

	result, runErr := d.runStages(softCtx, job, workDir)
	_ = os.RemoveAll(workDir)

	// The outcome is recorded even when ctx itself has expired.
	recordCtx := context.WithoutCancel(ctx)
	switch {
	case runErr == nil:
		return d.finish(recordCtx, jobID, result)
	case errors.Is(runErr, apperr.ErrCancelled):
		if _, err := d.jobs.MarkCancelled(recordCtx, jobID); err != nil {
			return err
		}
		d.push.EmitCancelled(jobID)
		return runErr
	default:
		return d.handleFailure(recordCtx, jobID, runErr)
	}
}

func (d *Driver) finish(ctx context.Context, jobID string, result models.ResultBundle) error {
	if _, err := d.jobs.MarkSuccess(ctx, jobID, result); err != nil {
		return err
	}
	d.push.EmitCompleted(jobID, result)
	d.publishWebhookEvent(jobID, "completed")
	return nil
}

// publishWebhookEvent is best-effort: a down Kafka broker must never fail
// a job that otherwise completed successfully.
func (d *Driver) publishWebhookEvent(jobID, event string) {
	if d.webhooks == nil {
		return
	}
	if err := d.webhooks.Publish(context.Background(), jobID, event, ""); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Str("event", event).Msg("failed to publish webhook delivery event")
	}
}

func (d *Driver) handleFailure(ctx context.Context, jobID string, cause error) error {
	failure := models.JobFailure{Message: cause.Error(), Stage: stageOf(cause)}
	// An invalid script (zero scenes out of segmentation) is never
	// auto-retried: retrying would rerun the same deterministic
	// segmentation over the same script and fail identically, burning the
	// retry budget for nothing.
	forceTerminal := errors.Is(cause, apperr.ErrScriptInvalid)
	job, retried, err := d.jobs.MarkFailure(ctx, jobID, failure, forceTerminal)
	if err != nil {
		return err
	}
	if retried {
		d.queue.OfferAfter(jobID, job.PriorityClass, d.cfg.RetryCooldown)
		log.Info().Str("job_id", jobID).Int("retries", job.Retries).Msg("job failed, scheduled for retry")
		return cause
	}
	d.push.EmitFailed(jobID, failure)
	d.publishWebhookEvent(jobID, "failed")
	return cause
}

func stageOf(err error) string {
	type staged interface{ Stage() string }
	if s, ok := err.(staged); ok {
		return s.Stage()
	}
	return ""
}

// runStages executes stages 1-8 in order, returning the result bundle on
// success.
func (d *Driver) runStages(ctx context.Context, job *models.Job, workDir string) (models.ResultBundle, error) {
	var result models.ResultBundle

	if err := d.checkpoint(ctx, job.ID); err != nil {
		return result, err
	}
	if err := d.stageInitialize(ctx, job, workDir); err != nil {
		return result, err
	}

	scenes, err := d.stageSegment(ctx, job)
	if err != nil {
		return result, err
	}

	if err := d.checkpoint(ctx, job.ID); err != nil {
		return result, err
	}
	if err := d.stageNarrateAndAcquireVisuals(ctx, job, workDir, scenes); err != nil {
		return result, err
	}

	if err := d.checkpoint(ctx, job.ID); err != nil {
		return result, err
	}
	artifactPath, composeResult, err := d.stageCompose(ctx, job, workDir, scenes)
	if err != nil {
		return result, err
	}

	if err := d.checkpoint(ctx, job.ID); err != nil {
		return result, err
	}

	if job.Request.Subtitles.Enabled {
		artifactPath = d.stageSubtitles(ctx, job, workDir, scenes, artifactPath, composeResult.Resolution)
	}

	thumbPath := filepath.Join(workDir, "thumbnail.jpg")
	d.stageThumbnail(ctx, artifactPath, thumbPath)

	return d.stageFinalize(ctx, job, artifactPath, thumbPath, composeResult)
}

// checkpoint is the cancellation/deadline boundary checked before
// Initialize, Narrate, Compose and the post-Compose stages, and before each
// per-scene launch within Narrate. Subtitles handles all scenes in one
// collaborator call and is not checked scene by scene.
func (d *Driver) checkpoint(ctx context.Context, jobID string) error {
	if d.cancel.IsCancelled(jobID) {
		return apperr.ErrCancelled
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: soft deadline exceeded", apperr.ErrTimedOut)
	default:
		return nil
	}
}

func (d *Driver) emitProgress(ctx context.Context, jobID string, progress float64, message, step string) {
	if _, err := d.jobs.MarkProgress(ctx, jobID, progress, message, step); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("failed to persist progress")
	}
	d.push.EmitProgress(jobID, progress, message, step)
}

// stageInitialize creates the job's isolated scratch directory.
func (d *Driver) stageInitialize(ctx context.Context, job *models.Job, workDir string) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return apperr.Wrap(StepInitialization, err)
	}
	d.emitProgress(ctx, job.ID, 0.05, "working directory ready", StepInitialization)
	return nil
}

// stageSegment splits the script into scenes with preliminary durations.
func (d *Driver) stageSegment(ctx context.Context, job *models.Job) ([]models.Scene, error) {
	drafts, err := d.collab.Segmenter.Segment(ctx, job.Request.ScriptText)
	if err != nil {
		return nil, apperr.Wrap(StepScenePlanning, err)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: segmentation produced no scenes", apperr.ErrScriptInvalid)
	}

	scenes := make([]models.Scene, len(drafts))
	for i, dft := range drafts {
		transition := models.TransitionFade
		if i == 0 {
			transition = models.TransitionCut
		}
		scenes[i] = models.Scene{
			Index:       dft.Index,
			Text:        dft.Text,
			DurationSec: dft.DurationSec,
			Transition:  transition,
		}
	}

	d.emitProgress(ctx, job.ID, 0.10, fmt.Sprintf("%d scenes planned", len(scenes)), StepScenePlanning)
	return scenes, nil
}

// stageNarrateAndAcquireVisuals runs the Narrate and Acquire-visuals
// stages together, per scene, with bounded concurrency — the same
// semaphore + WaitGroup + mutex-guarded-first-error shape the teacher
// uses for its per-segment fan-out, generalized from "segment" to
// "scene" and from "per-job" to "per-scene-within-one-job".
func (d *Driver) stageNarrateAndAcquireVisuals(ctx context.Context, job *models.Job, workDir string, scenes []models.Scene) error {
	n := len(scenes)
	sem := make(chan struct{}, d.cfg.NarrateConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	completed := 0

	// wg.Wait must run on every exit path, including an early
	// checkpoint failure: scenes already launched keep writing into
	// workDir, and Run removes workDir the instant runStages returns, so
	// letting them outlive this function races the cleanup and leaks the
	// goroutines.
	defer wg.Wait()

	for i := range scenes {
		if err := d.checkpoint(ctx, job.ID); err != nil {
			return err
		}

		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			sceneErr := d.narrateOneScene(ctx, job, workDir, &scenes[idx])
			if sceneErr == nil {
				sceneErr = d.acquireVisualForScene(ctx, job, workDir, &scenes[idx])
			}

			mu.Lock()
			defer mu.Unlock()
			if sceneErr != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("scene %d: %w", idx, sceneErr)
				}
				return
			}
			completed++
			progress := 0.30 + 0.30*float64(completed)/float64(n)
			d.emitProgress(ctx, job.ID, progress, fmt.Sprintf("narrated %d/%d scenes", completed, n), StepAudioGeneration)
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return apperr.Wrap(StepAudioGeneration, firstErr)
	}
	return nil
}

func (d *Driver) narrateOneScene(ctx context.Context, job *models.Job, workDir string, scene *models.Scene) error {
	audioPath, _, err := d.collab.TTS.Synthesize(ctx, scene.Text, job.Request.VoiceSelector)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrNarrationFailed, err)
	}
	scene.AudioPath = audioPath

	// The scene-duration-overwrite invariant: the measured audio duration
	// always wins over the word-count estimate from the Segment stage.
	measured, err := d.collab.Prober.Probe(ctx, audioPath)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Int("scene", scene.Index).Msg("failed to probe narration duration, keeping estimate")
		return nil
	}
	scene.DurationSec = measured
	return nil
}

// acquireVisualForScene never fails the job: on any error it writes a
// solid-color placeholder instead, per the stage's Non-goal-adjacent
// resilience requirement.
func (d *Driver) acquireVisualForScene(ctx context.Context, job *models.Job, workDir string, scene *models.Scene) error {
	path, err := d.collab.Assets.Acquire(ctx, scene.Text, job.Request.SourcePref)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Int("scene", scene.Index).Msg("visual acquisition failed, writing placeholder")
		placeholder, perr := collaborators.PlaceholderThumbnail()
		if perr != nil {
			return nil
		}
		fallbackPath := filepath.Join(workDir, fmt.Sprintf("scene-%d-placeholder.png", scene.Index))
		if werr := os.WriteFile(fallbackPath, placeholder, 0o644); werr != nil {
			return nil
		}
		scene.VisualPath = fallbackPath
		return nil
	}
	scene.VisualPath = path
	return nil
}

func (d *Driver) stageCompose(ctx context.Context, job *models.Job, workDir string, scenes []models.Scene) (string, collaborators.CompositionResult, error) {
	outputPath := filepath.Join(workDir, "artifact.mp4")
	result, err := d.collab.Compositor.Compose(ctx, scenes, job.Request.AspectRatio, "", outputPath)
	if err != nil {
		return "", result, apperr.Wrap(StepVideoComposition, fmt.Errorf("%w: %v", apperr.ErrCompositionFailed, err))
	}
	d.emitProgress(ctx, job.ID, 0.80, "composition complete", StepVideoComposition)
	return result.ArtifactPath, result, nil
}

// stageSubtitles never fails the job: any error leaves the original
// artifact untouched and is only logged.
func (d *Driver) stageSubtitles(ctx context.Context, job *models.Job, workDir string, scenes []models.Scene, artifactPath, resolution string) string {
	segments, err := d.collab.Subtitles.Generate(ctx, offsetScenesCumulatively(scenes), job.Request.Subtitles)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("subtitle generation failed, keeping artifact without captions")
		return artifactPath
	}

	subtitlePath := filepath.Join(workDir, "subtitles.srt")
	if err := d.collab.Subtitles.Render(ctx, segments, job.Request.Subtitles, subtitlePath); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("subtitle render failed, keeping artifact without captions")
		return artifactPath
	}

	burnedPath := filepath.Join(workDir, "artifact-subtitled.mp4")
	aspect := job.Request.AspectRatio
	if _, err := d.collab.Compositor.Compose(ctx, scenes, aspect, subtitlePath, burnedPath); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("subtitle burn-in failed, keeping artifact without captions")
		return artifactPath
	}

	d.emitProgress(ctx, job.ID, 0.85, "subtitles burned in", StepVideoComposition)
	return burnedPath
}

// offsetScenesCumulatively is a no-op passthrough placeholder: scene
// durations are already cumulative-timeline-ready since Narrate wrote
// measured per-scene durations in order. Kept as a named step so the
// re-offset invariant described by the stage is visible at the call
// site even though the arithmetic lives inside the subtitle collaborator.
func offsetScenesCumulatively(scenes []models.Scene) []models.Scene {
	return scenes
}

func (d *Driver) stageThumbnail(ctx context.Context, artifactPath, thumbPath string) {
	if err := d.collab.Compositor.Thumbnail(ctx, artifactPath, thumbPath); err != nil {
		log.Warn().Err(err).Msg("thumbnail extraction failed, writing placeholder")
		placeholder, perr := collaborators.PlaceholderThumbnail()
		if perr == nil {
			_ = os.WriteFile(thumbPath, placeholder, 0o644)
		}
	}
}

func (d *Driver) stageFinalize(ctx context.Context, job *models.Job, artifactPath, thumbPath string, composeResult collaborators.CompositionResult) (models.ResultBundle, error) {
	d.emitProgress(ctx, job.ID, 0.95, "thumbnail ready", StepThumbnailGeneration)

	duration, err := d.collab.Prober.Probe(ctx, artifactPath)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to probe final artifact duration")
	}

	// The working directory is removed as soon as Run returns, so the
	// result bundle must point into permanent storage, not the scratch
	// path Compose/Thumbnail wrote into.
	permanentDir := filepath.Join(d.cfg.ArtifactRoot, job.ID)
	if err := os.MkdirAll(permanentDir, 0o755); err != nil {
		return models.ResultBundle{}, apperr.Wrap(StepFinalization, err)
	}
	finalArtifactPath := filepath.Join(permanentDir, "artifact"+filepath.Ext(artifactPath))
	if err := moveFile(artifactPath, finalArtifactPath); err != nil {
		return models.ResultBundle{}, apperr.Wrap(StepFinalization, err)
	}
	finalThumbPath := filepath.Join(permanentDir, "thumbnail"+filepath.Ext(thumbPath))
	if err := moveFile(thumbPath, finalThumbPath); err != nil {
		return models.ResultBundle{}, apperr.Wrap(StepFinalization, err)
	}

	info, err := os.Stat(finalArtifactPath)
	var size int64
	if err == nil {
		size = info.Size()
	}

	result := models.ResultBundle{
		ArtifactPath:  finalArtifactPath,
		ThumbnailPath: finalThumbPath,
		DurationSec:   duration,
		FileSizeBytes: size,
		Format:        composeResult.Format,
		Resolution:    composeResult.Resolution,
	}

	d.emitProgress(ctx, job.ID, 1.00, "done", StepCompleted)
	return result, nil
}

// moveFile renames src to dst, falling back to a copy-then-remove when
// they sit on different filesystems (os.Rename's EXDEV case) — scratch
// and artifact roots are independently configurable, so they need not
// share a volume.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
