// Package submission implements the Submission API's business logic
// (C8): validate a request, map priority to a class, rate-limit, create
// a Job, enqueue it. internal/handlers wraps this in HTTP.
//
// Grounded on the teacher's internal/services/jobs.go CreateJob flow
// (quota-check, then create, then hand off) regeneralized from
// quota-then-create-then-enqueue (Kafka) to rate-limit-then-create-
// then-offer (in-process queue); request validation upgraded from the
// teacher's hand-written checks to go-playground/validator struct tags,
// per maauso-infinitetalk-api's handlers.go.
package submission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/jobstore"
	"github.com/snappy-loop/videosynth/internal/models"
	"github.com/snappy-loop/videosynth/internal/pipeline"
	"github.com/snappy-loop/videosynth/internal/queue"
	"github.com/snappy-loop/videosynth/internal/ratelimit"
)

// SubmitRequest is the Submission API's request shape, validated with
// struct tags before anything touches the store.
type SubmitRequest struct {
	ScriptText    string               `json:"script_text" validate:"required"`
	ScriptID      string               `json:"script_id" validate:"required"`
	UserID        string               `json:"user_id" validate:"required"`
	Locale        string               `json:"locale" validate:"required"`
	Platform      string               `json:"platform" validate:"required"`
	AspectRatio   models.AspectRatio   `json:"aspect_ratio" validate:"required,oneof=16:9 9:16 1:1 4:5"`
	VoiceSelector string               `json:"voice_selector" validate:"required"`
	Subtitles     models.SubtitlePolicy `json:"subtitles"`
	SourcePref    models.SourceType    `json:"source_preference"`
	Priority      int                  `json:"priority" validate:"min=1,max=10"`
	Webhook       *models.Webhook      `json:"webhook,omitempty"`
	MaxRetries    int                  `json:"-"`
}

// SubmitResponse is returned on a successful (202) submission.
type SubmitResponse struct {
	JobID                string      `json:"job_id"`
	State                models.State `json:"state"`
	ExpectedDurationHint float64     `json:"expected_duration_hint_seconds"`
}

// ListPage is one page of a user's job statuses.
type ListPage struct {
	Jobs       []*models.Job `json:"jobs"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
}

const defaultMaxRetries = 3

// Service wires the Job Store, Priority Queue, Rate Limiter and
// cancellation registry into the submit/status/list/cancel contract.
type Service struct {
	jobs     *jobstore.Store
	queue    *queue.Queue
	limiter  *ratelimit.Limiter
	cancel   *pipeline.CancelRegistry
	validate *validator.Validate
}

// New builds a Service.
func New(jobs *jobstore.Store, q *queue.Queue, limiter *ratelimit.Limiter, cancel *pipeline.CancelRegistry) *Service {
	return &Service{jobs: jobs, queue: q, limiter: limiter, cancel: cancel, validate: validator.New()}
}

// Submit validates, rate-limits, creates, and enqueues a job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.Priority == 0 {
		req.Priority = 5
	}
	if req.MaxRetries == 0 {
		req.MaxRetries = defaultMaxRetries
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if strings.TrimSpace(req.ScriptText) == "" {
		return nil, fmt.Errorf("%w: script text must be non-empty", apperr.ErrValidation)
	}
	if req.Subtitles.WordsPerLine != 0 && (req.Subtitles.WordsPerLine < 1 || req.Subtitles.WordsPerLine > 10) {
		return nil, fmt.Errorf("%w: words_per_line must be in [1,10]", apperr.ErrValidation)
	}

	preset, ok := models.LookupPlatform(req.Platform)
	if !ok {
		return nil, fmt.Errorf("%w: unknown platform %q", apperr.ErrValidation, req.Platform)
	}
	if preset.AspectRatio != req.AspectRatio {
		return nil, fmt.Errorf("%w: platform %q expects aspect ratio %s, got %s", apperr.ErrValidation, req.Platform, preset.AspectRatio, req.AspectRatio)
	}

	rateLimitToken, err := s.limiter.Allow(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Request: models.Request{
			ScriptText:    req.ScriptText,
			ScriptID:      req.ScriptID,
			Locale:        req.Locale,
			Platform:      req.Platform,
			AspectRatio:   req.AspectRatio,
			VoiceSelector: req.VoiceSelector,
			Subtitles:     req.Subtitles,
			SourcePref:    req.SourcePref,
			Priority:      req.Priority,
			Webhook:       req.Webhook,
		},
		PriorityClass: models.ClassOf(req.Priority),
		MaxRetries:    req.MaxRetries,
		CreatedAt:     time.Now(),
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		if relErr := s.limiter.Release(ctx, req.UserID, rateLimitToken); relErr != nil {
			log.Error().Err(relErr).Str("user_id", req.UserID).Msg("failed to release rate-limit slot after create failure")
		}
		return nil, err
	}

	if err := s.queue.Offer(job.ID, job.PriorityClass); err != nil {
		failure := models.JobFailure{Message: "queue is shutting down"}
		if _, mfErr := s.jobs.MarkFailure(ctx, job.ID, failure, true); mfErr != nil {
			log.Error().Err(mfErr).Str("job_id", job.ID).Msg("failed to record shutdown failure")
		}
		return nil, apperr.ErrShuttingDown
	}

	return &SubmitResponse{
		JobID:                job.ID,
		State:                job.State,
		ExpectedDurationHint: 2 * float64(preset.OptimalDurationSeconds),
	}, nil
}

// Status returns one job's current record.
func (s *Service) Status(ctx context.Context, jobID string) (*models.Job, error) {
	return s.jobs.Get(ctx, jobID)
}

// ListByUser returns one page of user's job statuses, newest first.
func (s *Service) ListByUser(ctx context.Context, user string, page, pageSize int) (*ListPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be >= 1", apperr.ErrValidation)
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, fmt.Errorf("%w: page_size must be in [1,100]", apperr.ErrValidation)
	}

	offset := (page - 1) * pageSize
	jobs, err := s.jobs.ListByUser(ctx, user, pageSize, offset)
	if err != nil {
		return nil, err
	}
	return &ListPage{Jobs: jobs, Page: page, PageSize: pageSize}, nil
}

// Cancel requests cancellation of jobID. Returns apperr.ErrValidation if
// the job is already terminal, apperr.ErrNotFound if unknown.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: cannot cancel a job in terminal state %s", apperr.ErrValidation, job.State)
	}
	s.cancel.Cancel(jobID)
	return nil
}

// Statistics returns job counts grouped by state.
func (s *Service) Statistics(ctx context.Context) (map[models.State]int64, error) {
	return s.jobs.CountsByStatus(ctx)
}
