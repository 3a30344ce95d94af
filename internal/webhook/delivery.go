// Package webhook delivers a signed HTTP notification of a job's terminal
// state to the URL the submitter supplied, with retry on transient
// failure.
//
// Grounded on the teacher's internal/webhook/delivery.go: the
// DeliveryError.IsRetryable split (5xx and 429 retry, other 4xx don't),
// the HMAC-SHA256 request signature, and the RetryWorker's exponential
// backoff are kept verbatim in shape. The teacher persists delivery rows
// in Postgres via a WebhookDeliveryRepository; since this repository's
// durable store is Redis (C1's Job Store), delivery bookkeeping moves to
// a small Redis-backed record next to it rather than a second database.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/snappy-loop/videosynth/internal/jobstore"
	"github.com/snappy-loop/videosynth/internal/models"
	"github.com/snappy-loop/videosynth/internal/webhookbus"
)

// Payload is the body delivered to the caller's webhook URL.
type Payload struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	CompletedAt time.Time  `json:"completed_at"`
	Result      *payloadResult `json:"result,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
}

type payloadResult struct {
	ArtifactPath string  `json:"artifact_path"`
	DurationSec  float64 `json:"duration_seconds"`
}

// ErrorInfo mirrors models.JobFailure in the delivered payload.
type ErrorInfo struct {
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// DeliveryError wraps a non-2xx webhook response with its status code so
// retry policy can inspect it.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook endpoint returned status %d", e.StatusCode)
}

// IsRetryable reports whether this failure is worth retrying: 5xx and
// 429 are, other 4xx client errors are not.
func (e *DeliveryError) IsRetryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if e.StatusCode >= 500 && e.StatusCode < 600 {
		return true
	}
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return false
	}
	return true
}

// Config holds the retry worker's fixed knobs.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Service delivers webhooks and retries failed deliveries in the
// background.
type Service struct {
	jobs       *jobstore.Store
	records    *recordStore
	httpClient *http.Client
	cfg        Config
}

// New builds a Service. rdb backs the delivery-record bookkeeping the
// RetryWorker consults.
func New(jobs *jobstore.Store, rdb redis.UniversalClient, cfg Config) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 30 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 24 * time.Hour
	}
	return &Service{
		jobs:       jobs,
		records:    newRecordStore(rdb),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cfg:        cfg,
	}
}

// HandleDeliveryEvent implements webhookbus.Handler: cmd/dispatcher wires
// this as the consumer's handler. Makes one immediate delivery attempt;
// on transient failure the event is left pending for the RetryWorker.
func (s *Service) HandleDeliveryEvent(ctx context.Context, event *webhookbus.DeliveryEvent) error {
	job, err := s.jobs.Get(ctx, event.JobID)
	if err != nil {
		return fmt.Errorf("load job for delivery: %w", err)
	}
	if job.Request.Webhook == nil || job.Request.Webhook.URL == "" {
		return nil
	}

	payload := buildPayload(job)
	record, err := s.records.getOrCreate(ctx, job.ID, job.Request.Webhook.URL)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("webhook: failed to create delivery record")
	}

	record.Attempts = 1
	now := time.Now()
	record.LastAttemptAt = &now

	secret := ""
	if job.Request.Webhook.Secret != nil {
		secret = *job.Request.Webhook.Secret
	}

	deliverErr := s.send(ctx, job.Request.Webhook.URL, payload, secret)
	if deliverErr == nil {
		record.Status = statusSent
		_ = s.records.save(ctx, record)
		log.Info().Str("job_id", job.ID).Str("url", job.Request.Webhook.URL).Msg("webhook delivered on first attempt")
		return nil
	}

	msg := deliverErr.Error()
	record.LastError = &msg

	var delErr *DeliveryError
	if errors.As(deliverErr, &delErr) && !delErr.IsRetryable() {
		record.Status = statusFailed
		_ = s.records.save(ctx, record)
		log.Error().Err(deliverErr).Str("job_id", job.ID).Msg("webhook delivery failed permanently, not retrying")
		return nil
	}

	record.Status = statusPending
	_ = s.records.save(ctx, record)
	log.Warn().Err(deliverErr).Str("job_id", job.ID).Msg("webhook delivery failed, scheduled for retry")
	return nil
}

// RunRetryWorker polls pending deliveries on interval until ctx is
// cancelled, redelivering any whose exponential backoff has elapsed.
func (s *Service) RunRetryWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Msg("webhook retry worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("webhook retry worker stopping")
			return
		case <-ticker.C:
			s.retryPending(ctx)
		}
	}
}

func (s *Service) retryPending(ctx context.Context) {
	records, err := s.records.listPending(ctx, 100)
	if err != nil {
		log.Error().Err(err).Msg("webhook: failed to list pending deliveries")
		return
	}
	for _, record := range records {
		if !s.shouldRetry(ctx, record) {
			continue
		}
		job, err := s.jobs.Get(ctx, record.JobID)
		if err != nil {
			log.Error().Err(err).Str("job_id", record.JobID).Msg("webhook: failed to load job for retry")
			continue
		}
		s.retryOne(ctx, job, record)
	}
}

func (s *Service) shouldRetry(ctx context.Context, record *deliveryRecord) bool {
	if record.Attempts >= s.cfg.MaxRetries {
		record.Status = statusFailed
		_ = s.records.save(ctx, record)
		log.Error().Str("job_id", record.JobID).Int("attempts", record.Attempts).Msg("webhook delivery failed permanently after max retries")
		return false
	}
	if record.LastAttemptAt == nil {
		return true
	}
	backoff := s.cfg.BaseDelay * time.Duration(1<<uint(record.Attempts-1))
	if backoff > s.cfg.MaxDelay {
		backoff = s.cfg.MaxDelay
	}
	return time.Now().After(record.LastAttemptAt.Add(backoff))
}

func (s *Service) retryOne(ctx context.Context, job *models.Job, record *deliveryRecord) {
	record.Attempts++
	now := time.Now()
	record.LastAttemptAt = &now

	secret := ""
	if job.Request.Webhook != nil && job.Request.Webhook.Secret != nil {
		secret = *job.Request.Webhook.Secret
	}

	err := s.send(ctx, record.URL, buildPayload(job), secret)
	if err == nil {
		record.Status = statusSent
		_ = s.records.save(ctx, record)
		log.Info().Str("job_id", job.ID).Int("attempts", record.Attempts).Msg("webhook delivered after retry")
		return
	}

	msg := err.Error()
	record.LastError = &msg

	var delErr *DeliveryError
	if errors.As(err, &delErr) && !delErr.IsRetryable() {
		record.Status = statusFailed
		log.Error().Err(err).Str("job_id", job.ID).Msg("webhook delivery failed permanently on retry")
	}
	_ = s.records.save(ctx, record)
}

func (s *Service) send(ctx context.Context, url string, payload Payload, secret string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "videosynth-webhook/1.0")
	req.Header.Set("X-Videosynth-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	if secret != "" {
		req.Header.Set("X-Videosynth-Signature", sign(body, secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func buildPayload(job *models.Job) Payload {
	p := Payload{
		JobID:  job.ID,
		Status: string(job.State),
	}
	if job.CompletedAt != nil {
		p.CompletedAt = *job.CompletedAt
	} else {
		p.CompletedAt = time.Now()
	}
	if job.Result != nil {
		p.Result = &payloadResult{ArtifactPath: job.Result.ArtifactPath, DurationSec: job.Result.DurationSec}
	}
	if job.Error != nil {
		p.Error = &ErrorInfo{Message: job.Error.Message, Stage: job.Error.Stage}
	}
	return p
}
