// Command server runs the single-process cluster: the HTTP submission
// API, the push channel, the in-process priority queue, the worker pool
// and pipeline driver, the rate limiter, the Postgres-backed catalog
// service and the artifact accessor all resident in one binary, exactly
// as SPEC_FULL.md's repository-identity expansion describes it.
//
// Grounded on the teacher's cmd/api/main.go and cmd/worker/main.go:
// zerolog console-writer setup, config.Load, signal.Notify/
// context.WithCancel graceful shutdown, and a timeout-bounded wg.Wait
// drain are kept in shape from both, merged into one process since this
// repository's worker pool lives in-process rather than behind Kafka.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/snappy-loop/videosynth/internal/artifact"
	"github.com/snappy-loop/videosynth/internal/catalog"
	"github.com/snappy-loop/videosynth/internal/collaborators"
	"github.com/snappy-loop/videosynth/internal/config"
	"github.com/snappy-loop/videosynth/internal/handlers"
	"github.com/snappy-loop/videosynth/internal/jobstore"
	"github.com/snappy-loop/videosynth/internal/models"
	"github.com/snappy-loop/videosynth/internal/pipeline"
	"github.com/snappy-loop/videosynth/internal/pushchannel"
	"github.com/snappy-loop/videosynth/internal/queue"
	"github.com/snappy-loop/videosynth/internal/ratelimit"
	"github.com/snappy-loop/videosynth/internal/submission"
	"github.com/snappy-loop/videosynth/internal/webhookbus"
	"github.com/snappy-loop/videosynth/internal/worker"
	"github.com/snappy-loop/videosynth/migrations"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("starting videosynth server")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	var catalogSvc *catalog.Service
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open catalog database")
		}
		defer db.Close()
		if err := migrations.Run(db); err != nil {
			log.Fatal().Err(err).Msg("failed to run catalog migrations")
		}
		catalogSvc = catalog.New(db)
	} else {
		log.Warn().Msg("DATABASE_URL not set, catalog endpoints will be unavailable")
	}

	jobs := jobstore.New(rdb, cfg.JobTTL)
	q := queue.New(4096)
	limiter := ratelimit.New(rdb, cfg.RateLimitPerUserPerHour, time.Hour)
	cancelRegistry := pipeline.NewCancelRegistry()
	push := pushchannel.New()

	var genaiClient *genai.Client
	if cfg.GeminiAPIKey != "" {
		genaiClient, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.GeminiAPIKey})
		if err != nil {
			log.Error().Err(err).Msg("failed to init genai client, collaborators fall back to local stand-ins")
			genaiClient = nil
		}
	}

	collab := collaborators.Set{
		Segmenter:  collaborators.NewRuleBasedSegmenter(400),
		TTS:        collaborators.NewGenaiNarrator(genaiClient, cfg.GeminiTTSModel, cfg.ScratchRoot),
		Assets:     collaborators.NewGenaiVisualProvider(genaiClient, cfg.GeminiImageModel, cfg.ScratchRoot),
		Prober:     collaborators.NewFFprobe(cfg.FFprobeBinary),
		Compositor: collaborators.NewFFmpegCompositor(cfg.FFmpegBinary, cfg.FFprobeBinary, collaborators.DefaultCompositionConfig()),
		Subtitles:  collaborators.NewWordGroupSubtitleGenerator(),
	}

	driverCfg := pipeline.Config{
		ScratchRoot:        cfg.ScratchRoot,
		ArtifactRoot:       cfg.ArtifactRoot,
		NarrateConcurrency: 3,
		SoftDeadline:       cfg.SoftDeadline,
		HardDeadline:       cfg.HardDeadline,
		RetryCooldown:      cfg.RetryCooldown,
	}
	driver := pipeline.New(jobs, q, push, collab, cancelRegistry, driverCfg)

	if len(cfg.KafkaBrokers) > 0 {
		producer := webhookbus.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicWebhooks)
		defer producer.Close()
		driver.SetWebhookPublisher(producer)
	}

	if err := recoverPendingJobs(ctx, jobs, q); err != nil {
		log.Error().Err(err).Msg("recovery scan failed")
	}

	pool := worker.New(q, driver, cfg.WorkerConcurrency, cfg.HardDeadline, 30*time.Second)

	submit := submission.New(jobs, q, limiter, cancelRegistry)
	artifactAccessor := artifact.New(jobs, cfg.ArtifactRoot)
	handler := handlers.New(submit, catalogSvc, artifactAccessor, push)

	router := mux.NewRouter()
	handler.Register(router)
	router.HandleFunc("/health", healthHandler(jobs)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	q.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		log.Info().Msg("worker pool drained")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("worker pool drain timed out")
	}

	log.Info().Msg("videosynth server exited")
}

// recoverPendingJobs implements §4.2's restart invariant: jobs still
// PENDING in the Job Store when the process last exited are re-offered
// to the queue oldest first. STARTED jobs are left alone — see
// SPEC_FULL.md's Open Question #1 decision — since a crash mid-attempt
// is indistinguishable from a worker that is still, in fact, alive.
func recoverPendingJobs(ctx context.Context, jobs *jobstore.Store, q *queue.Queue) error {
	pending, err := jobs.ListByStatus(ctx, models.StatePending, 10000)
	if err != nil {
		return err
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	for _, job := range pending {
		if err := q.Offer(job.ID, job.PriorityClass); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("failed to re-offer recovered job")
			continue
		}
		log.Info().Str("job_id", job.ID).Msg("recovered pending job re-offered to queue")
	}
	return nil
}

func healthHandler(jobs *jobstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !jobs.Healthy(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
