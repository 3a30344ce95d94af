// Command dispatcher is the optional, separately-deployable webhook
// delivery-reliability process: it consumes the webhook-delivery event
// bus the Pipeline Driver publishes to and performs the actual signed
// HTTP delivery with retry. Its presence or absence never affects
// cmd/server's single-process guarantees — a job still completes and
// the Job Store still records it even if no dispatcher is running, only
// the external callback is delayed until one comes back up.
//
// Grounded on the teacher's cmd/dispatcher/main.go: the Kafka consumer
// goroutine plus signal.Notify/context.WithCancel/timeout-bounded
// wg.Wait shutdown is kept in shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snappy-loop/videosynth/internal/config"
	"github.com/snappy-loop/videosynth/internal/jobstore"
	"github.com/snappy-loop/videosynth/internal/webhook"
	"github.com/snappy-loop/videosynth/internal/webhookbus"
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

	log.Info().Msg("starting videosynth webhook dispatcher")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	jobs := jobstore.New(rdb, cfg.JobTTL)
	deliverySvc := webhook.New(jobs, rdb, webhook.Config{
		MaxRetries: cfg.WebhookMaxRetries,
		BaseDelay:  cfg.WebhookRetryBaseDelay,
		MaxDelay:   cfg.WebhookRetryMaxDelay,
	})

	consumer := webhookbus.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopicWebhooks, cfg.KafkaConsumerGroup, deliverySvc)
	defer consumer.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("webhook bus consumer stopped with error")
		}
	}()
	go func() {
		defer wg.Done()
		deliverySvc.RunRetryWorker(ctx, 10*time.Second)
	}()

	log.Info().Msg("dispatcher ready, consuming webhook delivery events")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		log.Info().Msg("dispatcher drained cleanly")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("dispatcher drain timed out")
	}

	log.Info().Msg("dispatcher exited")
}
