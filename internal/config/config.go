// Package config loads process configuration from the environment using
// struct tags, the way maauso-infinitetalk-api's config layer does, rather
// than the hand-rolled getEnv helpers of an earlier generation of services
// in this codebase.
package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds the knobs named by the external-interfaces contract: the
// backing-store endpoint, worker concurrency, job TTL, and collaborator
// adapter credentials.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	DatabaseURL string `env:"DATABASE_URL"`

	KafkaBrokers       []string `env:"KAFKA_BROKERS,default=localhost:9092"`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP,default=videosynth-dispatcher"`
	KafkaTopicWebhooks string   `env:"KAFKA_TOPIC_WEBHOOKS,default=videosynth.webhooks.v1"`

	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=3"`
	JobTTL            time.Duration `env:"JOB_TTL,default=24h"`
	SoftDeadline      time.Duration `env:"SOFT_DEADLINE,default=25m"`
	HardDeadline      time.Duration `env:"HARD_DEADLINE,default=30m"`
	RetryCooldown     time.Duration `env:"RETRY_COOLDOWN,default=60s"`
	DefaultMaxRetries int           `env:"DEFAULT_MAX_RETRIES,default=3"`

	RateLimitPerUserPerHour int `env:"RATE_LIMIT_PER_USER_PER_HOUR,default=10"`

	MaxInputLength int `env:"MAX_INPUT_LENGTH,default=20000"`

	ScratchRoot string `env:"SCRATCH_ROOT,default=./data/scratch"`
	ArtifactRoot string `env:"ARTIFACT_ROOT,default=./data/artifacts"`

	// Adapter credentials for the out-of-scope collaborators. Opaque to the
	// core — only the internal/collaborators adapters interpret them.
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	GeminiTTSModel   string `env:"GEMINI_TTS_MODEL,default=gemini-2.5-pro-preview-tts"`
	GeminiTTSVoice   string `env:"GEMINI_TTS_VOICE,default=Zephyr"`
	GeminiImageModel string `env:"GEMINI_IMAGE_MODEL,default=gemini-2.5-flash-image"`
	FFmpegBinary   string `env:"FFMPEG_BINARY,default=ffmpeg"`
	FFprobeBinary  string `env:"FFPROBE_BINARY,default=ffprobe"`

	WebhookMaxRetries     int           `env:"WEBHOOK_MAX_RETRIES,default=10"`
	WebhookRetryBaseDelay time.Duration `env:"WEBHOOK_RETRY_BASE_DELAY,default=30s"`
	WebhookRetryMaxDelay  time.Duration `env:"WEBHOOK_RETRY_MAX_DELAY,default=24h"`
}

// Load reads Config from the process environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
