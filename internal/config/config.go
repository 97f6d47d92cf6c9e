package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/makeasinger/panelcast/internal/static"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Redis        RedisConfig
	JWT          JWTConfig
	OIDC         OIDCConfig
	Gateway      GatewayConfig
	RateLimit    RateLimitConfig
	Groq         GroqConfig
	Image        ImageConfig
	Speech       SpeechConfig
	R2           R2Config
	NATS         NATSConfig
	Worker       WorkerConfig
	Pipeline     PipelineConfig
	Retry        RetryConfig
	Placeholders PlaceholderConfig
	Metrics      MetricsConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	ApiDomain string
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// OIDCConfig enables JWKS verification when Issuer is set.
type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	StoriesPerHour int
}

type GroqConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

type ImageConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
	Timeout time.Duration
}

type SpeechConfig struct {
	ServiceURL   string
	DefaultVoice string
	Language     string
	Timeout      time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// WorkerConfig controls the asynq worker server. When Enabled is false jobs
// run on in-process goroutines.
type WorkerConfig struct {
	Enabled     bool
	Concurrency int
	Queue       string
}

type PipelineConfig struct {
	PanelCount          int
	MaxConcurrentPanels int
	Retention           time.Duration
	AbandonGrace        time.Duration
	PendingRoomTTL      time.Duration
	MockLatency         time.Duration
}

// BackoffConfig is the timing part of a retry policy.
type BackoffConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

type RetryConfig struct {
	Script BackoffConfig
	Image  BackoffConfig
	Audio  BackoffConfig
}

type PlaceholderConfig struct {
	ImageURL string
	AudioURL string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		OIDC: OIDCConfig{
			Issuer:   v.GetString("oidc.issuer"),
			ClientID: v.GetString("oidc.client_id"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			StoriesPerHour: v.GetInt("ratelimit.stories_per_hour"),
		},
		Groq: GroqConfig{
			APIKey:      v.GetString("groq.api_key"),
			BaseURL:     v.GetString("groq.base_url"),
			Model:       v.GetString("groq.model"),
			Temperature: v.GetFloat64("groq.temperature"),
			MaxTokens:   v.GetInt("groq.max_tokens"),
		},
		Image: ImageConfig{
			APIKey:  v.GetString("image.api_key"),
			BaseURL: v.GetString("image.base_url"),
			Model:   v.GetString("image.model"),
			Size:    v.GetString("image.size"),
			Timeout: v.GetDuration("image.timeout"),
		},
		Speech: SpeechConfig{
			ServiceURL:   v.GetString("speech.service_url"),
			DefaultVoice: v.GetString("speech.default_voice"),
			Language:     v.GetString("speech.language"),
			Timeout:      v.GetDuration("speech.timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		NATS: NATSConfig{
			URL:           v.GetString("nats.url"),
			SubjectPrefix: v.GetString("nats.subject_prefix"),
		},
		Worker: WorkerConfig{
			Enabled:     v.GetBool("worker.enabled"),
			Concurrency: v.GetInt("worker.concurrency"),
			Queue:       v.GetString("worker.queue"),
		},
		Pipeline: PipelineConfig{
			PanelCount:          v.GetInt("pipeline.panel_count"),
			MaxConcurrentPanels: v.GetInt("pipeline.max_concurrent_panels"),
			Retention:           v.GetDuration("pipeline.retention"),
			AbandonGrace:        v.GetDuration("pipeline.abandon_grace"),
			PendingRoomTTL:      v.GetDuration("pipeline.pending_room_ttl"),
			MockLatency:         v.GetDuration("pipeline.mock_latency"),
		},
		Retry: RetryConfig{
			Script: backoff(v, "retry.script"),
			Image:  backoff(v, "retry.image"),
			Audio:  backoff(v, "retry.audio"),
		},
		Placeholders: PlaceholderConfig{
			ImageURL: v.GetString("placeholders.image_url"),
			AudioURL: v.GetString("placeholders.audio_url"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.PanelCount < 1 {
		return fmt.Errorf("pipeline.panel_count must be at least 1, got %d", c.Pipeline.PanelCount)
	}
	if c.Pipeline.MaxConcurrentPanels < 1 {
		return fmt.Errorf("pipeline.max_concurrent_panels must be at least 1, got %d", c.Pipeline.MaxConcurrentPanels)
	}
	for name, b := range map[string]BackoffConfig{"script": c.Retry.Script, "image": c.Retry.Image, "audio": c.Retry.Audio} {
		if b.MaxAttempts < 1 {
			return fmt.Errorf("retry.%s.max_attempts must be at least 1", name)
		}
		if b.Jitter < 0 || b.Jitter >= 1 {
			return fmt.Errorf("retry.%s.jitter must be in [0, 1), got %v", name, b.Jitter)
		}
		if b.MaxDelay < b.BaseDelay {
			return fmt.Errorf("retry.%s.max_delay is below base_delay", name)
		}
	}
	return nil
}

func backoff(v *viper.Viper, prefix string) BackoffConfig {
	return BackoffConfig{
		MaxAttempts: v.GetInt(prefix + ".max_attempts"),
		BaseDelay:   v.GetDuration(prefix + ".base_delay"),
		MaxDelay:    v.GetDuration(prefix + ".max_delay"),
		Jitter:      v.GetFloat64(prefix + ".jitter"),
	}
}

var envBindings = map[string]string{
	"server.port":                    "SERVER_PORT",
	"server.env":                     "SERVER_ENV",
	"server.api_domain":              "API_DOMAIN",
	"log.level":                      "LOG_LEVEL",
	"log.format":                     "LOG_FORMAT",
	"redis.addr":                     "REDIS_ADDR",
	"redis.password":                 "REDIS_PASSWORD",
	"redis.db":                       "REDIS_DB",
	"jwt.secret":                     "JWT_SECRET",
	"oidc.issuer":                    "OIDC_ISSUER",
	"oidc.client_id":                 "OIDC_CLIENT_ID",
	"gateway.enabled":                "GATEWAY_ENABLED",
	"ratelimit.stories_per_hour":     "RATELIMIT_STORIES_PER_HOUR",
	"groq.api_key":                   "GROQ_API_KEY",
	"groq.base_url":                  "GROQ_BASE_URL",
	"groq.model":                     "GROQ_MODEL",
	"image.api_key":                  "IMAGE_API_KEY",
	"image.base_url":                 "IMAGE_BASE_URL",
	"image.model":                    "IMAGE_MODEL",
	"speech.service_url":             "SPEECH_SERVICE_URL",
	"speech.default_voice":           "SPEECH_DEFAULT_VOICE",
	"r2.account_id":                  "R2_ACCOUNT_ID",
	"r2.access_key_id":               "R2_ACCESS_KEY_ID",
	"r2.secret_access_key":           "R2_SECRET_ACCESS_KEY",
	"r2.bucket_name":                 "R2_BUCKET_NAME",
	"r2.public_url":                  "R2_PUBLIC_URL",
	"nats.url":                       "NATS_URL",
	"worker.enabled":                 "WORKER_ENABLED",
	"worker.concurrency":             "WORKER_CONCURRENCY",
	"pipeline.panel_count":           "PIPELINE_PANEL_COUNT",
	"pipeline.max_concurrent_panels": "PIPELINE_MAX_CONCURRENT_PANELS",
	"pipeline.retention":             "PIPELINE_RETENTION",
	"pipeline.abandon_grace":         "PIPELINE_ABANDON_GRACE",
	"pipeline.mock_latency":          "PIPELINE_MOCK_LATENCY",
	"placeholders.image_url":         "PLACEHOLDER_IMAGE_URL",
	"placeholders.audio_url":         "PLACEHOLDER_AUDIO_URL",
	"metrics.enabled":                "METRICS_ENABLED",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.stories_per_hour", 10)

	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("groq.temperature", 0.8)
	v.SetDefault("groq.max_tokens", 2048)

	v.SetDefault("image.base_url", "https://api.openai.com/v1")
	v.SetDefault("image.model", "gpt-image-1")
	v.SetDefault("image.size", "1024x1024")
	v.SetDefault("image.timeout", 120*time.Second)

	v.SetDefault("speech.service_url", "")
	v.SetDefault("speech.default_voice", "en-US-Neural2-F")
	v.SetDefault("speech.language", "en-US")
	v.SetDefault("speech.timeout", 60*time.Second)

	v.SetDefault("nats.subject_prefix", "panelcast.jobs")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.queue", "stories")

	v.SetDefault("pipeline.panel_count", 6)
	v.SetDefault("pipeline.max_concurrent_panels", 3)
	v.SetDefault("pipeline.retention", time.Hour)
	v.SetDefault("pipeline.abandon_grace", 2*time.Minute)
	v.SetDefault("pipeline.pending_room_ttl", 5*time.Minute)
	v.SetDefault("pipeline.mock_latency", 1500*time.Millisecond)

	v.SetDefault("retry.script.max_attempts", 3)
	v.SetDefault("retry.script.base_delay", 2*time.Second)
	v.SetDefault("retry.script.max_delay", 20*time.Second)
	v.SetDefault("retry.script.jitter", 0.25)

	// Image backends are the most quota sensitive.
	v.SetDefault("retry.image.max_attempts", 3)
	v.SetDefault("retry.image.base_delay", 2*time.Second)
	v.SetDefault("retry.image.max_delay", 60*time.Second)
	v.SetDefault("retry.image.jitter", 0.25)

	v.SetDefault("retry.audio.max_attempts", 3)
	v.SetDefault("retry.audio.base_delay", time.Second)
	v.SetDefault("retry.audio.max_delay", 15*time.Second)
	v.SetDefault("retry.audio.jitter", 0.25)

	v.SetDefault("placeholders.image_url", static.PlaceholderImagePath)
	v.SetDefault("placeholders.audio_url", static.PlaceholderAudioPath)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
