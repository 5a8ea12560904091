package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime settings. Every value can be overridden through
// the MENULENS_* environment variables; defaults match the tuning the
// upstream endpoints were profiled against.
type Config struct {
	Server   ServerConfig   `envPrefix:"MENULENS_SERVER_"`
	Describe DescribeConfig `envPrefix:"MENULENS_DESCRIBE_"`
	Images   ImagesConfig   `envPrefix:"MENULENS_IMAGES_"`
	Jobs     JobsConfig     `envPrefix:"MENULENS_JOBS_"`
	Client   ClientConfig   `envPrefix:"MENULENS_CLIENT_"`
	Log      LogConfig      `envPrefix:"MENULENS_LOG_"`
}

type ServerConfig struct {
	Port int `env:"PORT" envDefault:"3001"`
	// MaxImageBytes bounds the base64-encoded image payload accepted by the
	// analyze endpoint.
	MaxImageBytes int64 `env:"MAX_IMAGE_BYTES" envDefault:"184320"`
}

// DescribeConfig tunes the vision extraction upstream. The first attempt gets
// a long timeout to absorb cold-start latency; retries use a shorter one.
type DescribeConfig struct {
	APIURL         string        `env:"API_URL" envDefault:"https://integrate.api.nvidia.com/v1/chat/completions"`
	Model          string        `env:"MODEL" envDefault:"meta/llama-4-scout-17b-16e-instruct"`
	APIToken       string        `env:"API_TOKEN"`
	InitialTimeout time.Duration `env:"INITIAL_TIMEOUT" envDefault:"180s"`
	RetryTimeout   time.Duration `env:"RETRY_TIMEOUT" envDefault:"120s"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"2"`
	BackoffBase    time.Duration `env:"BACKOFF_BASE" envDefault:"2s"`
}

// ImagesConfig tunes the per-item image generation upstream.
type ImagesConfig struct {
	APIURL  string        `env:"API_URL" envDefault:"https://ai.api.nvidia.com/v1/genai/stabilityai/stable-diffusion-3-medium"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"60s"`
	// MaxItems caps how many items a single job will generate images for.
	// Generation is sequential and expensive; larger menus are skipped whole.
	MaxItems int `env:"MAX_ITEMS" envDefault:"5"`
}

type JobsConfig struct {
	// EvictionTTL is how long a job's item state stays queryable after creation.
	EvictionTTL time.Duration `env:"EVICTION_TTL" envDefault:"10m"`
}

// ClientConfig tunes the polling client used by the analyze CLI command.
type ClientConfig struct {
	BaseURL       string        `env:"BASE_URL" envDefault:"http://127.0.0.1:3001"`
	SubmitTimeout time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"180s"`
	HealthTimeout time.Duration `env:"HEALTH_TIMEOUT" envDefault:"5s"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	PollTimeout   time.Duration `env:"POLL_TIMEOUT" envDefault:"5s"`
	PollBudget    time.Duration `env:"POLL_BUDGET" envDefault:"120s"`
	RetryDelay    time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
	// StaleAfter is how old the last successful upstream call may be before
	// an unhealthy probe triggers the advisory connection reset.
	StaleAfter     time.Duration `env:"STALE_AFTER" envDefault:"2m"`
	ResetWhenStale bool          `env:"RESET_WHEN_STALE" envDefault:"true"`
}

type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
