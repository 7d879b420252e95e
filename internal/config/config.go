package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Port     string `env:"PORT" envDefault:"8080"`

	StaticDir         string        `env:"STATIC_DIR"`
	UploadsDir        string        `env:"UPLOADS_DIR" envDefault:"./uploads"`
	UploadGracePeriod time.Duration `env:"UPLOAD_GRACE_PERIOD" envDefault:"1m"`
	OutboundProxyURL  string        `env:"OUTBOUND_PROXY_URL"`
	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	JWTSecret         string        `env:"JWT_SECRET"`

	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"5m"`
	JanitorInterval    time.Duration `env:"JANITOR_INTERVAL" envDefault:"1m"`
	STTMock            bool          `env:"STT_MOCK" envDefault:"false"`

	GroqBaseURL           string        `env:"GROQ_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	GroqDefaultModel      string        `env:"GROQ_DEFAULT_MODEL" envDefault:"whisper-large-v3"`
	GroqMinSubmitInterval time.Duration `env:"GROQ_MIN_SUBMIT_INTERVAL" envDefault:"2s"`

	GoogleDefaultProject   string `env:"GOOGLE_DEFAULT_PROJECT" envDefault:"speech-to-text-proxy"`
	GoogleDefaultRegion    string `env:"GOOGLE_DEFAULT_REGION" envDefault:"us-central1"`
	GoogleV2StreamingModel string `env:"GOOGLE_V2_STREAMING_MODEL" envDefault:"long"`
	GoogleV2BatchModel     string `env:"GOOGLE_V2_BATCH_MODEL" envDefault:"chirp"`

	AzureDefaultRegion string `env:"AZURE_DEFAULT_REGION" envDefault:"eastus"`

	TranscriptStore   string   `env:"TRANSCRIPT_STORE" envDefault:"memory"`
	MongoURI          string   `env:"MONGODB_URI"`
	MongoDatabase     string   `env:"MONGODB_DATABASE" envDefault:"speechgate"`
	DatabaseURL       string   `env:"DATABASE_URL"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopicInterim string   `env:"KAFKA_TOPIC_INTERIM" envDefault:"transcripts.interim"`
	KafkaTopicFinal   string   `env:"KAFKA_TOPIC_FINAL" envDefault:"transcripts.final"`
}

// Load reads an optional .env file and then the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom parses the given variables instead of the process environment
func LoadFrom(environment map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.UploadsDir == "" {
		return fmt.Errorf("UPLOADS_DIR is required")
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"UPLOAD_GRACE_PERIOD", c.UploadGracePeriod},
		{"HTTP_TIMEOUT", c.HTTPTimeout},
		{"SESSION_IDLE_TIMEOUT", c.SessionIdleTimeout},
		{"JANITOR_INTERVAL", c.JanitorInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.GroqMinSubmitInterval < 0 {
		return fmt.Errorf("GROQ_MIN_SUBMIT_INTERVAL must not be negative, got %s", c.GroqMinSubmitInterval)
	}

	if c.OutboundProxyURL != "" {
		if _, err := url.Parse(c.OutboundProxyURL); err != nil {
			return fmt.Errorf("OUTBOUND_PROXY_URL is invalid: %w", err)
		}
	}

	switch c.TranscriptStore {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required when TRANSCRIPT_STORE=mongo")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when TRANSCRIPT_STORE=postgres")
		}
	default:
		return fmt.Errorf("TRANSCRIPT_STORE must be one of memory, mongo, postgres, got %q", c.TranscriptStore)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// KafkaEnabled reports whether transcript events should be published
func (c *Config) KafkaEnabled() bool {
	for _, b := range c.KafkaBrokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}
