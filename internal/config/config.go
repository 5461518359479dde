package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Workflow  WorkflowConfig
	Offers    OffersConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port           string        `envconfig:"SERVER_PORT" default:"8000"`
	Host           string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	ReadTimeout    time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	RequestTimeout time.Duration `envconfig:"SERVER_REQUEST_TIMEOUT" default:"110s"`
}

type OpenAIConfig struct {
	Provider    string        `envconfig:"OPENAI_PROVIDER" default:"openai"`
	APIKey      string        `envconfig:"OPENAI_API_KEY" required:"true"`
	APIEndpoint string        `envconfig:"OPENAI_ENDPOINT" default:"https://api.openai.com/v1"`
	Model       string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
	APIVersion  string        `envconfig:"OPENAI_API_VERSION" default:"2024-10-21"`
	MaxSteps    int           `envconfig:"OPENAI_MAX_STEPS" default:"5"`
	Timeout     time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	// WorkflowID is the hosted chat workflow that session tokens are issued against.
	WorkflowID string `envconfig:"CHATKIT_WORKFLOW_ID"`
}

type WorkflowConfig struct {
	PolicyPath         string        `envconfig:"MILIEU_GUARDRAIL_POLICY"`
	EnableRetention    bool          `envconfig:"MILIEU_ENABLE_RETENTION" default:"false"`
	StageTimeout       time.Duration `envconfig:"MILIEU_STAGE_TIMEOUT" default:"0"`
	CheckConcurrency   int           `envconfig:"MILIEU_CHECK_CONCURRENCY" default:"1"`
	RaiseGuardrailErrs bool          `envconfig:"MILIEU_RAISE_GUARDRAIL_ERRORS" default:"true"`
	ApprovalPrompt     string        `envconfig:"MILIEU_APPROVAL_PROMPT" default:"Does this work for you?"`
}

type OffersConfig struct {
	GraphQLEndpoint string        `envconfig:"MILIEU_OFFERS_GRAPHQL_ENDPOINT"`
	Timeout         time.Duration `envconfig:"MILIEU_OFFERS_TIMEOUT" default:"10s"`
}

type TelemetryConfig struct {
	Endpoint    string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"milieu-agent"`
	Insecure    bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`
}

type LogConfig struct {
	Level  string `envconfig:"MILIEU_LOG_LEVEL" default:"info"`
	Format string `envconfig:"MILIEU_LOG_FORMAT" default:"text"`
}

// LoadConfig reads an optional .env file and then the process environment.
// Variables already set in the environment win over the .env file.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Info("configuration loaded successfully")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required")
	}
	switch c.OpenAI.Provider {
	case "openai", "azure":
	default:
		return fmt.Errorf("config: unsupported OPENAI_PROVIDER %q", c.OpenAI.Provider)
	}
	if c.OpenAI.MaxSteps <= 0 {
		return fmt.Errorf("config: OPENAI_MAX_STEPS must be positive")
	}
	if c.Workflow.CheckConcurrency <= 0 {
		return fmt.Errorf("config: MILIEU_CHECK_CONCURRENCY must be positive")
	}
	if c.Workflow.StageTimeout < 0 {
		return fmt.Errorf("config: MILIEU_STAGE_TIMEOUT must not be negative")
	}
	return nil
}

// SlogLevel maps the configured level name onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
