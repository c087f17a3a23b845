package config

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the recoveryd daemon.
type Config struct {
	Addr         string `env:"ADDR,default=:8080"`
	DBDSN        string `env:"DB_DSN,required"`
	NATSURL      string `env:"NATS_URL,default=nats://127.0.0.1:4222"`
	PlanFile     string `env:"PLAN_FILE,required"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Cross-account role assumption. AssumeRoleName is the well-known role
	// expected to exist in every member account; ExternalID is the shared
	// secret required on every assumption call.
	AssumeRoleName string        `env:"ASSUME_ROLE_NAME,default=RecoveryOrchestratorRole"`
	ExternalID     string        `env:"ASSUME_ROLE_EXTERNAL_ID,required"`
	SessionTTL     time.Duration `env:"ASSUME_ROLE_SESSION_TTL,default=15m"`
	DefaultRegion  string        `env:"AWS_DEFAULT_REGION,default=us-east-1"`

	// Execution driving.
	AdvanceInterval time.Duration `env:"ADVANCE_INTERVAL,default=5s"`
	PollTimeout     time.Duration `env:"POLL_TIMEOUT,default=30s"`
	WaveTimeout     time.Duration `env:"WAVE_TIMEOUT,default=2h"`

	// Capacity aggregation.
	CapacityCeiling int `env:"CAPACITY_CEILING,default=300"`

	// Terminal execution reports.
	ReportBucket   string `env:"REPORT_BUCKET"`
	ReportEndpoint string `env:"REPORT_S3_ENDPOINT"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.ExternalID) == "" {
		return Config{}, errors.New("ASSUME_ROLE_EXTERNAL_ID must not be blank")
	}
	if cfg.WaveTimeout <= cfg.PollTimeout {
		return Config{}, errors.New("WAVE_TIMEOUT must exceed POLL_TIMEOUT")
	}
	return cfg, nil
}
