// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"errors"
	"time"

	"recoveryd/services/capacity"
	"recoveryd/services/engine"
)

const defaultReportTTL = 15 * time.Minute

// Orchestrator is the engine surface the handlers depend on.
type Orchestrator interface {
	StartExecution(ctx context.Context, planID string, mode engine.Mode) (string, error)
	GetExecution(ctx context.Context, id string) (*engine.Execution, error)
	Advance(ctx context.Context, id string) error
	RequestPause(ctx context.Context, id string) error
	RequestResume(ctx context.Context, id string) error
	RequestCancel(ctx context.Context, id string) error
	ReportURL(ctx context.Context, id string, ttl time.Duration) (string, error)
}

// CapacityReader serves combined capacity views.
type CapacityReader interface {
	Combined(ctx context.Context, targetAccountID string) (*capacity.CombinedView, error)
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	AllowedOrigins []string
	ReportTTL      time.Duration

	// Ready reports backend readiness; nil means always ready.
	Ready func(ctx context.Context) error
}

// API wires dependencies and configuration for HTTP handlers.
type API struct {
	engine   Orchestrator
	capacity CapacityReader
	config   Config
}

// New initialises the API layer with sane defaults applied to the provided
// configuration.
func New(eng Orchestrator, capSrc CapacityReader, cfg Config) (*API, error) {
	if eng == nil {
		return nil, errors.New("orchestrator is required")
	}
	if capSrc == nil {
		return nil, errors.New("capacity reader is required")
	}
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = defaultReportTTL
	}

	return &API{
		engine:   eng,
		capacity: capSrc,
		config:   cfg,
	}, nil
}
