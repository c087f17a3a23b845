package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recoveryd/services/drs"
	"recoveryd/services/planstore"
)

const defaultWaveTimeout = 2 * time.Hour

// PlanSource is the read-only plan/account configuration collaborator.
type PlanSource interface {
	Plan(id string) (planstore.Plan, error)
	Account(id string) (planstore.Account, error)
}

// Publisher emits lifecycle events. A nil publisher disables events.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// ReportStore receives terminal execution reports. A nil store disables
// report upload.
type ReportStore interface {
	PutObject(ctx context.Context, bucket, key string, data []byte) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Options collects the engine's collaborators; everything is injected, the
// engine owns no global state.
type Options struct {
	Store        Store
	Plans        PlanSource
	Clients      drs.Factory
	Bus          Publisher
	Reports      ReportStore
	ReportBucket string
	WaveTimeout  time.Duration
	PollTimeout  time.Duration
	Logger       zerolog.Logger

	// Clock defaults to time.Now; tests substitute it.
	Clock func() time.Time
}

// Engine is the execution state machine. It is the only component that
// mutates durable execution records, always through version-guarded writes.
type Engine struct {
	store        Store
	plans        PlanSource
	clients      drs.Factory
	bus          Publisher
	reports      ReportStore
	reportBucket string
	waveTimeout  time.Duration
	pollTimeout  time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

// New validates options and constructs an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Plans == nil {
		return nil, errors.New("plan source is required")
	}
	if opts.Clients == nil {
		return nil, errors.New("client factory is required")
	}
	if opts.WaveTimeout <= 0 {
		opts.WaveTimeout = defaultWaveTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Engine{
		store:        opts.Store,
		plans:        opts.Plans,
		clients:      opts.Clients,
		bus:          opts.Bus,
		reports:      opts.Reports,
		reportBucket: opts.ReportBucket,
		waveTimeout:  opts.WaveTimeout,
		pollTimeout:  opts.PollTimeout,
		log:          opts.Logger,
		now:          opts.Clock,
	}, nil
}

// StartExecution creates a pending execution for the plan. Driving happens
// asynchronously through Advance.
func (e *Engine) StartExecution(ctx context.Context, planID string, mode Mode) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("invalid mode %q", mode)
	}

	plan, err := e.plans.Plan(planID)
	if err != nil {
		return "", err
	}

	exec := &Execution{
		ID:     uuid.NewString(),
		PlanID: plan.ID,
		Mode:   mode,
		Status: StatusPending,
		Waves:  make([]WaveExecution, len(plan.Waves)),
	}
	for i, wave := range plan.Waves {
		exec.Waves[i] = WaveExecution{Number: i, Name: wave.Name, Status: WaveNotStarted}
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return "", err
	}

	e.audit(ctx, exec.ID, "execution.created", map[string]any{"plan_id": planID, "mode": string(mode)})
	metricExecutionsStarted.Inc()

	e.log.Info().Str("execution", exec.ID).Str("plan", planID).Str("mode", string(mode)).
		Msg("execution created")
	return exec.ID, nil
}

// GetExecution returns the full nested execution view.
func (e *Engine) GetExecution(ctx context.Context, id string) (*Execution, error) {
	return e.store.GetExecution(ctx, id)
}

// ListActiveIDs exposes the scheduler's work list.
func (e *Engine) ListActiveIDs(ctx context.Context) ([]string, error) {
	return e.store.ListActiveIDs(ctx)
}

// RequestPause flags the execution for pausing. The flag takes effect after
// the in-flight poll settles; no remote job is aborted.
func (e *Engine) RequestPause(ctx context.Context, id string) error {
	return e.mutateFlags(ctx, id, "pause.requested", func(exec *Execution) error {
		if exec.Status.Terminal() {
			return ErrTerminal
		}
		exec.PauseRequested = true
		return nil
	})
}

// RequestResume moves a paused execution back to running. If the in-progress
// wave had completed before the pause took effect, the next Advance starts
// the following wave.
func (e *Engine) RequestResume(ctx context.Context, id string) error {
	return e.mutateFlags(ctx, id, "resume.requested", func(exec *Execution) error {
		if exec.Status.Terminal() {
			return ErrTerminal
		}
		if exec.Status != StatusPaused {
			return ErrNotPaused
		}
		exec.Status = StatusRunning
		exec.PauseRequested = false
		if wave := exec.Wave(exec.CurrentWave); wave != nil && wave.Status == WavePaused {
			wave.Status = WavePolling
		}
		return nil
	})
}

// RequestCancel sets the cooperative cancellation flag. The poller observes
// it on the next decision; an already-dispatched remote job is left to
// finish.
func (e *Engine) RequestCancel(ctx context.Context, id string) error {
	return e.mutateFlags(ctx, id, "cancel.requested", func(exec *Execution) error {
		if exec.Status.Terminal() {
			return ErrTerminal
		}
		exec.CancelRequested = true
		return nil
	})
}

// mutateFlags retries a flag change a few times on write conflicts; flag
// requests must not be lost to a concurrently running advance step.
func (e *Engine) mutateFlags(ctx context.Context, id, action string, mutate func(*Execution) error) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		exec, err := e.store.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(exec); err != nil {
			return err
		}
		err = e.store.UpdateExecution(ctx, exec)
		if err == nil {
			e.audit(ctx, id, action, nil)
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (e *Engine) audit(ctx context.Context, executionID, action string, details map[string]any) {
	if err := e.store.AppendAudit(ctx, executionID, action, details); err != nil {
		e.log.Warn().Err(err).Str("execution", executionID).Str("action", action).
			Msg("audit append failed")
	}
}

func (e *Engine) publish(ctx context.Context, subject string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, subject, payload); err != nil {
		e.log.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

// remoteCtx bounds a single batch of remote calls, distinct from the
// wave-level timeout.
func (e *Engine) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.pollTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.pollTimeout)
}

func (e *Engine) clientFor(ctx context.Context, plan planstore.Plan) (drs.API, error) {
	roleARN := plan.RoleARN
	if roleARN == "" {
		if account, err := e.plans.Account(plan.TargetAccountID); err == nil {
			roleARN = account.RoleARN
		}
	}
	return e.clients(ctx, plan.TargetAccountID, roleARN, plan.Region)
}
