// Package scheduler drives executions forward. A ticker enumerates active
// executions and fans one advance message per execution out over the bus; a
// durable consumer turns each message into an engine advance step. Splitting
// the two halves keeps the tick loop cheap and lets redelivery handle a
// worker that dies mid-step.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// SubjectAdvance carries one advance request per active execution.
const SubjectAdvance = "recoveryd.executions.advance"

const defaultInterval = 5 * time.Second

var metricTicks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "recoveryd_scheduler_ticks_total",
	Help: "Scheduler tick cycles completed.",
})

// Advancer performs one state-machine step for an execution.
type Advancer interface {
	Advance(ctx context.Context, id string) error
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// Bus is the subset of the message bus the scheduler needs.
type Bus interface {
	Publish(ctx context.Context, subject string, v any) error
	Subscribe(ctx context.Context, subject, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

type advanceMsg struct {
	ExecutionID string `json:"execution_id"`
}

// Scheduler owns the tick loop and the advance consumer.
type Scheduler struct {
	engine   Advancer
	bus      Bus
	interval time.Duration
	log      zerolog.Logger
}

// New constructs a Scheduler. interval <= 0 selects the default.
func New(engine Advancer, bus Bus, interval time.Duration, log zerolog.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{engine: engine, bus: bus, interval: interval, log: log}, nil
}

// Run subscribes the advance consumer, then ticks until the context ends.
// It always returns the context's error.
func (s *Scheduler) Run(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, SubjectAdvance, "recoveryd-advance", s.handleAdvance)
	if err != nil {
		return err
	}
	defer sub.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One immediate tick so a restart picks up in-flight executions without
	// waiting a full interval.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick publishes one advance message per active execution. Publish failures
// are logged and retried naturally on the next tick.
func (s *Scheduler) tick(ctx context.Context) {
	ids, err := s.engine.ListActiveIDs(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("active execution listing failed")
		return
	}

	for _, id := range ids {
		if err := s.bus.Publish(ctx, SubjectAdvance, advanceMsg{ExecutionID: id}); err != nil {
			s.log.Warn().Err(err).Str("execution", id).Msg("advance publish failed")
		}
	}
	metricTicks.Inc()
}

// handleAdvance runs one advance step. Errors propagate so the bus nacks and
// redelivers; a malformed message is dropped instead of poisoning the
// consumer.
func (s *Scheduler) handleAdvance(ctx context.Context, data []byte) error {
	var msg advanceMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Error().Err(err).Msg("dropping malformed advance message")
		return nil
	}
	if msg.ExecutionID == "" {
		return nil
	}

	if err := s.engine.Advance(ctx, msg.ExecutionID); err != nil {
		s.log.Warn().Err(err).Str("execution", msg.ExecutionID).Msg("advance step failed")
		return err
	}
	return nil
}
