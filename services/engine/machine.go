package engine

import (
	"context"
	"errors"
)

// Advance performs one unit of work for the execution: start the next wave,
// poll the active one, or apply a terminal decision. It is re-entrant and
// safe under at-least-once scheduling; a write conflict means another
// invocation already advanced the record and is treated as a no-op.
func (e *Engine) Advance(ctx context.Context, id string) error {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}

	var stepErr error
	switch exec.Status {
	case StatusPending:
		if exec.CancelRequested {
			stepErr = e.finish(ctx, exec, StatusCancelled, "cancelled before start")
		} else {
			stepErr = e.startWave(ctx, exec)
		}

	case StatusPaused:
		// Cancellation is honoured while paused; everything else waits for
		// a resume request.
		if exec.CancelRequested {
			stepErr = e.finish(ctx, exec, StatusCancelled, "cancelled while paused")
		}

	case StatusRunning:
		wave := exec.Wave(exec.CurrentWave)
		switch {
		case wave == nil:
			stepErr = e.finish(ctx, exec, StatusCompleted, "")
		case wave.Status == WaveNotStarted:
			stepErr = e.startWave(ctx, exec)
		case wave.Status == WaveStarted || wave.Status == WavePolling:
			stepErr = e.pollWave(ctx, exec)
		case wave.Status == WavePaused:
			// Parked by a pause that has not been resumed yet.
		case wave.Status == WaveFailed:
			stepErr = e.finish(ctx, exec, StatusFailed, wave.Error)
		case wave.Status == WaveCancelled:
			stepErr = e.finish(ctx, exec, StatusCancelled, wave.Error)
		case wave.Status == WaveCompleted:
			stepErr = e.finish(ctx, exec, StatusCompleted, "")
		}
	}

	if errors.Is(stepErr, ErrConflict) {
		return nil
	}
	return stepErr
}

// waveDecision is the poller's verdict for one poll cycle. WavePolling
// means "no terminal decision yet, poll again later".
type waveDecision struct {
	status WaveStatus
	reason string
}

// applyWaveDecision writes the decision durably before anything else acts
// on it, then emits events. Pause requests settle here, after the in-flight
// decision.
func (e *Engine) applyWaveDecision(ctx context.Context, exec *Execution, wave *WaveExecution, d waveDecision) error {
	now := e.now()

	switch d.status {
	case WavePolling:
		wave.Status = WavePolling
		if exec.PauseRequested {
			exec.Status = StatusPaused
			wave.Status = WavePaused
		}
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			return err
		}
		if exec.Status == StatusPaused {
			e.audit(ctx, exec.ID, "execution.paused", map[string]any{"wave": wave.Number})
			e.log.Info().Str("execution", exec.ID).Int("wave", wave.Number).Msg("execution paused")
		}
		return nil

	case WaveCompleted:
		wave.Status = WaveCompleted
		wave.FinishedAt = &now
		if d.reason != "" && wave.Error == "" {
			wave.Error = d.reason
		}

		if wave.Number >= len(exec.Waves)-1 {
			if err := e.finish(ctx, exec, StatusCompleted, ""); err != nil {
				return err
			}
			e.publishWaveFinished(ctx, exec, wave)
			return nil
		}

		exec.CurrentWave = wave.Number + 1
		if exec.PauseRequested {
			// The wave completed before the pause took effect; resume will
			// start the next one.
			exec.Status = StatusPaused
		}
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			return err
		}
		e.audit(ctx, exec.ID, "wave.completed", map[string]any{"wave": wave.Number})
		e.publishWaveFinished(ctx, exec, wave)
		return nil

	case WaveFailed:
		wave.Status = WaveFailed
		wave.FinishedAt = &now
		if wave.Error == "" {
			wave.Error = d.reason
		}
		if err := e.finish(ctx, exec, StatusFailed, d.reason); err != nil {
			return err
		}
		e.publishWaveFinished(ctx, exec, wave)
		return nil

	case WaveCancelled:
		wave.Status = WaveCancelled
		wave.FinishedAt = &now
		if wave.Error == "" {
			wave.Error = d.reason
		}
		if err := e.finish(ctx, exec, StatusCancelled, d.reason); err != nil {
			return err
		}
		e.publishWaveFinished(ctx, exec, wave)
		return nil
	}

	return nil
}

// finish moves the execution to a terminal state. The durable write happens
// before events, metrics, and the report upload so a caller re-querying
// after a crash sees the same terminal reason.
func (e *Engine) finish(ctx context.Context, exec *Execution, status Status, reason string) error {
	now := e.now()
	exec.Status = status
	if reason != "" && exec.Error == "" {
		exec.Error = reason
	}
	if exec.StartedAt == nil {
		exec.StartedAt = &now
	}
	exec.FinishedAt = &now

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	e.audit(ctx, exec.ID, "execution."+string(status), map[string]any{"reason": reason})
	metricExecutionsFinished.WithLabelValues(string(status)).Inc()
	e.publish(ctx, SubjectExecutionFinished, map[string]any{
		"execution_id": exec.ID,
		"plan_id":      exec.PlanID,
		"status":       string(status),
		"error":        exec.Error,
		"finished_at":  exec.FinishedAt,
	})
	e.uploadReport(ctx, exec)

	e.log.Info().Str("execution", exec.ID).Str("status", string(status)).Str("reason", reason).
		Msg("execution finished")
	return nil
}

// failWave records the wave failure and fails the execution with it.
// Remaining waves are never started.
func (e *Engine) failWave(ctx context.Context, exec *Execution, wave *WaveExecution, reason string) error {
	now := e.now()
	wave.Status = WaveFailed
	wave.Error = reason
	if wave.StartedAt == nil {
		wave.StartedAt = &now
	}
	wave.FinishedAt = &now

	if err := e.finish(ctx, exec, StatusFailed, reason); err != nil {
		return err
	}
	e.publishWaveFinished(ctx, exec, wave)
	return nil
}

func (e *Engine) publishWaveFinished(ctx context.Context, exec *Execution, wave *WaveExecution) {
	e.publish(ctx, SubjectWaveFinished, map[string]any{
		"execution_id": exec.ID,
		"wave":         wave.Number,
		"name":         wave.Name,
		"status":       string(wave.Status),
		"error":        wave.Error,
	})
}
