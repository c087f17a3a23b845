package engine

import (
	"context"
	"fmt"

	"recoveryd/services/drs"
	"recoveryd/services/planstore"
)

// startWave resolves the current wave's server set, applies launch
// configuration, and starts the recovery job. Configuration is pushed
// before the job starts because it cannot be corrected mid-flight.
func (e *Engine) startWave(ctx context.Context, exec *Execution) error {
	plan, err := e.plans.Plan(exec.PlanID)
	if err != nil {
		return e.failExecutionSetup(ctx, exec, fmt.Sprintf("load plan %s: %v", exec.PlanID, err))
	}

	wave := exec.Wave(exec.CurrentWave)
	if wave == nil || exec.CurrentWave >= len(plan.Waves) {
		return e.finish(ctx, exec, StatusCompleted, "")
	}
	waveCfg := plan.Waves[exec.CurrentWave]

	now := e.now()
	wasPending := exec.Status == StatusPending
	if wasPending {
		exec.Status = StatusRunning
		exec.StartedAt = &now
	}

	rctx, cancel := e.remoteCtx(ctx)
	defer cancel()

	client, err := e.clientFor(rctx, plan)
	if err != nil {
		return e.failWave(ctx, exec, wave, fmt.Sprintf("credential lease for account %s: %v", plan.TargetAccountID, err))
	}

	serverIDs, err := resolveWave(rctx, client, waveCfg)
	if err != nil {
		return e.failWave(ctx, exec, wave, fmt.Sprintf("resolve wave %d: %v", wave.Number, err))
	}

	wave.StartedAt = &now

	if len(serverIDs) == 0 {
		// Policy: an empty resolution completes the wave rather than failing
		// it, but is annotated and logged so misconfiguration stays visible.
		e.log.Warn().Str("execution", exec.ID).Int("wave", wave.Number).
			Msg("wave resolved zero servers")
		if err := e.applyWaveDecision(ctx, exec, wave, waveDecision{
			status: WaveCompleted,
			reason: "no servers matched wave filters",
		}); err != nil {
			return err
		}
		e.publishExecutionStarted(ctx, exec, wasPending)
		return nil
	}

	for _, id := range serverIDs {
		settings := waveCfg.LaunchFor(id)
		if settings.IsZero() {
			continue
		}
		if err := client.ApplyLaunchConfig(rctx, launchConfigFor(id, settings)); err != nil {
			return e.failWave(ctx, exec, wave, fmt.Sprintf("apply launch configuration for %s: %v", id, err))
		}
	}

	jobID, err := client.StartRecovery(rctx, serverIDs, exec.Mode == ModeDrill)
	if err != nil {
		return e.failWave(ctx, exec, wave, fmt.Sprintf("start recovery job: %v", err))
	}

	wave.JobID = jobID
	wave.Status = WaveStarted
	wave.Servers = make([]ServerExecution, 0, len(serverIDs))
	for _, id := range serverIDs {
		wave.Servers = append(wave.Servers, ServerExecution{
			SourceServerID: id,
			LaunchState:    drs.LaunchPending,
		})
	}

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	e.audit(ctx, exec.ID, "wave.started", map[string]any{
		"wave":    wave.Number,
		"job_id":  jobID,
		"servers": len(serverIDs),
	})
	metricWavesStarted.Inc()
	e.publishExecutionStarted(ctx, exec, wasPending)
	e.publish(ctx, SubjectWaveStarted, map[string]any{
		"execution_id": exec.ID,
		"wave":         wave.Number,
		"name":         wave.Name,
		"job_id":       jobID,
		"servers":      len(serverIDs),
	})

	e.log.Info().Str("execution", exec.ID).Int("wave", wave.Number).
		Str("job", jobID).Int("servers", len(serverIDs)).Msg("wave started")
	return nil
}

// failExecutionSetup handles failures that occur before a wave exists to
// blame, such as a vanished plan.
func (e *Engine) failExecutionSetup(ctx context.Context, exec *Execution, reason string) error {
	if wave := exec.Wave(exec.CurrentWave); wave != nil {
		return e.failWave(ctx, exec, wave, reason)
	}
	return e.finish(ctx, exec, StatusFailed, reason)
}

func (e *Engine) publishExecutionStarted(ctx context.Context, exec *Execution, wasPending bool) {
	if !wasPending {
		return
	}
	e.publish(ctx, SubjectExecutionStarted, map[string]any{
		"execution_id": exec.ID,
		"plan_id":      exec.PlanID,
		"mode":         string(exec.Mode),
		"started_at":   exec.StartedAt,
	})
}

func launchConfigFor(serverID string, settings planstore.LaunchSettings) drs.LaunchConfig {
	return drs.LaunchConfig{
		SourceServerID:    serverID,
		CopyPrivateIP:     settings.CopyPrivateIP,
		CopyTags:          settings.CopyTags,
		LaunchDisposition: settings.LaunchDisposition,
		RightSizing:       settings.RightSizing,
	}
}
