package engine

import (
	"context"
	"fmt"

	"recoveryd/services/drs"
)

// pollWave evaluates the completion-decision protocol for the active wave,
// in priority order: cancellation, explicit terminal job status with
// per-server classification, wave timeout, otherwise keep polling.
func (e *Engine) pollWave(ctx context.Context, exec *Execution) error {
	wave := exec.Wave(exec.CurrentWave)
	metricWavePolls.Inc()

	if exec.CancelRequested {
		return e.applyWaveDecision(ctx, exec, wave, waveDecision{
			status: WaveCancelled,
			reason: "cancellation requested",
		})
	}

	plan, err := e.plans.Plan(exec.PlanID)
	if err != nil {
		return e.failWave(ctx, exec, wave, fmt.Sprintf("load plan %s: %v", exec.PlanID, err))
	}

	rctx, cancel := e.remoteCtx(ctx)
	defer cancel()

	client, err := e.clientFor(rctx, plan)
	if err != nil {
		return e.failWave(ctx, exec, wave, fmt.Sprintf("credential lease for account %s: %v", plan.TargetAccountID, err))
	}

	job, err := client.DescribeJob(rctx, wave.JobID)
	if err != nil {
		// The client already retried transients; whatever is left blocks the
		// wave and fails the execution rather than hanging it.
		return e.failWave(ctx, exec, wave, fmt.Sprintf("describe job %s: %v", wave.JobID, err))
	}

	for _, remote := range job.Servers {
		if server := wave.Server(remote.SourceServerID); server != nil {
			server.LaunchState = remote.LaunchState
			if remote.RecoveryInstanceID != "" {
				server.RecoveryInstanceID = remote.RecoveryInstanceID
			}
		}
	}

	e.enrich(rctx, client, wave)

	if job.State.Terminal() {
		var failed, undecided int
		for i := range wave.Servers {
			switch {
			case wave.Servers[i].LaunchState.Failed():
				failed++
			case !wave.Servers[i].LaunchState.Done():
				undecided++
			}
		}

		switch {
		case undecided > 0:
			// Protocol anomaly: the job claims to be done while servers are
			// still pending. Explicit failure beats indefinite ambiguity.
			return e.applyWaveDecision(ctx, exec, wave, waveDecision{
				status: WaveFailed,
				reason: fmt.Sprintf("job %s reported terminal with %d of %d servers undecided", wave.JobID, undecided, len(wave.Servers)),
			})
		case failed > 0:
			return e.applyWaveDecision(ctx, exec, wave, waveDecision{
				status: WaveFailed,
				reason: fmt.Sprintf("%d of %d servers failed to launch", failed, len(wave.Servers)),
			})
		default:
			return e.applyWaveDecision(ctx, exec, wave, waveDecision{status: WaveCompleted})
		}
	}

	if wave.StartedAt != nil && e.now().Sub(*wave.StartedAt) > e.waveTimeout {
		return e.applyWaveDecision(ctx, exec, wave, waveDecision{
			status: WaveFailed,
			reason: fmt.Sprintf("wave timed out after %s", e.waveTimeout),
		})
	}

	return e.applyWaveDecision(ctx, exec, wave, waveDecision{status: WavePolling})
}

// enrich fills instance details for launched servers. Strictly best-effort:
// failures are logged and never influence the wave decision.
func (e *Engine) enrich(ctx context.Context, client drs.API, wave *WaveExecution) {
	var launched []string
	for i := range wave.Servers {
		if wave.Servers[i].LaunchState == drs.Launched && wave.Servers[i].InstanceID == "" {
			launched = append(launched, wave.Servers[i].SourceServerID)
		}
	}
	if len(launched) == 0 {
		return
	}

	instances, err := client.RecoveryInstancesForServers(ctx, launched)
	if err != nil {
		e.log.Debug().Err(err).Msg("recovery instance enrichment skipped")
		return
	}

	ec2BySource := make(map[string]string, len(instances))
	ec2IDs := make([]string, 0, len(instances))
	for _, instance := range instances {
		if instance.SourceServerID == "" || instance.EC2InstanceID == "" {
			continue
		}
		ec2BySource[instance.SourceServerID] = instance.EC2InstanceID
		ec2IDs = append(ec2IDs, instance.EC2InstanceID)
	}
	if len(ec2IDs) == 0 {
		return
	}

	details, err := client.DescribeInstances(ctx, ec2IDs)
	if err != nil {
		e.log.Debug().Err(err).Msg("instance enrichment skipped")
		return
	}

	byID := make(map[string]drs.InstanceDetail, len(details))
	for _, detail := range details {
		byID[detail.InstanceID] = detail
	}

	for i := range wave.Servers {
		server := &wave.Servers[i]
		ec2ID, ok := ec2BySource[server.SourceServerID]
		if !ok {
			continue
		}
		detail, ok := byID[ec2ID]
		if !ok {
			continue
		}
		server.InstanceID = detail.InstanceID
		server.InstanceType = detail.InstanceType
		server.PrivateIP = detail.PrivateIP
		server.AvailabilityZone = detail.AvailabilityZone
		server.LaunchedAt = detail.LaunchTime
	}
}
