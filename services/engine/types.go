// Package engine drives recovery plan executions: it sequences waves,
// starts recovery jobs, polls them to a terminal decision, and owns every
// mutation of the durable execution record.
package engine

import (
	"time"

	"recoveryd/services/drs"
)

// Mode selects between a non-destructive drill and a real failover.
type Mode string

const (
	ModeDrill    Mode = "drill"
	ModeRecovery Mode = "recovery"
)

// Valid reports whether the mode is one of the two supported values.
func (m Mode) Valid() bool { return m == ModeDrill || m == ModeRecovery }

// Status is the overall execution status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a sink state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// WaveStatus is one wave's status within an execution.
type WaveStatus string

const (
	WaveNotStarted WaveStatus = "not_started"
	WaveStarted    WaveStatus = "started"
	WavePolling    WaveStatus = "polling"
	WavePaused     WaveStatus = "paused"
	WaveCompleted  WaveStatus = "completed"
	WaveFailed     WaveStatus = "failed"
	WaveCancelled  WaveStatus = "cancelled"
)

// Terminal reports whether the wave has reached a final decision.
func (s WaveStatus) Terminal() bool {
	return s == WaveCompleted || s == WaveFailed || s == WaveCancelled
}

// ServerExecution is one server's outcome within a wave. Enrichment fields
// are best-effort and never participate in completion decisions.
type ServerExecution struct {
	SourceServerID     string          `json:"source_server_id"`
	LaunchState        drs.LaunchState `json:"launch_state"`
	RecoveryInstanceID string          `json:"recovery_instance_id,omitempty"`
	InstanceID         string          `json:"instance_id,omitempty"`
	InstanceType       string          `json:"instance_type,omitempty"`
	PrivateIP          string          `json:"private_ip,omitempty"`
	AvailabilityZone   string          `json:"availability_zone,omitempty"`
	LaunchedAt         *time.Time      `json:"launched_at,omitempty"`
}

// WaveExecution is one wave's run. FinishedAt is set if and only if the
// status is terminal.
type WaveExecution struct {
	Number     int               `json:"number"`
	Name       string            `json:"name,omitempty"`
	Status     WaveStatus        `json:"status"`
	JobID      string            `json:"job_id,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Servers    []ServerExecution `json:"servers,omitempty"`
}

// Execution is one attempt to run a recovery plan. It is mutated
// exclusively through the engine's version-guarded store writes.
type Execution struct {
	ID              string          `json:"id"`
	PlanID          string          `json:"plan_id"`
	Mode            Mode            `json:"mode"`
	Status          Status          `json:"status"`
	CurrentWave     int             `json:"current_wave"`
	CancelRequested bool            `json:"cancel_requested"`
	PauseRequested  bool            `json:"pause_requested"`
	Error           string          `json:"error,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Waves           []WaveExecution `json:"waves"`

	// Version guards conditional store writes; it is not part of the
	// caller-visible state.
	Version int64 `json:"-"`
}

// Wave returns the wave with the given number, or nil when out of range.
func (e *Execution) Wave(n int) *WaveExecution {
	if e == nil || n < 0 || n >= len(e.Waves) {
		return nil
	}
	return &e.Waves[n]
}

// Server returns the wave's record for the given source server, or nil.
func (w *WaveExecution) Server(sourceServerID string) *ServerExecution {
	if w == nil {
		return nil
	}
	for i := range w.Servers {
		if w.Servers[i].SourceServerID == sourceServerID {
			return &w.Servers[i]
		}
	}
	return nil
}

// NATS subjects for execution lifecycle events.
const (
	SubjectExecutionStarted  = "recoveryd.executions.started"
	SubjectExecutionFinished = "recoveryd.executions.finished"
	SubjectWaveStarted       = "recoveryd.waves.started"
	SubjectWaveFinished      = "recoveryd.waves.finished"
)
