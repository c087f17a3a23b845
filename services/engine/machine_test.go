package engine

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"recoveryd/services/drs"
	"recoveryd/services/planstore"
)

func TestAdvanceRunsWavesInOrder(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	// First advance starts wave 0.
	exec := h.mustAdvance(t, id)
	if exec.Status != StatusRunning {
		t.Fatalf("status = %q, want %q", exec.Status, StatusRunning)
	}
	if got := exec.Waves[0].Status; got != WaveStarted {
		t.Fatalf("wave 0 status = %q, want %q", got, WaveStarted)
	}
	if got := exec.Waves[1].Status; got != WaveNotStarted {
		t.Fatalf("wave 1 status = %q, want %q", got, WaveNotStarted)
	}
	if len(h.remote.started) != 1 || len(h.remote.started[0]) != 2 {
		t.Fatalf("started jobs = %v, want one job with two servers", h.remote.started)
	}
	if !h.remote.drills[0] {
		t.Fatal("drill mode was not propagated to the recovery job")
	}

	// Job still running: stays polling.
	exec = h.mustAdvance(t, id)
	if got := exec.Waves[0].Status; got != WavePolling {
		t.Fatalf("wave 0 status = %q, want %q", got, WavePolling)
	}
	if exec.Waves[0].FinishedAt != nil {
		t.Fatal("non-terminal wave has a finish timestamp")
	}

	// Job completes: wave 0 closes, pointer moves, wave 1 is untouched until
	// the next advance.
	h.remote.job = terminalJob(h.remote.jobID, nil, "s-1", "s-2")
	exec = h.mustAdvance(t, id)
	if got := exec.Waves[0].Status; got != WaveCompleted {
		t.Fatalf("wave 0 status = %q, want %q", got, WaveCompleted)
	}
	if exec.Waves[0].FinishedAt == nil {
		t.Fatal("completed wave has no finish timestamp")
	}
	if exec.CurrentWave != 1 {
		t.Fatalf("current wave = %d, want 1", exec.CurrentWave)
	}
	if got := exec.Waves[1].Status; got != WaveNotStarted {
		t.Fatalf("wave 1 status = %q, want %q", got, WaveNotStarted)
	}

	// Wave 1 runs to completion.
	h.remote.job = nil
	exec = h.mustAdvance(t, id)
	if got := exec.Waves[1].Status; got != WaveStarted {
		t.Fatalf("wave 1 status = %q, want %q", got, WaveStarted)
	}
	h.remote.job = terminalJob(h.remote.jobID, nil, "s-3")
	exec = h.mustAdvance(t, id)
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", exec.Status, StatusCompleted)
	}
	if exec.FinishedAt == nil {
		t.Fatal("completed execution has no finish timestamp")
	}
	if !h.bus.saw(SubjectExecutionFinished) {
		t.Fatal("execution finished event was not published")
	}
}

func TestAdvanceFailedServerFailsExecution(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeRecovery)

	h.mustAdvance(t, id)
	h.remote.job = terminalJob(h.remote.jobID, map[string]drs.LaunchState{"s-2": drs.LaunchFailed}, "s-1", "s-2")

	exec := h.mustAdvance(t, id)
	if exec.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", exec.Status, StatusFailed)
	}
	if got := exec.Waves[0].Status; got != WaveFailed {
		t.Fatalf("wave 0 status = %q, want %q", got, WaveFailed)
	}
	if !strings.Contains(exec.Error, "1 of 2 servers failed") {
		t.Fatalf("error = %q, want per-server failure count", exec.Error)
	}
	// Later waves are never started after a failure.
	if got := exec.Waves[1].Status; got != WaveNotStarted {
		t.Fatalf("wave 1 status = %q, want %q", got, WaveNotStarted)
	}
	exec = h.mustAdvance(t, id)
	if len(h.remote.started) != 1 {
		t.Fatalf("jobs started = %d, want 1", len(h.remote.started))
	}
}

func TestAdvanceUndecidedServersAtJobTerminal(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	h.mustAdvance(t, id)
	h.remote.job = terminalJob(h.remote.jobID, map[string]drs.LaunchState{"s-2": drs.LaunchInProgress}, "s-1", "s-2")

	exec := h.mustAdvance(t, id)
	if exec.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", exec.Status, StatusFailed)
	}
	if !strings.Contains(exec.Error, "undecided") {
		t.Fatalf("error = %q, want undecided-server anomaly", exec.Error)
	}
}

func TestAdvanceWaveTimeout(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	h.mustAdvance(t, id)
	*h.now = h.now.Add(2 * time.Hour)

	exec := h.mustAdvance(t, id)
	if exec.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", exec.Status, StatusFailed)
	}
	if !strings.Contains(exec.Error, "timed out") {
		t.Fatalf("error = %q, want timeout reason", exec.Error)
	}
}

func TestAdvanceCancelDuringPolling(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	h.mustAdvance(t, id)
	if err := h.engine.RequestCancel(context.Background(), id); err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}

	exec := h.mustAdvance(t, id)
	if exec.Status != StatusCancelled {
		t.Fatalf("status = %q, want %q", exec.Status, StatusCancelled)
	}
	if got := exec.Waves[0].Status; got != WaveCancelled {
		t.Fatalf("wave 0 status = %q, want %q", got, WaveCancelled)
	}
	if exec.Waves[0].FinishedAt == nil {
		t.Fatal("cancelled wave has no finish timestamp")
	}
}

func TestAdvancePauseSettlesAfterPoll(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	h.mustAdvance(t, id)
	if err := h.engine.RequestPause(context.Background(), id); err != nil {
		t.Fatalf("RequestPause() error = %v", err)
	}

	// Pause lands only after the in-flight poll decides to keep polling.
	exec := h.mustAdvance(t, id)
	if exec.Status != StatusPaused {
		t.Fatalf("status = %q, want %q", exec.Status, StatusPaused)
	}
	if got := exec.Waves[0].Status; got != WavePaused {
		t.Fatalf("wave 0 status = %q, want %q", got, WavePaused)
	}

	// Paused executions do not poll.
	h.remote.job = terminalJob(h.remote.jobID, nil, "s-1", "s-2")
	exec = h.mustAdvance(t, id)
	if exec.Status != StatusPaused {
		t.Fatalf("status after advance while paused = %q, want %q", exec.Status, StatusPaused)
	}

	if err := h.engine.RequestResume(context.Background(), id); err != nil {
		t.Fatalf("RequestResume() error = %v", err)
	}
	exec = h.mustAdvance(t, id)
	if got := exec.Waves[0].Status; got != WaveCompleted {
		t.Fatalf("wave 0 status after resume = %q, want %q", got, WaveCompleted)
	}
}

func TestAdvanceCancelWhilePaused(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	h.mustAdvance(t, id)
	if err := h.engine.RequestPause(context.Background(), id); err != nil {
		t.Fatalf("RequestPause() error = %v", err)
	}
	exec := h.mustAdvance(t, id)
	if exec.Status != StatusPaused {
		t.Fatalf("status = %q, want %q", exec.Status, StatusPaused)
	}

	if err := h.engine.RequestCancel(context.Background(), id); err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}

	// The paused execution must stay in the active listing so the scheduler
	// keeps ticking it; otherwise the cancel would wait for a resume.
	ids, err := h.store.ListActiveIDs(context.Background())
	if err != nil {
		t.Fatalf("ListActiveIDs() error = %v", err)
	}
	found := false
	for _, active := range ids {
		if active == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("active ids = %v, paused execution %s missing", ids, id)
	}

	exec = h.mustAdvance(t, id)
	if exec.Status != StatusCancelled {
		t.Fatalf("status = %q, want %q", exec.Status, StatusCancelled)
	}
	if !strings.Contains(exec.Error, "cancelled while paused") {
		t.Fatalf("error = %q, want paused-cancel reason", exec.Error)
	}
}

func TestAdvanceRepeatedPollLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	h.mustAdvance(t, id)
	before := h.mustAdvance(t, id)

	// With no remote change, another advance is a pure re-poll: the nested
	// wave and server state must come back identical, version aside.
	after := h.mustAdvance(t, id)
	if after.Version != before.Version+1 {
		t.Fatalf("version = %d, want %d", after.Version, before.Version+1)
	}
	if after.Status != before.Status || after.CurrentWave != before.CurrentWave {
		t.Fatalf("status/wave = %q/%d, want %q/%d", after.Status, after.CurrentWave, before.Status, before.CurrentWave)
	}
	if !reflect.DeepEqual(after.Waves, before.Waves) {
		t.Fatalf("waves diverged across identical polls:\nbefore: %+v\nafter:  %+v", before.Waves, after.Waves)
	}
}

func TestAdvancePauseLandsOnCompletedWave(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	h.mustAdvance(t, id)
	if err := h.engine.RequestPause(context.Background(), id); err != nil {
		t.Fatalf("RequestPause() error = %v", err)
	}
	h.remote.job = terminalJob(h.remote.jobID, nil, "s-1", "s-2")

	// The wave completes in the same cycle the pause settles: the execution
	// parks with the wave closed and the pointer already on the next wave.
	exec := h.mustAdvance(t, id)
	if exec.Status != StatusPaused {
		t.Fatalf("status = %q, want %q", exec.Status, StatusPaused)
	}
	if got := exec.Waves[0].Status; got != WaveCompleted {
		t.Fatalf("wave 0 status = %q, want %q", got, WaveCompleted)
	}
	if exec.CurrentWave != 1 {
		t.Fatalf("current wave = %d, want 1", exec.CurrentWave)
	}

	if err := h.engine.RequestResume(context.Background(), id); err != nil {
		t.Fatalf("RequestResume() error = %v", err)
	}
	h.remote.job = nil
	exec = h.mustAdvance(t, id)
	if got := exec.Waves[1].Status; got != WaveStarted {
		t.Fatalf("wave 1 status after resume = %q, want %q", got, WaveStarted)
	}
}

func TestAdvanceEmptyTagResolutionCompletesWave(t *testing.T) {
	plan := planstore.Plan{
		ID:              "plan-tags",
		TargetAccountID: "111111111111",
		Region:          "us-east-1",
		Waves:           []planstore.Wave{{Name: "tagged", Tags: map[string]string{"tier": "db"}}},
	}
	h := newHarness(t, plan)
	id := h.mustStart(t, "plan-tags", ModeDrill)

	exec := h.mustAdvance(t, id)
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", exec.Status, StatusCompleted)
	}
	if got := exec.Waves[0].Error; !strings.Contains(got, "no servers matched") {
		t.Fatalf("wave annotation = %q, want empty-resolution note", got)
	}
	if len(h.remote.started) != 0 {
		t.Fatal("a recovery job was started for an empty wave")
	}
}

func TestAdvanceCredentialFailureFailsWave(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	brokenClients := func(_ context.Context, _, _, _ string) (drs.API, error) {
		return nil, &drs.TransientError{Op: "lease", Err: context.DeadlineExceeded}
	}
	eng, err := New(Options{
		Store:   h.store,
		Plans:   fakePlans{plans: map[string]planstore.Plan{"plan-web": twoWavePlan()}},
		Clients: brokenClients,
		Logger:  zerolog.Nop(),
		Clock:   func() time.Time { return *h.now },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := eng.Advance(context.Background(), id); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	exec, err := eng.GetExecution(context.Background(), id)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", exec.Status, StatusFailed)
	}
	if !strings.Contains(exec.Error, "credential lease") {
		t.Fatalf("error = %q, want credential lease failure", exec.Error)
	}
}

func TestAdvanceTerminalIsNoop(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	if err := h.engine.RequestCancel(context.Background(), id); err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}
	h.mustAdvance(t, id)

	before, _ := h.engine.GetExecution(context.Background(), id)
	after := h.mustAdvance(t, id)
	if before.Version != after.Version {
		t.Fatalf("terminal advance wrote the record: version %d -> %d", before.Version, after.Version)
	}
}

func TestAdvanceSwallowsWriteConflicts(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	h.store.updateErr = ErrConflict
	if err := h.engine.Advance(context.Background(), id); err != nil {
		t.Fatalf("Advance() on conflict error = %v, want nil", err)
	}
}

func TestAdvanceDescribeFailureFailsWave(t *testing.T) {
	h := newHarness(t, twoWavePlan())
	id := h.mustStart(t, "plan-web", ModeDrill)

	h.mustAdvance(t, id)
	h.remote.jobErr = &drs.TransientError{Op: "describe job", Err: context.DeadlineExceeded}

	exec := h.mustAdvance(t, id)
	if exec.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", exec.Status, StatusFailed)
	}
}
