// Package drs wraps the AWS Elastic Disaster Recovery service with the
// typed, narrow surface the orchestration engine needs: start a recovery
// job, describe it, resolve servers by tag, and enrich launched servers.
package drs

import (
	"context"
	"fmt"
	"time"
)

// JobState is the remote job's own status, distinct from per-server launch
// outcomes.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobStarted   JobState = "STARTED"
	JobCompleted JobState = "COMPLETED"
)

// Terminal reports whether the job itself has finished. Per-server
// classification decides success or failure from there.
func (s JobState) Terminal() bool { return s == JobCompleted }

// LaunchState is the normalized per-server launch status vocabulary.
type LaunchState string

const (
	LaunchPending    LaunchState = "pending"
	LaunchInProgress LaunchState = "in_progress"
	Launched         LaunchState = "launched"
	LaunchFailed     LaunchState = "failed"
	LaunchTerminated LaunchState = "terminated"
)

// Done reports whether the server has reached a final launch outcome.
func (s LaunchState) Done() bool {
	return s == Launched || s == LaunchFailed || s == LaunchTerminated
}

// Failed reports whether the final outcome counts against the wave.
func (s LaunchState) Failed() bool {
	return s == LaunchFailed || s == LaunchTerminated
}

// JobStatus is one describe-call snapshot of a recovery job.
type JobStatus struct {
	JobID   string
	State   JobState
	Servers []ParticipatingServer
}

// ParticipatingServer is one server's view within a job snapshot.
type ParticipatingServer struct {
	SourceServerID     string
	LaunchState        LaunchState
	RecoveryInstanceID string
}

// SourceServer is a replicating server visible in an account.
type SourceServer struct {
	ID               string
	Tags             map[string]string
	ReplicationState string
	Replicating      bool
}

// RecoveryInstance links a source server to the EC2 instance a job launched.
type RecoveryInstance struct {
	ID             string
	SourceServerID string
	EC2InstanceID  string
}

// InstanceDetail is best-effort EC2 enrichment for a launched server.
type InstanceDetail struct {
	InstanceID       string
	InstanceType     string
	PrivateIP        string
	AvailabilityZone string
	LaunchTime       *time.Time
}

// LaunchConfig is the merged launch configuration applied to one source
// server before its wave's job starts. Nil/empty fields are left untouched
// remotely.
type LaunchConfig struct {
	SourceServerID    string
	CopyPrivateIP     *bool
	CopyTags          *bool
	LaunchDisposition string
	RightSizing       string
}

// API is the remote recovery surface consumed by the engine and the
// capacity aggregator. Implementations retry throttling internally with
// bounded backoff; exhausted retries surface as *TransientError.
type API interface {
	StartRecovery(ctx context.Context, serverIDs []string, drill bool) (string, error)
	DescribeJob(ctx context.Context, jobID string) (*JobStatus, error)
	ServersByTags(ctx context.Context, filters map[string]string) ([]string, error)
	ListSourceServers(ctx context.Context) ([]SourceServer, error)
	ApplyLaunchConfig(ctx context.Context, cfg LaunchConfig) error
	RecoveryInstancesForServers(ctx context.Context, sourceServerIDs []string) ([]RecoveryInstance, error)
	DescribeInstances(ctx context.Context, instanceIDs []string) ([]InstanceDetail, error)
}

// TransientError marks a remote failure that exhausted the client's bounded
// retry ceiling (throttling, timeouts). Callers decide whether to fail fast
// or downgrade to a warning.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient remote failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
