package drs

import (
	"testing"

	drstypes "github.com/aws/aws-sdk-go-v2/service/drs/types"
)

func TestMatchesTags(t *testing.T) {
	tags := map[string]string{"tier": "Database", "env": "prod"}

	tests := []struct {
		name    string
		filters map[string]string
		want    bool
	}{
		{name: "exact match", filters: map[string]string{"env": "prod"}, want: true},
		{name: "case-insensitive value", filters: map[string]string{"tier": "database"}, want: true},
		{name: "all filters must match", filters: map[string]string{"env": "prod", "tier": "app"}, want: false},
		{name: "missing key", filters: map[string]string{"region": "us-east-1"}, want: false},
		{name: "case-sensitive key", filters: map[string]string{"Env": "prod"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesTags(tags, tt.filters); got != tt.want {
				t.Fatalf("matchesTags(%v) = %v, want %v", tt.filters, got, tt.want)
			}
		})
	}
}

func TestNormalizeLaunchStatus(t *testing.T) {
	tests := []struct {
		in   drstypes.LaunchStatus
		want LaunchState
	}{
		{in: drstypes.LaunchStatusPending, want: LaunchPending},
		{in: drstypes.LaunchStatusInProgress, want: LaunchInProgress},
		{in: drstypes.LaunchStatusLaunched, want: Launched},
		{in: drstypes.LaunchStatusFailed, want: LaunchFailed},
		{in: drstypes.LaunchStatusTerminated, want: LaunchTerminated},
		{in: drstypes.LaunchStatus("SOMETHING_NEW"), want: LaunchPending},
	}

	for _, tt := range tests {
		if got := normalizeLaunchStatus(tt.in); got != tt.want {
			t.Fatalf("normalizeLaunchStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReplicating(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{state: "CONTINUOUS", want: true},
		{state: "INITIAL_SYNC", want: true},
		{state: "STOPPED", want: false},
		{state: "DISCONNECTED", want: false},
		{state: "", want: false},
	}

	for _, tt := range tests {
		if got := replicating(tt.state); got != tt.want {
			t.Fatalf("replicating(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestLaunchStateClassification(t *testing.T) {
	if !Launched.Done() || Launched.Failed() {
		t.Fatal("launched must be done and not failed")
	}
	if !LaunchFailed.Done() || !LaunchFailed.Failed() {
		t.Fatal("failed must be done and failed")
	}
	if !LaunchTerminated.Failed() {
		t.Fatal("terminated counts against the wave")
	}
	if LaunchInProgress.Done() {
		t.Fatal("in_progress is not a final outcome")
	}
}
