package engine

import "context"

// Store persists execution records. UpdateExecution must apply the write
// only when the stored version still equals exec.Version ("compare-and-swap"
// on one execution id); on success it bumps exec.Version, on a lost race it
// returns ErrConflict without side effects. This is what makes Advance safe
// under at-least-once scheduling.
type Store interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, exec *Execution) error
	ListActiveIDs(ctx context.Context) ([]string, error)
	AppendAudit(ctx context.Context, executionID, action string, details map[string]any) error
}
