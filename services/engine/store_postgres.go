package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"recoveryd/pkg/db"
)

type executionModel struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	PlanID          string         `gorm:"type:text;not null"`
	Mode            string         `gorm:"type:text;not null"`
	Status          string         `gorm:"type:text;not null"`
	CurrentWave     int            `gorm:"type:int;not null"`
	CancelRequested bool           `gorm:"type:boolean;not null"`
	PauseRequested  bool           `gorm:"type:boolean;not null"`
	Error           string         `gorm:"type:text"`
	Waves           datatypes.JSON `gorm:"type:jsonb"`
	Version         int64          `gorm:"type:bigint;not null"`
	StartedAt       *time.Time     `gorm:"type:timestamptz"`
	FinishedAt      *time.Time     `gorm:"type:timestamptz"`
}

func (executionModel) TableName() string { return "executions" }

type auditModel struct {
	ID          int64             `gorm:"type:bigserial;primaryKey"`
	ExecutionID *uuid.UUID        `gorm:"type:uuid"`
	Action      string            `gorm:"type:text;not null"`
	Details     datatypes.JSONMap `gorm:"type:jsonb"`
	At          time.Time         `gorm:"type:timestamptz;not null;autoCreateTime"`
}

func (auditModel) TableName() string { return "audit" }

// PostgresStore persists executions with gorm for writes and the pgx pool
// for the scheduler's hot list query.
type PostgresStore struct {
	orm  *gorm.DB
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wires a store around existing handles.
func NewPostgresStore(orm *gorm.DB, pool *pgxpool.Pool) (*PostgresStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &PostgresStore{orm: orm, pool: pool}, nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *Execution) error {
	model, err := toModel(exec)
	if err != nil {
		return err
	}
	return s.orm.WithContext(ctx).Create(model).Error
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var model executionModel
	if err := s.orm.WithContext(ctx).First(&model, "id = ?", parsed).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromModel(&model)
}

// UpdateExecution applies a version-guarded write. Zero rows affected means
// another invocation advanced the record first.
func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	model, err := toModel(exec)
	if err != nil {
		return err
	}

	res := s.orm.WithContext(ctx).
		Model(&executionModel{}).
		Where("id = ? AND version = ?", model.ID, exec.Version).
		Updates(map[string]any{
			"status":           model.Status,
			"current_wave":     model.CurrentWave,
			"cancel_requested": model.CancelRequested,
			"pause_requested":  model.PauseRequested,
			"error":            model.Error,
			"waves":            model.Waves,
			"started_at":       model.StartedAt,
			"finished_at":      model.FinishedAt,
			"version":          exec.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}

	exec.Version++
	return nil
}

// ListActiveIDs returns every non-terminal execution. Paused executions are
// included so a cancel issued while paused is applied on the next tick.
func (s *PostgresStore) ListActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := db.Select(ctx, s.pool, &ids,
		`SELECT id FROM executions WHERE status IN ('pending', 'running', 'paused') ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, executionID, action string, details map[string]any) error {
	entry := auditModel{Action: action, Details: datatypes.JSONMap(details)}
	if parsed, err := uuid.Parse(executionID); err == nil {
		entry.ExecutionID = &parsed
	}
	return s.orm.WithContext(ctx).Create(&entry).Error
}

func toModel(exec *Execution) (*executionModel, error) {
	if exec == nil {
		return nil, errors.New("nil execution")
	}
	id, err := uuid.Parse(exec.ID)
	if err != nil {
		return nil, fmt.Errorf("execution id: %w", err)
	}

	waves, err := json.Marshal(exec.Waves)
	if err != nil {
		return nil, fmt.Errorf("marshal waves: %w", err)
	}

	return &executionModel{
		ID:              id,
		PlanID:          exec.PlanID,
		Mode:            string(exec.Mode),
		Status:          string(exec.Status),
		CurrentWave:     exec.CurrentWave,
		CancelRequested: exec.CancelRequested,
		PauseRequested:  exec.PauseRequested,
		Error:           exec.Error,
		Waves:           datatypes.JSON(waves),
		Version:         exec.Version,
		StartedAt:       exec.StartedAt,
		FinishedAt:      exec.FinishedAt,
	}, nil
}

func fromModel(model *executionModel) (*Execution, error) {
	exec := &Execution{
		ID:              model.ID.String(),
		PlanID:          model.PlanID,
		Mode:            Mode(model.Mode),
		Status:          Status(model.Status),
		CurrentWave:     model.CurrentWave,
		CancelRequested: model.CancelRequested,
		PauseRequested:  model.PauseRequested,
		Error:           model.Error,
		Version:         model.Version,
		StartedAt:       model.StartedAt,
		FinishedAt:      model.FinishedAt,
	}
	if len(model.Waves) > 0 {
		if err := json.Unmarshal(model.Waves, &exec.Waves); err != nil {
			return nil, fmt.Errorf("unmarshal waves: %w", err)
		}
	}
	return exec, nil
}
