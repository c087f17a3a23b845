package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Execution struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	PlanID          string         `gorm:"type:text;not null;index"`
	Mode            string         `gorm:"type:text;not null"`
	Status          string         `gorm:"type:text;not null;index"`
	CurrentWave     int            `gorm:"type:int;not null;default:0"`
	CancelRequested bool           `gorm:"type:boolean;not null;default:false"`
	PauseRequested  bool           `gorm:"type:boolean;not null;default:false"`
	Error           string         `gorm:"type:text"`
	Waves           datatypes.JSON `gorm:"type:jsonb"`
	Version         int64          `gorm:"type:bigint;not null;default:0"`
	StartedAt       *time.Time     `gorm:"type:timestamptz"`
	FinishedAt      *time.Time     `gorm:"type:timestamptz"`
	CreatedAt       time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Audit struct {
	ID          int64             `gorm:"type:bigserial;primaryKey"`
	ExecutionID *uuid.UUID        `gorm:"type:uuid;index"`
	Action      string            `gorm:"type:text;not null"`
	Details     datatypes.JSONMap `gorm:"type:jsonb"`
	At          time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Execution{},
		&Audit{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&Execution{},
	)
}
