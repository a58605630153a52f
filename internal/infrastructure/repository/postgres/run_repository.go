// Package postgres persists experiment tracking records: one row per run
// and one row per completed step. The HTTP status API reads from here.
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ZefanW/verl-prime/internal/trainer"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// ============================================================================
// Records
// ============================================================================

// RunRecord is one training run
type RunRecord struct {
	ID             string             `gorm:"primaryKey;size:64"`
	ProjectName    string             `gorm:"size:128;index"`
	ExperimentName string             `gorm:"size:128"`
	AdvEstimator   types.AdvEstimator `gorm:"size:16"`
	RMUpdate       types.UpdatePolicy `gorm:"size:16"`
	TotalSteps     int
	State          string `gorm:"size:16;index"`
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// TableName keeps the snake_case table naming
func (RunRecord) TableName() string { return "runs" }

// StepRecord is one completed training step
type StepRecord struct {
	ID                  uint   `gorm:"primaryKey;autoIncrement"`
	RunID               string `gorm:"size:64;index:idx_run_step,unique"`
	Step                int64  `gorm:"index:idx_run_step,unique"`
	GroupsAdmitted      int
	GroupsRejected      int
	TrajectoriesDropped int
	DegenerateGroups    int
	MeanAdvantage       float64
	MeanReturn          float64
	DurationMS          int64
	CreatedAt           time.Time
}

func (StepRecord) TableName() string { return "run_steps" }

// ============================================================================
// Repository
// ============================================================================

// Repository implements the trainer's run store over gorm
type Repository struct {
	db *gorm.DB
}

// New opens the database and migrates the tracking tables
func New(cfg config.DatabaseConfig) (*Repository, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to connect to postgres")
	}
	if err := db.AutoMigrate(&RunRecord{}, &StepRecord{}); err != nil {
		return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to migrate tracking tables")
	}
	return &Repository{db: db}, nil
}

// StartRun inserts the run row
func (r *Repository) StartRun(ctx context.Context, runID string, cfg *config.Config) error {
	record := RunRecord{
		ID:             runID,
		ProjectName:    cfg.Trainer.ProjectName,
		ExperimentName: cfg.Trainer.ExperimentName,
		AdvEstimator:   cfg.Algorithm.Estimator(),
		RMUpdate:       cfg.RewardModel.UpdatePolicy(),
		TotalSteps:     cfg.Trainer.TotalSteps,
		State:          types.RunStateRunning.String(),
		StartedAt:      time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return errors.Wrap(err, errors.CodeInfrastructure, "failed to insert run record")
	}
	return nil
}

// RecordStep inserts one step row
func (r *Repository) RecordStep(ctx context.Context, runID string, m trainer.StepMetrics) error {
	record := StepRecord{
		RunID:               runID,
		Step:                m.Step,
		GroupsAdmitted:      m.GroupsAdmitted,
		GroupsRejected:      m.GroupsRejected,
		TrajectoriesDropped: m.TrajectoriesDropped,
		DegenerateGroups:    m.DegenerateGroups,
		MeanAdvantage:       m.MeanAdvantage,
		MeanReturn:          m.MeanReturn,
		DurationMS:          m.Duration.Milliseconds(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return errors.Wrap(err, errors.CodeInfrastructure, "failed to insert step record")
	}
	return nil
}

// FinishRun sets the terminal state and finish time
func (r *Repository) FinishRun(ctx context.Context, runID string, state types.RunState) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&RunRecord{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{"state": state.String(), "finished_at": &now})
	if result.Error != nil {
		return errors.Wrap(result.Error, errors.CodeInfrastructure, "failed to finish run record")
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundError("run " + runID)
	}
	return nil
}

// GetRun loads one run row
func (r *Repository) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var record RunRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", runID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFoundError("run " + runID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to load run record")
	}
	return &record, nil
}

// ListSteps returns the most recent step rows for a run, newest first
func (r *Repository) ListSteps(ctx context.Context, runID string, limit int) ([]StepRecord, error) {
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	var records []StepRecord
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to list step records")
	}
	return records, nil
}
