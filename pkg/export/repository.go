package export

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateRun is returned when a run with the same
	// (job id, run token) pair already exists.
	ErrDuplicateRun = errors.New("run with this token already exists")
	ErrRunNotFound  = errors.New("run not found")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunModel{})
}

// Create inserts a pending run. The composite unique index on
// (job_id, run_token) makes this the atomic create-or-detect step:
// a conflict means some earlier request already claimed the token.
func (r *Repository) Create(ctx context.Context, run *RunModel) error {
	err := r.db.WithContext(ctx).Create(run).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return ErrDuplicateRun
	}
	return err
}

func (r *Repository) FindByToken(ctx context.Context, jobID uuid.UUID, runToken string) (*RunModel, error) {
	var run RunModel
	result := r.db.WithContext(ctx).First(&run, "job_id = ? AND run_token = ?", jobID, runToken)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &run, result.Error
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*RunModel, error) {
	var run RunModel
	result := r.db.WithContext(ctx).First(&run, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &run, result.Error
}

// Finalize transitions a pending run to its single terminal status.
func (r *Repository) Finalize(ctx context.Context, id uuid.UUID, status string, totalRecords int, results []models.DestinationResult, metadata map[string]interface{}, errorMessage string) error {
	finished := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        status,
		"total_records": totalRecords,
		"error_message": errorMessage,
		"finished_at":   finished,
		"updated_at":    finished,
	}
	if results != nil {
		updates["destinations"] = destinationsJSON(results)
	}
	if metadata != nil {
		updates["metadata"] = datatypes.JSONMap(metadata)
	}
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Updates(updates).Error
}

func (r *Repository) List(ctx context.Context, jobID uuid.UUID, limit int) ([]RunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if jobID != uuid.Nil {
		query = query.Where("job_id = ?", jobID)
	}
	var runs []RunModel
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// PurgeOlderThan deletes terminal runs past the retention window.
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ? AND status <> ?", cutoff, models.RunStatusPending).
		Delete(&RunModel{})
	return result.RowsAffected, result.Error
}

// isUniqueViolation covers drivers that surface the conflict before
// gorm's error translation kicks in.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique violation")
}
