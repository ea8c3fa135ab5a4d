package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("export job not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&JobModel{})
}

func (r *Repository) Create(ctx context.Context, job *JobModel) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*JobModel, error) {
	var job JobModel
	result := r.db.WithContext(ctx).First(&job, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	return &job, result.Error
}

func (r *Repository) List(ctx context.Context, limit int) ([]JobModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobList []JobModel
	result := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&jobList)
	return jobList, result.Error
}

// ListActive returns the jobs the scheduler registers at init: active
// status with a nonzero recurring interval.
func (r *Repository) ListActive(ctx context.Context) ([]JobModel, error) {
	var jobList []JobModel
	result := r.db.WithContext(ctx).
		Where("status = ? AND interval_minutes > 0", models.JobStatusActive).
		Find(&jobList)
	return jobList, result.Error
}

func (r *Repository) UpdateSchedule(ctx context.Context, id uuid.UUID, intervalMinutes int) error {
	return r.db.WithContext(ctx).Model(&JobModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"interval_minutes": intervalMinutes,
		"updated_at":       time.Now().UTC(),
	}).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.db.WithContext(ctx).Model(&JobModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}).Error
}
