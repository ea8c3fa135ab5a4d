package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"github.com/rowbridge-io/platform/pkg/export"
	"gorm.io/datatypes"
)

type JobModel struct {
	ID              uuid.UUID      `gorm:"primaryKey;column:id"`
	Name            string         `gorm:"column:name"`
	IntervalMinutes int            `gorm:"column:interval_minutes"`
	Status          string         `gorm:"column:status;index"`
	Dataset         string         `gorm:"column:dataset"`
	Filter          datatypes.JSON `gorm:"column:filter"`
	Fields          datatypes.JSON `gorm:"column:fields"`
	Destinations    datatypes.JSON `gorm:"column:destinations"`
	Settings        datatypes.JSON `gorm:"column:settings"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (JobModel) TableName() string {
	return "export_jobs"
}

func toDomain(model *JobModel) models.JobDefinition {
	job := models.JobDefinition{
		ID:              model.ID,
		Name:            model.Name,
		IntervalMinutes: model.IntervalMinutes,
		Status:          model.Status,
		Dataset:         model.Dataset,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
	if len(model.Filter) > 0 {
		_ = json.Unmarshal(model.Filter, &job.Filter)
	}
	if len(model.Fields) > 0 {
		_ = json.Unmarshal(model.Fields, &job.Fields)
	}
	if len(model.Settings) > 0 {
		_ = json.Unmarshal(model.Settings, &job.Settings)
	}
	// Destination lists were stored in several historical shapes.
	job.Destinations = export.NormalizeDestinations(json.RawMessage(model.Destinations))
	return job
}
