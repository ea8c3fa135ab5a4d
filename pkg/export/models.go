package export

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"gorm.io/datatypes"
)

type RunModel struct {
	ID           uuid.UUID         `gorm:"primaryKey;column:id"`
	JobID        uuid.UUID         `gorm:"column:job_id;uniqueIndex:idx_export_runs_job_token"`
	RunToken     string            `gorm:"column:run_token;uniqueIndex:idx_export_runs_job_token"`
	Trigger      string            `gorm:"column:trigger"`
	Status       string            `gorm:"column:status"`
	TotalRecords int               `gorm:"column:total_records"`
	Destinations datatypes.JSON    `gorm:"column:destinations"`
	Metadata     datatypes.JSONMap `gorm:"column:metadata"`
	ErrorMessage string            `gorm:"column:error_message"`
	StartedAt    time.Time         `gorm:"column:started_at"`
	FinishedAt   *time.Time        `gorm:"column:finished_at"`
	CreatedAt    time.Time         `gorm:"column:created_at;index"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
}

func (RunModel) TableName() string {
	return "export_runs"
}

func runToDomain(model *RunModel) models.RunRecord {
	record := models.RunRecord{
		ID:           model.ID,
		JobID:        model.JobID,
		RunToken:     model.RunToken,
		Trigger:      model.Trigger,
		Status:       model.Status,
		TotalRecords: model.TotalRecords,
		ErrorMessage: model.ErrorMessage,
		StartedAt:    model.StartedAt,
		FinishedAt:   model.FinishedAt,
	}
	if len(model.Destinations) > 0 {
		_ = json.Unmarshal(model.Destinations, &record.Destinations)
	}
	if model.Metadata != nil {
		record.Metadata = map[string]interface{}(model.Metadata)
	}
	return record
}

func destinationsJSON(results []models.DestinationResult) datatypes.JSON {
	if len(results) == 0 {
		return nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
