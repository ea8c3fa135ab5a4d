package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rowbridge-io/platform/pkg/audit"
	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"github.com/rowbridge-io/platform/pkg/gate"
	"gorm.io/datatypes"
)

// ErrNotAllowed marks a change the capability gate rejected.
var ErrNotAllowed = errors.New("not allowed")

// Trigger is the scheduler surface the jobs service drives when a
// definition is created, rescheduled, paused or resumed.
type Trigger interface {
	Register(job models.JobDefinition)
	Stop(jobID uuid.UUID)
}

type CreateJobInput struct {
	Name            string               `json:"name"`
	IntervalMinutes int                  `json:"interval_minutes"`
	Dataset         string               `json:"dataset"`
	Filter          models.FilterSpec    `json:"filter"`
	Fields          []string             `json:"fields"`
	Destinations    []models.Destination `json:"destinations"`
	Settings        models.JobSettings   `json:"settings"`
}

type Service struct {
	repo    *Repository
	gate    gate.Client
	trigger Trigger
	audit   *audit.Repository
}

func NewService(repo *Repository, gateClient gate.Client, trigger Trigger, auditRepo *audit.Repository) *Service {
	return &Service{repo: repo, gate: gateClient, trigger: trigger, audit: auditRepo}
}

// Create accepts a new job definition after the external capability
// gate approves it. This service implements no plan logic itself.
func (s *Service) Create(ctx context.Context, input CreateJobInput, actor string) (models.JobDefinition, error) {
	if input.Name == "" || input.Dataset == "" {
		return models.JobDefinition{}, fmt.Errorf("name and dataset are required")
	}

	if err := s.checkGate(ctx, gate.ActionJobCreate, map[string]interface{}{
		"dataset":          input.Dataset,
		"interval_minutes": input.IntervalMinutes,
		"field_count":      len(input.Fields),
	}); err != nil {
		return models.JobDefinition{}, err
	}

	now := time.Now().UTC()
	model := &JobModel{
		ID:              uuid.New(),
		Name:            input.Name,
		IntervalMinutes: input.IntervalMinutes,
		Status:          models.JobStatusActive,
		Dataset:         input.Dataset,
		Filter:          marshalJSON(input.Filter),
		Fields:          marshalJSON(input.Fields),
		Destinations:    marshalJSON(input.Destinations),
		Settings:        marshalJSON(input.Settings),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, model); err != nil {
		return models.JobDefinition{}, err
	}

	job := toDomain(model)
	s.recordAudit(ctx, actor, "job.created", job.ID.String(), map[string]interface{}{
		"name":             job.Name,
		"dataset":          job.Dataset,
		"interval_minutes": job.IntervalMinutes,
	})
	if s.trigger != nil && job.IntervalMinutes > 0 {
		s.trigger.Register(job)
	}
	return job, nil
}

// Get implements the run coordinator's job provider.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.JobDefinition, error) {
	model, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.JobDefinition{}, err
	}
	return toDomain(model), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]models.JobDefinition, error) {
	jobList, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := make([]models.JobDefinition, 0, len(jobList))
	for _, model := range jobList {
		copy := model
		result = append(result, toDomain(&copy))
	}
	return result, nil
}

// ListActive feeds the scheduler at init.
func (s *Service) ListActive(ctx context.Context) ([]models.JobDefinition, error) {
	jobList, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]models.JobDefinition, 0, len(jobList))
	for _, model := range jobList {
		copy := model
		result = append(result, toDomain(&copy))
	}
	return result, nil
}

// Reschedule changes the recurring interval. A tightened schedule goes
// through the capability gate first; loosening or disabling does not.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, intervalMinutes int, actor string) (models.JobDefinition, error) {
	model, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.JobDefinition{}, err
	}

	if scheduleTightened(model.IntervalMinutes, intervalMinutes) {
		if err := s.checkGate(ctx, gate.ActionJobSchedule, map[string]interface{}{
			"job_id":           id.String(),
			"interval_minutes": intervalMinutes,
		}); err != nil {
			return models.JobDefinition{}, err
		}
	}

	if err := s.repo.UpdateSchedule(ctx, id, intervalMinutes); err != nil {
		return models.JobDefinition{}, err
	}
	model.IntervalMinutes = intervalMinutes
	job := toDomain(model)

	s.recordAudit(ctx, actor, "job.rescheduled", id.String(), map[string]interface{}{
		"interval_minutes": intervalMinutes,
	})

	if s.trigger != nil {
		s.trigger.Stop(id)
		if job.Status == models.JobStatusActive && job.IntervalMinutes > 0 {
			s.trigger.Register(job)
		}
	}
	return job, nil
}

func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status, actor string) (models.JobDefinition, error) {
	if status != models.JobStatusActive && status != models.JobStatusPaused {
		return models.JobDefinition{}, fmt.Errorf("unknown job status %q", status)
	}
	model, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.JobDefinition{}, err
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return models.JobDefinition{}, err
	}
	model.Status = status
	job := toDomain(model)

	s.recordAudit(ctx, actor, "job.status_changed", id.String(), map[string]interface{}{"status": status})

	if s.trigger != nil {
		s.trigger.Stop(id)
		if status == models.JobStatusActive && job.IntervalMinutes > 0 {
			s.trigger.Register(job)
		}
	}
	return job, nil
}

// AuditTrail lists the recorded configuration changes for one job.
func (s *Service) AuditTrail(ctx context.Context, id uuid.UUID, limit int) ([]audit.EntryModel, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.List(ctx, id.String(), limit)
}

// scheduleTightened reports whether the new interval fires more often
// than the old one. Enabling a disabled schedule counts as tightening;
// loosening or disabling never needs gate approval.
func scheduleTightened(oldMinutes, newMinutes int) bool {
	if newMinutes <= 0 {
		return false
	}
	return oldMinutes == 0 || newMinutes < oldMinutes
}

func (s *Service) checkGate(ctx context.Context, action string, details map[string]interface{}) error {
	if s.gate == nil {
		return nil
	}
	decision, err := s.gate.Check(ctx, action, details)
	if err != nil {
		return fmt.Errorf("capability check failed: %w", err)
	}
	if !decision.Allowed {
		reason := decision.Reason
		if reason == "" {
			reason = "capability gate rejected the request"
		}
		return fmt.Errorf("%w: %s", ErrNotAllowed, reason)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entityID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, actor, action, "export_job", entityID, payload); err != nil {
		logger.Log.WithError(err).Warn("Job audit record failed")
	}
}

func marshalJSON(value interface{}) datatypes.JSON {
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
