package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rowbridge-io/platform/pkg/catalog"
	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"github.com/rowbridge-io/platform/pkg/filter"
	"github.com/rowbridge-io/platform/pkg/observability/metrics"
)

// RunStore is the persistence contract for run records. Create must be
// atomic with respect to the (job id, run token) uniqueness invariant.
type RunStore interface {
	Create(ctx context.Context, run *RunModel) error
	FindByToken(ctx context.Context, jobID uuid.UUID, runToken string) (*RunModel, error)
	Finalize(ctx context.Context, id uuid.UUID, status string, totalRecords int, results []models.DestinationResult, metadata map[string]interface{}, errorMessage string) error
}

// JobProvider supplies job definitions owned by the external
// configuration service. Legacy field keys in the definition are
// resolved through the catalog before the pipeline runs.
type JobProvider interface {
	Get(ctx context.Context, id uuid.UUID) (models.JobDefinition, error)
}

type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, jobID, runID, status string, totalRecords int) error
}

type AuditRecorder interface {
	Record(ctx context.Context, actor, action, entity, entityID string, payload map[string]interface{}) error
}

type ServiceConfig struct {
	StaleAfter       time.Duration
	DecimalSeparator string
	DefaultTaxRate   float64
}

// Service coordinates one export run per (job id, run token) pair:
// it claims the token by creating a pending run record, drives the
// pipeline, and finalizes exactly one terminal status.
type Service struct {
	runs     RunStore
	jobs     JobProvider
	pipeline *Pipeline
	writer   *Writer
	catalog  catalog.Catalog
	events   EventPublisher
	audit    AuditRecorder
	cfg      ServiceConfig
}

func NewService(runs RunStore, jobs JobProvider, pipeline *Pipeline, writer *Writer, cat catalog.Catalog, events EventPublisher, audit AuditRecorder, cfg ServiceConfig) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.DecimalSeparator == "" {
		cfg.DecimalSeparator = ","
	}
	return &Service{
		runs:     runs,
		jobs:     jobs,
		pipeline: pipeline,
		writer:   writer,
		catalog:  cat,
		events:   events,
		audit:    audit,
		cfg:      cfg,
	}
}

// Execute runs the export pipeline at most once for the given token.
// A duplicate token resolves to the earlier run's outcome: in-progress
// runs report staleness, terminal runs report their recorded result.
// An empty token synthesizes a fresh one, preserving the non-idempotent
// caller behavior of a distinct execution per request.
func (s *Service) Execute(ctx context.Context, jobID uuid.UUID, runToken, trigger string) (models.RunOutcome, error) {
	if runToken == "" {
		runToken = uuid.New().String()
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return models.RunOutcome{}, fmt.Errorf("job lookup failed: %w", err)
	}

	now := time.Now().UTC()
	run := &RunModel{
		ID:        uuid.New(),
		JobID:     jobID,
		RunToken:  runToken,
		Trigger:   trigger,
		Status:    models.RunStatusPending,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.runs.Create(ctx, run); err != nil {
		if errors.Is(err, ErrDuplicateRun) {
			return s.cachedOutcome(ctx, jobID, runToken)
		}
		return models.RunOutcome{}, fmt.Errorf("run record create failed: %w", err)
	}

	metrics.RunStarted()
	logger.Log.WithFields(map[string]interface{}{
		"job_id":    jobID.String(),
		"run_id":    run.ID.String(),
		"run_token": runToken,
		"trigger":   trigger,
	}).Info("Export run started")

	return s.runPipeline(ctx, job, run), nil
}

// cachedOutcome resolves a duplicate-token request from the run that
// already claimed it. Never an error from the caller's perspective.
func (s *Service) cachedOutcome(ctx context.Context, jobID uuid.UUID, runToken string) (models.RunOutcome, error) {
	existing, err := s.runs.FindByToken(ctx, jobID, runToken)
	if err != nil {
		return models.RunOutcome{}, fmt.Errorf("duplicate run lookup failed: %w", err)
	}
	record := runToDomain(existing)

	outcome := models.RunOutcome{
		Cached:       true,
		RunID:        record.ID,
		ClientRunID:  runToken,
		Status:       record.Status,
		TotalRecords: record.TotalRecords,
		Destinations: record.Destinations,
		Metadata:     record.Metadata,
	}
	if record.Status == models.RunStatusPending {
		outcome.InProgress = true
		outcome.Stale = time.Since(record.StartedAt) > s.cfg.StaleAfter
	}
	return outcome, nil
}

func (s *Service) runPipeline(ctx context.Context, job models.JobDefinition, run *RunModel) models.RunOutcome {
	metadata := map[string]interface{}{"trigger": run.Trigger}
	settings := s.effectiveSettings(job.Settings)
	fields := s.resolveFields(job.Dataset, job.Fields)
	spec := s.resolveFilter(job.Dataset, job.Filter)

	if len(job.Destinations) == 0 {
		return s.finalize(ctx, run, models.RunStatusFailure, 0, nil, metadata, "no destination configured for job")
	}

	remote, local := filter.Split(spec, s.catalog.RemoteRules(job.Dataset))
	metadata["remote_filters"] = len(remote)

	fetchStart := time.Now()
	records, err := s.pipeline.FetchBase(ctx, job.Dataset, remote)
	metadata["fetch_ms"] = time.Since(fetchStart).Milliseconds()
	if err != nil {
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = "run timed out during fetch"
		}
		return s.finalize(ctx, run, models.RunStatusFailure, 0, nil, metadata, message)
	}
	metadata["fetched_records"] = len(records)

	enrichStart := time.Now()
	s.pipeline.Enrich(ctx, job.Dataset, records, fields, settings)
	metadata["enrich_ms"] = time.Since(enrichStart).Milliseconds()

	filterStart := time.Now()
	filtered := make([]Record, 0, len(records))
	for _, record := range records {
		if filter.Evaluate(record, local) {
			filtered = append(filtered, record)
		}
	}
	metadata["filter_ms"] = time.Since(filterStart).Milliseconds()
	total := len(filtered)

	if total == 0 {
		// Nothing to deliver is a successful run, not an error.
		return s.finalize(ctx, run, models.RunStatusSuccess, 0, nil, metadata, "")
	}

	formatter := NewFormatter(s.catalog, settings.DecimalSeparator)
	header, rows := formatter.Project(job.Dataset, filtered, fields)

	if ctx.Err() != nil {
		return s.finalize(ctx, run, models.RunStatusFailure, total, nil, metadata, "run timed out before destination writes")
	}

	writeStart := time.Now()
	results := s.writer.WriteAll(ctx, job.Destinations, header, rows)
	metadata["write_ms"] = time.Since(writeStart).Milliseconds()

	status := Aggregate(results)
	errorMessage := ""
	if status == models.RunStatusFailure && ctx.Err() != nil {
		errorMessage = "run timed out during destination writes"
	}
	return s.finalize(ctx, run, status, total, results, metadata, errorMessage)
}

// finalize records the single terminal state and notifies collaborators
// best-effort. Finalization itself must not use the run context: a
// timed-out run still has to be marked failed.
func (s *Service) finalize(ctx context.Context, run *RunModel, status string, totalRecords int, results []models.DestinationResult, metadata map[string]interface{}, errorMessage string) models.RunOutcome {
	metrics.RunFinished(status, totalRecords)

	persistCtx := context.WithoutCancel(ctx)
	if err := s.runs.Finalize(persistCtx, run.ID, status, totalRecords, results, metadata, errorMessage); err != nil {
		logger.Log.WithError(err).WithField("run_id", run.ID.String()).Error("Failed to finalize run record")
	}

	entry := logger.Log.WithFields(map[string]interface{}{
		"run_id":        run.ID.String(),
		"job_id":        run.JobID.String(),
		"status":        status,
		"total_records": totalRecords,
	})
	if errorMessage != "" {
		entry = entry.WithField("error", errorMessage)
	}
	entry.Info("Export run finished")

	if s.events != nil {
		if err := s.events.PublishRunCompleted(persistCtx, run.JobID.String(), run.ID.String(), status, totalRecords); err != nil {
			logger.Log.WithError(err).Warn("Run event publish failed")
		}
	}
	if s.audit != nil {
		payload := map[string]interface{}{
			"status":        status,
			"total_records": totalRecords,
			"trigger":       run.Trigger,
		}
		if err := s.audit.Record(persistCtx, "export-service", "run."+status, "export_run", run.ID.String(), payload); err != nil {
			logger.Log.WithError(err).Warn("Run audit record failed")
		}
	}

	return models.RunOutcome{
		RunID:        run.ID,
		ClientRunID:  run.RunToken,
		Status:       status,
		TotalRecords: totalRecords,
		Destinations: results,
		Metadata:     metadata,
	}
}

func (s *Service) effectiveSettings(settings models.JobSettings) models.JobSettings {
	if settings.DecimalSeparator == "" {
		settings.DecimalSeparator = s.cfg.DecimalSeparator
	}
	if settings.DefaultTaxRate == 0 {
		settings.DefaultTaxRate = s.cfg.DefaultTaxRate
	}
	return settings
}

func (s *Service) resolveFields(dataset string, fields []string) []string {
	resolved := make([]string, len(fields))
	for i, key := range fields {
		resolved[i] = s.catalog.Resolve(dataset, key)
	}
	return resolved
}

func (s *Service) resolveFilter(dataset string, spec models.FilterSpec) models.FilterSpec {
	resolved := models.FilterSpec{Logic: spec.Logic, Groups: make([]models.FilterGroup, len(spec.Groups))}
	for i, group := range spec.Groups {
		resolvedGroup := models.FilterGroup{Logic: group.Logic, Conditions: make([]models.FilterCondition, len(group.Conditions))}
		for j, cond := range group.Conditions {
			cond.Field = s.catalog.Resolve(dataset, cond.Field)
			resolvedGroup.Conditions[j] = cond
		}
		resolved.Groups[i] = resolvedGroup
	}
	return resolved
}
