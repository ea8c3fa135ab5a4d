package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"github.com/rowbridge-io/platform/pkg/observability/metrics"
)

// Runner executes one export run; implemented by the export service.
type Runner interface {
	Execute(ctx context.Context, jobID uuid.UUID, runToken, trigger string) (models.RunOutcome, error)
}

// JobSource supplies the active recurring job definitions at init.
type JobSource interface {
	ListActive(ctx context.Context) ([]models.JobDefinition, error)
}

// PurgeFunc deletes records older than the cutoff and reports how many
// went away. Maintenance runs every registered purger daily.
type PurgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

const maintenanceHour = 3

type Config struct {
	RunTimeout time.Duration
	Retention  time.Duration
}

// Scheduler owns one recurring trigger per job and a daily maintenance
// trigger. Per-job overlap is prevented by a process-local running set;
// multi-instance deployments need an external lock instead.
type Scheduler struct {
	runner  Runner
	source  JobSource
	cfg     Config
	purgers []PurgeFunc

	mu       sync.Mutex
	triggers map[uuid.UUID]context.CancelFunc
	running  map[uuid.UUID]struct{}

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg Config) *Scheduler {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		triggers:   make(map[uuid.UUID]context.CancelFunc),
		running:    make(map[uuid.UUID]struct{}),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// SetRunner and SetSource break the construction cycle between the
// scheduler, the jobs service and the export service. Both must be set
// before Init.
func (s *Scheduler) SetRunner(runner Runner) {
	s.runner = runner
}

func (s *Scheduler) SetSource(source JobSource) {
	s.source = source
}

// AddPurger registers a retention purge target for maintenance.
func (s *Scheduler) AddPurger(purge PurgeFunc) {
	s.purgers = append(s.purgers, purge)
}

// Init registers every active nonzero-interval job and starts the
// daily maintenance trigger.
func (s *Scheduler) Init(ctx context.Context) error {
	jobList, err := s.source.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobList {
		s.Register(job)
	}
	logger.Log.WithField("jobs", len(jobList)).Info("Scheduler initialized")

	s.wg.Add(1)
	go s.maintenanceLoop()
	return nil
}

// Register starts the recurring trigger for a job. Interval 0 means
// manual-only and registers nothing. An existing trigger for the same
// job is replaced.
func (s *Scheduler) Register(job models.JobDefinition) {
	s.mu.Lock()
	if cancel, ok := s.triggers[job.ID]; ok {
		cancel()
		delete(s.triggers, job.ID)
	}
	if job.IntervalMinutes <= 0 {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.rootCtx)
	s.triggers[job.ID] = cancel
	s.mu.Unlock()

	logger.Log.WithFields(map[string]interface{}{
		"job_id":           job.ID.String(),
		"interval_minutes": job.IntervalMinutes,
	}).Info("Job trigger registered")

	s.wg.Add(1)
	go s.loop(ctx, job)
}

// Stop unregisters the trigger for a job, if any.
func (s *Scheduler) Stop(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.triggers[jobID]; ok {
		cancel()
		delete(s.triggers, jobID)
		logger.Log.WithField("job_id", jobID.String()).Info("Job trigger stopped")
	}
}

// Reschedule is stop followed by re-register with the new definition.
func (s *Scheduler) Reschedule(job models.JobDefinition) {
	s.Stop(job.ID)
	s.Register(job)
}

// Shutdown cancels every trigger and waits for in-flight loops.
func (s *Scheduler) Shutdown() {
	s.rootCancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job models.JobDefinition) {
	defer s.wg.Done()
	for {
		next := NextFire(job.IntervalMinutes, time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(job)
		}
	}
}

// fire runs one triggered execution. Failures and timeouts are logged
// and never terminate the scheduler; the job stays eligible for its
// next trigger.
func (s *Scheduler) fire(job models.JobDefinition) {
	if !s.tryAcquire(job.ID) {
		metrics.TriggerSkipped()
		logger.Log.WithField("job_id", job.ID.String()).Warn("Previous execution still running, skipping trigger")
		return
	}
	defer s.release(job.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithFields(map[string]interface{}{
				"job_id": job.ID.String(),
				"panic":  r,
			}).Error("Triggered execution panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	outcome, err := s.runner.Execute(ctx, job.ID, "", models.TriggerSchedule)
	if err != nil {
		logger.Log.WithError(err).WithField("job_id", job.ID.String()).Error("Triggered execution failed")
		return
	}
	logger.Log.WithFields(map[string]interface{}{
		"job_id":        job.ID.String(),
		"run_id":        outcome.RunID.String(),
		"status":        outcome.Status,
		"total_records": outcome.TotalRecords,
	}).Info("Triggered execution finished")
}

func (s *Scheduler) tryAcquire(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[jobID]; busy {
		return false
	}
	s.running[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

func (s *Scheduler) maintenanceLoop() {
	defer s.wg.Done()
	for {
		next := nextMaintenance(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.rootCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runMaintenance()
		}
	}
}

func (s *Scheduler) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.cfg.Retention)
	var total int64
	for _, purge := range s.purgers {
		count, err := purge(ctx, cutoff)
		if err != nil {
			logger.Log.WithError(err).Error("Maintenance purge failed")
			continue
		}
		total += count
	}
	logger.Log.WithFields(map[string]interface{}{
		"cutoff":  cutoff.Format(time.RFC3339),
		"deleted": total,
	}).Info("Maintenance completed")
}

// NextFire converts an interval in minutes to the next trigger time:
// sub-hour intervals fire every N minutes, sub-day intervals every N
// hours, and longer intervals every N days at local midnight.
func NextFire(intervalMinutes int, now time.Time) time.Time {
	switch {
	case intervalMinutes < 60:
		return now.Add(time.Duration(intervalMinutes) * time.Minute)
	case intervalMinutes < 24*60:
		hours := intervalMinutes / 60
		return now.Add(time.Duration(hours) * time.Hour)
	default:
		days := intervalMinutes / (24 * 60)
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		return midnight.AddDate(0, 0, days-1)
	}
}

func nextMaintenance(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), maintenanceHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
