package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rowbridge-io/platform/pkg/catalog"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"github.com/rowbridge-io/platform/pkg/source"
)

type memoryRunStore struct {
	mu   sync.Mutex
	runs map[string]*RunModel
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{runs: make(map[string]*RunModel)}
}

func runKey(jobID uuid.UUID, token string) string {
	return jobID.String() + "/" + token
}

func (s *memoryRunStore) Create(ctx context.Context, run *RunModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(run.JobID, run.RunToken)
	if _, exists := s.runs[key]; exists {
		return ErrDuplicateRun
	}
	copied := *run
	s.runs[key] = &copied
	return nil
}

func (s *memoryRunStore) FindByToken(ctx context.Context, jobID uuid.UUID, runToken string) (*RunModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runKey(jobID, runToken)]
	if !ok {
		return nil, ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *memoryRunStore) Finalize(ctx context.Context, id uuid.UUID, status string, totalRecords int, results []models.DestinationResult, metadata map[string]interface{}, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.ID != id {
			continue
		}
		now := time.Now().UTC()
		run.Status = status
		run.TotalRecords = totalRecords
		run.Destinations = destinationsJSON(results)
		run.Metadata = metadata
		run.ErrorMessage = errorMessage
		run.FinishedAt = &now
		run.UpdatedAt = now
		return nil
	}
	return ErrRunNotFound
}

type stubJobs struct {
	jobs map[uuid.UUID]models.JobDefinition
}

func (s *stubJobs) Get(ctx context.Context, id uuid.UUID) (models.JobDefinition, error) {
	job, ok := s.jobs[id]
	if !ok {
		return models.JobDefinition{}, errors.New("job not found")
	}
	return job, nil
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) PublishRunCompleted(ctx context.Context, jobID, runID, status string, totalRecords int) error {
	p.events = append(p.events, status)
	return nil
}

func newTestService(src *stubSource, client *fakeDest, job models.JobDefinition) (*Service, *memoryRunStore, *recordingPublisher) {
	cat := catalog.Default()
	store := newMemoryRunStore()
	publisher := &recordingPublisher{}
	pipeline := NewPipeline(src, nil, cat, 1000)
	writer := noSleepWriter(client, 3, time.Millisecond, time.Second)
	jobs := &stubJobs{jobs: map[uuid.UUID]models.JobDefinition{job.ID: job}}
	svc := NewService(store, jobs, pipeline, writer, cat, publisher, nil, ServiceConfig{
		StaleAfter:       15 * time.Minute,
		DecimalSeparator: ",",
		DefaultTaxRate:   23,
	})
	return svc, store, publisher
}

func ordersJob() models.JobDefinition {
	return models.JobDefinition{
		ID:      uuid.New(),
		Name:    "confirmed orders",
		Dataset: models.DatasetOrders,
		Filter: models.FilterSpec{
			Logic: models.LogicAnd,
			Groups: []models.FilterGroup{{
				Logic: models.LogicAnd,
				Conditions: []models.FilterCondition{
					{Field: "order_status_id", Operator: "equals", Value: 5},
				},
			}},
		},
		Fields:       []string{"order_id", "email"},
		Destinations: []models.Destination{{ID: "sheet-a", Mode: models.WriteModeAppend}},
		Settings:     models.JobSettings{},
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	src := &stubSource{orders: []source.Order{
		testOrder(1, 5, "a@x.pl"),
		testOrder(2, 3, "b@x.pl"),
		testOrder(3, 5, "c@x.pl"),
	}}
	client := newFakeDest()
	job := ordersJob()
	svc, _, publisher := newTestService(src, client, job)

	outcome, err := svc.Execute(context.Background(), job.ID, "token-1", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Cached {
		t.Fatal("first execution must not be cached")
	}
	if outcome.Status != models.RunStatusSuccess {
		t.Fatalf("expected success, got %s (%v)", outcome.Status, outcome)
	}

	if src.lastParams["status_id"] != "5" {
		t.Fatalf("status filter must be delegated to the source, got %v", src.lastParams)
	}
	// Delegated conditions leave the local spec. The stub does not
	// filter server-side, so all three orders survive.
	if outcome.TotalRecords != 3 {
		t.Fatalf("expected 3 records, got %d", outcome.TotalRecords)
	}

	header := client.headers["sheet-a"]
	if len(header) != 2 || header[0] != "ID zamówienia" || header[1] != "Email" {
		t.Fatalf("unexpected header: %v", header)
	}
	if len(client.rows["sheet-a"]) != 3 {
		t.Fatalf("expected 3 data rows, got %d", len(client.rows["sheet-a"]))
	}
	if client.rows["sheet-a"][0][1] != "a@x.pl" {
		t.Fatalf("unexpected first row: %v", client.rows["sheet-a"][0])
	}
	if len(publisher.events) != 1 || publisher.events[0] != models.RunStatusSuccess {
		t.Fatalf("expected one success event, got %v", publisher.events)
	}
}

func TestExecuteDuplicateTokenReturnsCachedOutcome(t *testing.T) {
	src := &stubSource{orders: []source.Order{testOrder(1, 5, "a@x.pl")}}
	client := newFakeDest()
	job := ordersJob()
	svc, _, _ := newTestService(src, client, job)

	first, err := svc.Execute(context.Background(), job.ID, "token-dup", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fetchesAfterFirst := src.fetchCalls

	second, err := svc.Execute(context.Background(), job.ID, "token-dup", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Cached {
		t.Fatal("duplicate token must resolve to the cached outcome")
	}
	if second.RunID != first.RunID {
		t.Fatalf("cached outcome must reference the original run: %s vs %s", second.RunID, first.RunID)
	}
	if second.Status != models.RunStatusSuccess || second.TotalRecords != first.TotalRecords {
		t.Fatalf("cached outcome must carry the recorded result: %+v", second)
	}
	if src.fetchCalls != fetchesAfterFirst {
		t.Fatal("duplicate token must not run the pipeline again")
	}
	if client.calls["sheet-a"] != 1 {
		t.Fatalf("duplicate token must not write again, got %d writes", client.calls["sheet-a"])
	}
}

func TestExecuteDistinctTokensRunIndependently(t *testing.T) {
	src := &stubSource{orders: []source.Order{testOrder(1, 5, "a@x.pl")}}
	client := newFakeDest()
	job := ordersJob()
	svc, _, _ := newTestService(src, client, job)

	if _, err := svc.Execute(context.Background(), job.ID, "token-a", models.TriggerAPI); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome, err := svc.Execute(context.Background(), job.ID, "token-b", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Cached {
		t.Fatal("a distinct token must start a fresh run")
	}
	if client.calls["sheet-a"] != 2 {
		t.Fatalf("expected 2 writes, got %d", client.calls["sheet-a"])
	}
}

func TestExecutePendingDuplicateReportsStaleness(t *testing.T) {
	src := &stubSource{orders: []source.Order{testOrder(1, 5, "a@x.pl")}}
	job := ordersJob()
	svc, store, _ := newTestService(src, newFakeDest(), job)

	// Simulate a run that claimed the token 16 minutes ago and never
	// finished.
	stuck := &RunModel{
		ID:        uuid.New(),
		JobID:     job.ID,
		RunToken:  "token-stuck",
		Status:    models.RunStatusPending,
		StartedAt: time.Now().UTC().Add(-16 * time.Minute),
	}
	if err := store.Create(context.Background(), stuck); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	outcome, err := svc.Execute(context.Background(), job.ID, "token-stuck", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Cached || !outcome.InProgress {
		t.Fatalf("expected cached in-progress outcome, got %+v", outcome)
	}
	if !outcome.Stale {
		t.Fatal("a pending run older than the threshold must be flagged stale")
	}

	// A fresh pending run is in progress but not stale.
	recent := &RunModel{
		ID:        uuid.New(),
		JobID:     job.ID,
		RunToken:  "token-fresh",
		Status:    models.RunStatusPending,
		StartedAt: time.Now().UTC().Add(-1 * time.Minute),
	}
	if err := store.Create(context.Background(), recent); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	outcome, err = svc.Execute(context.Background(), job.ID, "token-fresh", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.InProgress || outcome.Stale {
		t.Fatalf("expected fresh in-progress outcome, got %+v", outcome)
	}
}

func TestExecuteEmptyTokenSynthesizesOne(t *testing.T) {
	src := &stubSource{orders: []source.Order{testOrder(1, 5, "a@x.pl")}}
	client := newFakeDest()
	job := ordersJob()
	svc, _, _ := newTestService(src, client, job)

	first, err := svc.Execute(context.Background(), job.ID, "", models.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Execute(context.Background(), job.ID, "", models.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Cached || second.Cached {
		t.Fatal("empty tokens must behave as distinct executions")
	}
	if first.ClientRunID == "" || first.ClientRunID == second.ClientRunID {
		t.Fatalf("each empty-token execution needs its own token: %q vs %q", first.ClientRunID, second.ClientRunID)
	}
}

func TestExecuteZeroMatchesIsSuccess(t *testing.T) {
	src := &stubSource{orders: []source.Order{testOrder(1, 3, "a@x.pl")}}
	client := newFakeDest()
	job := ordersJob()
	job.Filter = models.FilterSpec{
		Logic: models.LogicAnd,
		Groups: []models.FilterGroup{{
			Logic: models.LogicAnd,
			Conditions: []models.FilterCondition{
				{Field: "email", Operator: "equals", Value: "nobody@x.pl"},
			},
		}},
	}
	svc, _, _ := newTestService(src, client, job)

	outcome, err := svc.Execute(context.Background(), job.ID, "token-empty", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != models.RunStatusSuccess {
		t.Fatalf("zero matching records must still be success, got %s", outcome.Status)
	}
	if outcome.TotalRecords != 0 {
		t.Fatalf("expected 0 records, got %d", outcome.TotalRecords)
	}
	if client.calls["sheet-a"] != 0 {
		t.Fatal("no destination write must happen for an empty result")
	}
}

func TestExecuteExpiredContextFinalizesTimeout(t *testing.T) {
	src := &stubSource{orders: []source.Order{testOrder(1, 5, "a@x.pl")}}
	client := newFakeDest()
	job := ordersJob()
	svc, store, _ := newTestService(src, client, job)

	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()

	outcome, err := svc.Execute(ctx, job.ID, "token-timeout", models.TriggerSchedule)
	if err != nil {
		t.Fatalf("a timed-out run must still resolve to an outcome: %v", err)
	}
	if outcome.Status != models.RunStatusFailure {
		t.Fatalf("expected failure, got %s", outcome.Status)
	}
	if client.calls["sheet-a"] != 0 {
		t.Fatal("no destination write must happen after the deadline")
	}

	// Finalization must survive the dead context and record the
	// timeout message.
	persisted, err := store.FindByToken(context.Background(), job.ID, "token-timeout")
	if err != nil {
		t.Fatalf("run record missing: %v", err)
	}
	if persisted.Status != models.RunStatusFailure {
		t.Fatalf("expected persisted failure, got %s", persisted.Status)
	}
	if persisted.ErrorMessage != "run timed out during fetch" {
		t.Fatalf("unexpected error message: %q", persisted.ErrorMessage)
	}
}

func TestExecuteNoDestinationsFails(t *testing.T) {
	src := &stubSource{orders: []source.Order{testOrder(1, 5, "a@x.pl")}}
	job := ordersJob()
	job.Destinations = nil
	svc, store, _ := newTestService(src, newFakeDest(), job)

	outcome, err := svc.Execute(context.Background(), job.ID, "token-nodest", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != models.RunStatusFailure {
		t.Fatalf("expected failure, got %s", outcome.Status)
	}
	persisted, err := store.FindByToken(context.Background(), job.ID, "token-nodest")
	if err != nil {
		t.Fatalf("run record missing: %v", err)
	}
	if persisted.ErrorMessage != "no destination configured for job" {
		t.Fatalf("unexpected error message: %q", persisted.ErrorMessage)
	}
}

func TestExecuteResolvesLegacyFieldKeys(t *testing.T) {
	src := &stubSource{orders: []source.Order{
		testOrder(1, 5, "a@x.pl"),
		testOrder(2, 5, "b@x.pl"),
	}}
	client := newFakeDest()
	job := ordersJob()
	job.Fields = []string{"order_id", "client_email"}
	job.Filter = models.FilterSpec{
		Logic: models.LogicAnd,
		Groups: []models.FilterGroup{{
			Logic: models.LogicAnd,
			Conditions: []models.FilterCondition{
				{Field: "client_email", Operator: "equals", Value: "b@x.pl"},
			},
		}},
	}
	svc, _, _ := newTestService(src, client, job)

	outcome, err := svc.Execute(context.Background(), job.ID, "token-legacy", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.TotalRecords != 1 {
		t.Fatalf("legacy filter key must resolve and match, got %d records", outcome.TotalRecords)
	}
	header := client.headers["sheet-a"]
	if len(header) != 2 || header[1] != "Email" {
		t.Fatalf("legacy field key must resolve to the current label: %v", header)
	}
	if client.rows["sheet-a"][0][1] != "b@x.pl" {
		t.Fatalf("unexpected row: %v", client.rows["sheet-a"][0])
	}
}

func TestExecutePartialFailurePersisted(t *testing.T) {
	src := &stubSource{orders: []source.Order{testOrder(1, 5, "a@x.pl")}}
	client := newFakeDest()
	client.permission["sheet-denied"] = true
	job := ordersJob()
	job.Destinations = []models.Destination{
		{ID: "sheet-a", Mode: models.WriteModeAppend},
		{ID: "sheet-denied", Mode: models.WriteModeAppend},
	}
	svc, store, publisher := newTestService(src, client, job)

	outcome, err := svc.Execute(context.Background(), job.ID, "token-partial", models.TriggerAPI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != models.RunStatusPartialFailure {
		t.Fatalf("expected partial_failure, got %s", outcome.Status)
	}
	if len(outcome.Destinations) != 2 {
		t.Fatalf("expected per-destination results, got %v", outcome.Destinations)
	}

	persisted, err := store.FindByToken(context.Background(), job.ID, "token-partial")
	if err != nil {
		t.Fatalf("run record missing: %v", err)
	}
	record := runToDomain(persisted)
	if record.Status != models.RunStatusPartialFailure || len(record.Destinations) != 2 {
		t.Fatalf("persisted record must carry per-destination results: %+v", record)
	}
	if publisher.events[0] != models.RunStatusPartialFailure {
		t.Fatalf("expected partial_failure event, got %v", publisher.events)
	}
}
