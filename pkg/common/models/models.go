package models

import (
	"time"

	"github.com/google/uuid"
)

// Dataset types understood by the external data source.
const (
	DatasetOrders     = "orders"
	DatasetOrderItems = "order_items"
	DatasetProducts   = "products"
)

// Job statuses
const (
	JobStatusActive = "active"
	JobStatusPaused = "paused"
)

// Run statuses
const (
	RunStatusPending        = "pending"
	RunStatusSuccess        = "success"
	RunStatusPartialFailure = "partial_failure"
	RunStatusFailure        = "failure"
)

// Run triggers
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerAPI      = "api"
)

// Destination write modes
const (
	WriteModeAppend  = "append"
	WriteModeReplace = "replace"
)

// Filter logic connectives
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// FilterCondition compares one record field against a value.
type FilterCondition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// FilterGroup combines conditions under one logic connective.
type FilterGroup struct {
	Logic      string            `json:"logic"`
	Conditions []FilterCondition `json:"conditions"`
}

// FilterSpec is the top-level condition tree attached to a job.
type FilterSpec struct {
	Logic  string        `json:"logic"`
	Groups []FilterGroup `json:"groups"`
}

// JobSettings carries per-job formatting and pricing conventions.
type JobSettings struct {
	DecimalSeparator string  `json:"decimal_separator,omitempty"`
	DefaultTaxRate   float64 `json:"default_tax_rate,omitempty"`
	// PriceConvention says whether source prices are tax-exclusive
	// ("netto") or tax-inclusive ("brutto").
	PriceConvention string `json:"price_convention,omitempty"`
}

// Destination identifies one spreadsheet sink and its write mode.
type Destination struct {
	ID   string `json:"id"`
	Mode string `json:"mode"`
}

// JobDefinition is an export job as configured by the external
// configuration service. The scheduler and coordinator only read these.
type JobDefinition struct {
	ID              uuid.UUID     `json:"id"`
	Name            string        `json:"name"`
	IntervalMinutes int           `json:"interval_minutes"`
	Status          string        `json:"status"`
	Dataset         string        `json:"dataset"`
	Filter          FilterSpec    `json:"filter"`
	Fields          []string      `json:"fields"`
	Destinations    []Destination `json:"destinations"`
	Settings        JobSettings   `json:"settings"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// DestinationResult is the per-destination outcome of one run.
type DestinationResult struct {
	DestinationID string `json:"destination_id"`
	Success       bool   `json:"success"`
	Attempts      int    `json:"attempts"`
	RowsWritten   int    `json:"rows_written"`
	DurationMS    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

// RunRecord is the persisted record of one export run.
type RunRecord struct {
	ID           uuid.UUID              `json:"id"`
	JobID        uuid.UUID              `json:"job_id"`
	RunToken     string                 `json:"run_token"`
	Trigger      string                 `json:"trigger"`
	Status       string                 `json:"status"`
	TotalRecords int                    `json:"total_records"`
	Destinations []DestinationResult    `json:"destinations,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
}

// RunOutcome is what callers get back from an execute request,
// including duplicate-token hits resolved from an earlier run.
type RunOutcome struct {
	Cached       bool                   `json:"cached"`
	InProgress   bool                   `json:"in_progress"`
	Stale        bool                   `json:"stale,omitempty"`
	RunID        uuid.UUID              `json:"run_id"`
	ClientRunID  string                 `json:"client_run_id"`
	Status       string                 `json:"status"`
	TotalRecords int                    `json:"total_records"`
	Destinations []DestinationResult    `json:"destinations,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// CapabilityDecision is the answer from the external capability gate.
type CapabilityDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Usage   int    `json:"usage,omitempty"`
}

// RunEvent is published to the event bus when a run reaches a
// terminal state.
type RunEvent struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	JobID        string    `json:"job_id"`
	RunID        string    `json:"run_id"`
	Status       string    `json:"status"`
	TotalRecords int       `json:"total_records"`
	Timestamp    time.Time `json:"timestamp"`
}
