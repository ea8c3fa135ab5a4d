package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	runsStarted        atomic.Int64
	runsSucceeded      atomic.Int64
	runsPartial        atomic.Int64
	runsFailed         atomic.Int64
	recordsExported    atomic.Int64
	writeRetries       atomic.Int64
	permissionFailures atomic.Int64
	triggersSkipped    atomic.Int64
)

func RunStarted() {
	runsStarted.Add(1)
}

func RunFinished(status string, totalRecords int) {
	switch status {
	case "success":
		runsSucceeded.Add(1)
	case "partial_failure":
		runsPartial.Add(1)
	default:
		runsFailed.Add(1)
	}
	recordsExported.Add(int64(totalRecords))
}

func WriteRetried() {
	writeRetries.Add(1)
}

func PermissionDenied() {
	permissionFailures.Add(1)
}

func TriggerSkipped() {
	triggersSkipped.Add(1)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP export_runs_started_total Number of export runs started.\n")
	fmt.Fprintf(w, "# TYPE export_runs_started_total counter\n")
	fmt.Fprintf(w, "export_runs_started_total %d\n", runsStarted.Load())

	fmt.Fprintf(w, "# HELP export_runs_succeeded_total Number of export runs that delivered to every destination.\n")
	fmt.Fprintf(w, "# TYPE export_runs_succeeded_total counter\n")
	fmt.Fprintf(w, "export_runs_succeeded_total %d\n", runsSucceeded.Load())

	fmt.Fprintf(w, "# HELP export_runs_partial_total Number of export runs that delivered to some destinations only.\n")
	fmt.Fprintf(w, "# TYPE export_runs_partial_total counter\n")
	fmt.Fprintf(w, "export_runs_partial_total %d\n", runsPartial.Load())

	fmt.Fprintf(w, "# HELP export_runs_failed_total Number of export runs that delivered to no destination.\n")
	fmt.Fprintf(w, "# TYPE export_runs_failed_total counter\n")
	fmt.Fprintf(w, "export_runs_failed_total %d\n", runsFailed.Load())

	fmt.Fprintf(w, "# HELP export_records_total Number of records exported across all runs.\n")
	fmt.Fprintf(w, "# TYPE export_records_total counter\n")
	fmt.Fprintf(w, "export_records_total %d\n", recordsExported.Load())

	fmt.Fprintf(w, "# HELP export_write_retries_total Number of retried destination write attempts.\n")
	fmt.Fprintf(w, "# TYPE export_write_retries_total counter\n")
	fmt.Fprintf(w, "export_write_retries_total %d\n", writeRetries.Load())

	fmt.Fprintf(w, "# HELP export_permission_failures_total Number of destination writes rejected for permission reasons.\n")
	fmt.Fprintf(w, "# TYPE export_permission_failures_total counter\n")
	fmt.Fprintf(w, "export_permission_failures_total %d\n", permissionFailures.Load())

	fmt.Fprintf(w, "# HELP export_triggers_skipped_total Number of scheduled triggers skipped because the previous run was still in flight.\n")
	fmt.Fprintf(w, "# TYPE export_triggers_skipped_total counter\n")
	fmt.Fprintf(w, "export_triggers_skipped_total %d\n", triggersSkipped.Load())
}
