package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/common/models"
	"github.com/rowbridge-io/platform/pkg/dest"
	"github.com/rowbridge-io/platform/pkg/observability/metrics"
)

// Writer delivers one formatted matrix to every configured destination,
// sequentially, with bounded retries per destination. Permission
// failures short-circuit: retrying cannot fix a sharing problem.
type Writer struct {
	client      dest.Client
	maxAttempts int
	baseDelay   time.Duration
	retryBudget time.Duration
	sleep       func(time.Duration)
}

func NewWriter(client dest.Client, maxAttempts int, baseDelay, retryBudget time.Duration) *Writer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if retryBudget <= 0 {
		retryBudget = 30 * time.Second
	}
	return &Writer{
		client:      client,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		retryBudget: retryBudget,
		sleep:       time.Sleep,
	}
}

// WriteAll writes to every destination in order and never stops early:
// one failing destination must not block delivery to the others.
func (w *Writer) WriteAll(ctx context.Context, destinations []models.Destination, header []string, rows [][]string) []models.DestinationResult {
	results := make([]models.DestinationResult, 0, len(destinations))
	for _, destination := range destinations {
		results = append(results, w.writeOne(ctx, destination, header, rows))
	}
	return results
}

func (w *Writer) writeOne(ctx context.Context, destination models.Destination, header []string, rows [][]string) models.DestinationResult {
	result := models.DestinationResult{DestinationID: destination.ID}
	started := time.Now()
	delay := w.baseDelay

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		result.Attempts = attempt

		attemptStart := time.Now()
		written, err := w.client.Write(ctx, destination.ID, header, rows, destination.Mode)
		logger.Log.WithFields(map[string]interface{}{
			"destination": destination.ID,
			"attempt":     attempt,
			"duration_ms": time.Since(attemptStart).Milliseconds(),
		}).Debug("Destination write attempt finished")

		if err == nil {
			result.Success = true
			result.RowsWritten = written
			result.DurationMS = time.Since(started).Milliseconds()
			return result
		}
		lastErr = err

		if dest.IsPermission(err) {
			metrics.PermissionDenied()
			result.Error = fmt.Sprintf("%v: grant the export service write access to this sheet and run again", err)
			result.DurationMS = time.Since(started).Milliseconds()
			logger.Log.WithError(err).WithField("destination", destination.ID).Error("Destination rejected write for permission reasons, not retrying")
			return result
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if attempt == w.maxAttempts {
			break
		}
		if time.Since(started)+delay > w.retryBudget {
			logger.Log.WithField("destination", destination.ID).Warn("Destination retry budget exhausted")
			break
		}

		metrics.WriteRetried()
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"destination": destination.ID,
			"attempt":     attempt,
			"retry_in":    delay.String(),
		}).Warn("Destination write failed, retrying")
		w.sleep(delay)
		delay *= 2
	}

	result.Error = lastErr.Error()
	result.DurationMS = time.Since(started).Milliseconds()
	return result
}

// Aggregate folds per-destination outcomes into the run status.
func Aggregate(results []models.DestinationResult) string {
	if len(results) == 0 {
		return models.RunStatusFailure
	}
	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	switch succeeded {
	case len(results):
		return models.RunStatusSuccess
	case 0:
		return models.RunStatusFailure
	default:
		return models.RunStatusPartialFailure
	}
}

// NormalizeDestinations accepts the destination-list shapes older job
// definitions were stored with and returns one ordered list:
//
//	["sheet-a", "sheet-b"]
//	[{"id": "sheet-a", "mode": "replace"}, ...]
//	{"id": "sheet-a", "mode": "append"}
//	{"sheet_id": "sheet-a"}
func NormalizeDestinations(raw json.RawMessage) []models.Destination {
	if len(raw) == 0 {
		return nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		destinations := make([]models.Destination, 0, len(list))
		for _, entry := range list {
			if d, ok := normalizeEntry(entry); ok {
				destinations = append(destinations, d)
			}
		}
		return destinations
	}

	if d, ok := normalizeEntry(raw); ok {
		return []models.Destination{d}
	}
	return nil
}

func normalizeEntry(raw json.RawMessage) (models.Destination, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return models.Destination{ID: id, Mode: models.WriteModeAppend}, true
	}

	var obj struct {
		ID      string `json:"id"`
		Mode    string `json:"mode"`
		SheetID string `json:"sheet_id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return models.Destination{}, false
	}
	if obj.ID == "" {
		obj.ID = obj.SheetID
	}
	if obj.ID == "" {
		return models.Destination{}, false
	}
	if obj.Mode != models.WriteModeReplace {
		obj.Mode = models.WriteModeAppend
	}
	return models.Destination{ID: obj.ID, Mode: obj.Mode}, true
}
