package dest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rowbridge-io/platform/pkg/common/httpclient"
)

// Client is the write contract of an external spreadsheet destination.
type Client interface {
	Write(ctx context.Context, destinationID string, header []string, rows [][]string, mode string) (int, error)
}

// PermissionError marks a write rejected for authorization reasons.
// Retrying cannot fix it, so the writer short-circuits on it.
type PermissionError struct {
	DestinationID string
	StatusCode    int
	Message       string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("destination %s denied access (status %d): %s", e.DestinationID, e.StatusCode, e.Message)
}

// IsPermission reports whether err is an authorization failure, either
// typed or recognizable from the message the destination API returned.
func IsPermission(err error) bool {
	var permErr *PermissionError
	if errors.As(err, &permErr) {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized")
}

type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpclient.New(30 * time.Second),
	}
}

func (c *HTTPClient) Write(ctx context.Context, destinationID string, header []string, rows [][]string, mode string) (int, error) {
	payload := map[string]interface{}{
		"header": header,
		"rows":   rows,
		"mode":   mode,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/sheets/%s/values", c.baseURL, destinationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("destination request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &PermissionError{
			DestinationID: destinationID,
			StatusCode:    resp.StatusCode,
			Message:       strings.TrimSpace(string(text)),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("destination returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var result struct {
		UpdatedRows int `json:"updated_rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// Some sheet backends answer 200 with an empty body; count what we sent.
		return len(rows), nil
	}
	if result.UpdatedRows == 0 {
		return len(rows), nil
	}
	return result.UpdatedRows, nil
}
