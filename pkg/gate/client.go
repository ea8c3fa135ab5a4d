package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rowbridge-io/platform/pkg/common/httpclient"
	"github.com/rowbridge-io/platform/pkg/common/models"
)

// Capability actions consulted before accepting configuration changes.
const (
	ActionJobCreate   = "export_job.create"
	ActionJobSchedule = "export_job.schedule"
)

// Client asks the external capability service whether an action is
// allowed for the tenant. This core implements no plan logic itself.
type Client interface {
	Check(ctx context.Context, action string, details map[string]interface{}) (models.CapabilityDecision, error)
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.New(10 * time.Second),
	}
}

func (c *HTTPClient) Check(ctx context.Context, action string, details map[string]interface{}) (models.CapabilityDecision, error) {
	payload := map[string]interface{}{
		"action":  action,
		"details": details,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.CapabilityDecision{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/capabilities/check", bytes.NewReader(body))
	if err != nil {
		return models.CapabilityDecision{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.CapabilityDecision{}, fmt.Errorf("capability check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.CapabilityDecision{}, fmt.Errorf("capability service returned status %d", resp.StatusCode)
	}

	var decision models.CapabilityDecision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return models.CapabilityDecision{}, fmt.Errorf("capability response decode failed: %w", err)
	}
	return decision, nil
}
