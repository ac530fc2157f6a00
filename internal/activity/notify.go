package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.temporal.io/sdk/temporal"
)

// Notifier contains activities for sending event notifications to the
// configured webhook endpoint.
type Notifier struct {
	url    string
	client *http.Client
}

// NewNotifier creates a new Notifier activity struct. An empty URL disables
// dispatch.
func NewNotifier(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// NotifyParams holds parameters for the Notify activity.
type NotifyParams struct {
	Event      string         `json:"event"`
	InstanceID string         `json:"instance_id,omitempty"`
	ServerID   string         `json:"server_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Notify POSTs an event notification. Client errors are not retried.
func (a *Notifier) Notify(ctx context.Context, params NotifyParams) error {
	if a.url == "" {
		return nil
	}

	body, err := json.Marshal(params)
	if err != nil {
		return temporal.NewNonRetryableApplicationError("build notification payload", "MARSHAL_ERROR", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return temporal.NewNonRetryableApplicationError("create notification request", "REQUEST_ERROR", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification POST to %s: %w", a.url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("notification endpoint returned %d", resp.StatusCode),
			"CLIENT_ERROR", nil)
	}
	return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
}
