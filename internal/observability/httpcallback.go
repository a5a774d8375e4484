package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// EventPayload is the JSON body posted to a webhook for every execution
// event. Grounded on the teacher's internal/infrastructure/monitoring/
// http_callback.go.
type EventPayload struct {
	RunID     string `json:"runId"`
	NodeID    string `json:"nodeId,omitempty"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HTTPCallbackObserver posts execution events to a configured webhook,
// useful for integrations that cannot hold a long-lived in-process
// subscription to the facade's callbacks.
type HTTPCallbackObserver struct {
	URL    string
	Client *http.Client
	Log    zerolog.Logger
}

func NewHTTPCallbackObserver(url string, log zerolog.Logger) *HTTPCallbackObserver {
	return &HTTPCallbackObserver{URL: url, Client: &http.Client{Timeout: 5 * time.Second}, Log: log}
}

// Send posts payload to the configured URL, logging (but not returning) any
// delivery failure: a webhook outage must never fail the workflow run that
// triggered the event.
func (o *HTTPCallbackObserver) Send(ctx context.Context, payload EventPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		o.Log.Warn().Err(err).Msg("failed to marshal callback payload")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		o.Log.Warn().Err(err).Msg("failed to build callback request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.Client.Do(req)
	if err != nil {
		o.Log.Warn().Err(err).Str("url", o.URL).Msg("callback delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		o.Log.Warn().Int("status", resp.StatusCode).Str("url", o.URL).Msg("callback endpoint rejected event")
	}
}
