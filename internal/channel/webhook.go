package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookChannel delivers messages by POSTing JSON to a configured endpoint.
// Used for access-link dispatch and push-style relays where the receiving
// system handles fan-out.
type WebhookChannel struct {
	name     string
	endpoint string
	client   *http.Client
}

func NewWebhookChannel(name, endpoint string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (w *WebhookChannel) Name() string { return w.name }

func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w.endpoint == "" {
		return fmt.Errorf("channel %s: endpoint not configured", w.name)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("channel %s: marshal: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("channel %s: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The receiver dedups on this; repeats of one item must be no-ops.
	req.Header.Set("X-Idempotency-Key", msg.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("channel %s: %w", w.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("channel %s: endpoint returned %d", w.name, resp.StatusCode)
	}
	return nil
}
