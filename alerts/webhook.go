package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrSendFailed reports a webhook delivery that reached the wire but did
// not land.
type ErrSendFailed struct {
	Channel    string
	StatusCode int
	Cause      error
}

func (e *ErrSendFailed) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("alerts: send on %q failed: %v", e.Channel, e.Cause)
	}
	return fmt.Sprintf("alerts: send on %q failed: status %d", e.Channel, e.StatusCode)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }

// Webhook delivers alerts as JSON POSTs to a fixed URL. Any 2xx status is
// a successful delivery.
type Webhook struct {
	name     string
	url      string
	priority int
	active   bool
	client   *http.Client
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient overrides the default client (5s timeout).
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// NewWebhook creates a webhook channel.
func NewWebhook(name, url string, priority int, active bool, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		name:     name,
		url:      url,
		priority: priority,
		active:   active,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Name() string  { return w.name }
func (w *Webhook) Priority() int { return w.priority }
func (w *Webhook) Active() bool  { return w.active }

// Send posts the alert as JSON. The response body is drained so the
// client can reuse the connection.
func (w *Webhook) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return &ErrSendFailed{Channel: w.name, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &ErrSendFailed{Channel: w.name, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &ErrSendFailed{Channel: w.name, Cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ErrSendFailed{Channel: w.name, StatusCode: resp.StatusCode}
	}
	return nil
}
