package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"tickcast/internal/model"
)

// WebhookNotifier POSTs alerts as JSON to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type webhookPayload struct {
	Level   Level           `json:"level"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Symbol  string          `json:"symbol"`
	Kind    model.AlertKind `json:"kind"`
	Value   float64         `json:"value"`
	TS      string          `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert model.Alert) error {
	body, err := json.Marshal(webhookPayload{
		Level:   LevelOf(alert.Kind),
		Title:   Title(alert),
		Message: alert.Message,
		Symbol:  alert.Instrument,
		Kind:    alert.Kind,
		Value:   alert.Value,
		TS:      alert.Time().Format(time.RFC3339Nano),
	})
	if err != nil {
		return errors.Wrap(err, "webhook: marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "webhook: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook: send")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
