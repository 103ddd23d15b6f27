// Package monitoring delivers operator notifications. Alerting is a
// fire-and-forget collaborator: a dead webhook is logged, never allowed to
// fail a run.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/config"
	"github.com/pepwatch/ingest-cli/internal/redact"
)

// Notification is the webhook payload, shaped like a minimal HTML email.
type Notification struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Alerter posts notifications to the configured webhook. An empty webhook
// URL disables delivery entirely.
type Alerter struct {
	cfg    config.AlertConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given alert config.
func NewAlerter(cfg config.AlertConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify delivers one notification. The body passes through redaction before
// it leaves the process; delivery failures are logged and swallowed.
func (a *Alerter) Notify(ctx context.Context, subject, body string) {
	if a.cfg.WebhookURL == "" {
		return
	}

	n := Notification{
		Subject:   subject,
		Body:      redact.String(body),
		Timestamp: time.Now().UTC(),
	}
	if err := a.sendWebhook(ctx, n); err != nil {
		zap.L().Error("monitoring: failed to send notification",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("monitoring: notification sent", zap.String("subject", subject))
}

// sendWebhook posts a single notification to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
