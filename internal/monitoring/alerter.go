package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDeadTasks AlertType = "dead_tasks"
	AlertBacklog   AlertType = "queue_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// A dead task is a session whose enrichment stopped for good.
	if a.cfg.DeadTaskThreshold > 0 && snap.Dead >= a.cfg.DeadTaskThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDeadTasks,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d continuation task(s) exhausted their retries; their sessions will never be scored",
				snap.Dead,
			),
			Details: map[string]any{
				"dead":      snap.Dead,
				"threshold": a.cfg.DeadTaskThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BacklogThreshold > 0 && snap.Backlog() >= a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Continuation backlog %d exceeds threshold %d",
				snap.Backlog(), a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"pending":   snap.Pending,
				"running":   snap.Running,
				"threshold": a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
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
