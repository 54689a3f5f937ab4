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
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStuckGeneration AlertType = "stuck_generation"
	AlertReviewBacklog   AlertType = "review_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against thresholds and sends alerts
// via webhook when they are breached.
type Alerter struct {
	webhookURL string

	// backlogThreshold is how many cases may wait for reviews before the
	// backlog alert fires.
	backlogThreshold int
	// maxWait is how long the oldest waiting case may sit unreviewed.
	maxWait time.Duration

	client *http.Client
}

// NewAlerter creates an Alerter. Zero thresholds default to 25 cases and 24h.
func NewAlerter(webhookURL string, backlogThreshold int, maxWait time.Duration) *Alerter {
	if backlogThreshold <= 0 {
		backlogThreshold = 25
	}
	if maxWait <= 0 {
		maxWait = 24 * time.Hour
	}
	return &Alerter{
		webhookURL:       webhookURL,
		backlogThreshold: backlogThreshold,
		maxWait:          maxWait,
		client:           &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.StuckGenerating > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckGeneration,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d case(s) have held the generation claim longer than %s; they may need a manual claim release",
				snap.StuckGenerating, snap.StuckThreshold,
			),
			Details: map[string]any{
				"stuck_cases":     snap.StuckCaseIDs,
				"stuck_threshold": snap.StuckThreshold.String(),
			},
			Timestamp: now,
		})
	}

	if snap.AwaitingReview >= a.backlogThreshold || snap.OldestAwaiting > a.maxWait {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d case(s) waiting for reviews, oldest for %s",
				snap.AwaitingReview, snap.OldestAwaiting.Round(time.Minute),
			),
			Details: map[string]any{
				"awaiting_review": snap.AwaitingReview,
				"oldest_awaiting": snap.OldestAwaiting.String(),
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.webhookURL == "" || len(alerts) == 0 {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
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
