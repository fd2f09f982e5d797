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

	"github.com/sells-group/docflow/internal/config"
	"github.com/sells-group/docflow/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "document_failure_rate"
	AlertManualRate    AlertType = "manual_review_rate"
	AlertLowConfidence AlertType = "low_average_confidence"
	AlertRuleTest      AlertType = "rule_test_report"
	AlertExtractorDown AlertType = "extractor_unavailable"
)

// minFinished is the number of finished documents below which rates are
// too noisy to alert on.
const minFinished = 5

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

	finished := snap.DocumentsTotal - snap.StillProcessing
	if finished < minFinished {
		return nil
	}

	if a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Document failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ManualRateThreshold > 0 && snap.ManualRate > a.cfg.ManualRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertManualRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Manual review rate %.1f%% exceeds threshold %.1f%% (%d of %d finished in last %dh)",
				snap.ManualRate*100, a.cfg.ManualRateThreshold*100,
				snap.ManualRequired, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"manual_rate":     snap.ManualRate,
				"threshold":       a.cfg.ManualRateThreshold,
				"manual_required": snap.ManualRequired,
				"finished":        finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinAvgConfidence > 0 && snap.AvgConfidence < a.cfg.MinAvgConfidence {
		alerts = append(alerts, Alert{
			Type:     AlertLowConfidence,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Average confidence %.2f is below %.2f in last %dh",
				snap.AvgConfidence, a.cfg.MinAvgConfidence, snap.LookbackHours,
			),
			Details: map[string]any{
				"avg_confidence": snap.AvgConfidence,
				"minimum":        a.cfg.MinAvgConfidence,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// ExtractorAlert describes a backend whose breaker opened.
func ExtractorAlert(b resilience.BreakerStatus) Alert {
	return Alert{
		Type:     AlertExtractorDown,
		Severity: "high",
		Message: fmt.Sprintf(
			"Extraction backend %q is unavailable after %d consecutive failures: %s",
			b.Backend, b.ConsecutiveFailures, b.LastError,
		),
		Details: map[string]any{
			"backend":              b.Backend,
			"state":                string(b.State),
			"consecutive_failures": b.ConsecutiveFailures,
			"opens":                b.Opens,
			"rejected":             b.Rejected,
			"opened_at":            b.OpenedAt,
		},
		Timestamp: time.Now().UTC(),
	}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.Send(ctx, alert); err != nil {
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

// Send posts a single alert to the webhook URL.
func (a *Alerter) Send(ctx context.Context, alert Alert) error {
	if a.cfg.WebhookURL == "" {
		return eris.New("monitoring: no webhook configured")
	}
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
