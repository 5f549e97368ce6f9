package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowSuccessRate   AlertType = "low_success_rate"
	AlertLabelFailing     AlertType = "label_failing"
	AlertHighWaitShare    AlertType = "high_wait_share"
	AlertCircuitOpen      AlertType = "circuit_open"
	AlertRetriesExhausted AlertType = "retries_exhausted"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Alert is one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notification is the webhook body. Text is a one-line-per-alert summary so
// chat webhooks that only read "text" still show something useful.
type Notification struct {
	Source string    `json:"source"`
	Text   string    `json:"text"`
	Alerts []Alert   `json:"alerts"`
	SentAt time.Time `json:"sent_at"`
}

// rule inspects a snapshot and returns the alerts it raises.
type rule func(cfg config.MonitoringConfig, snap *Snapshot) []Alert

var rules = []rule{
	lowSuccessRate,
	failingLabels,
	highWaitShare,
	openCircuits,
	exhaustedRetries,
}

// Alerter evaluates snapshots against thresholds and posts breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

// Evaluate runs every rule over snap.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	now := time.Now().UTC()
	var alerts []Alert
	for _, r := range rules {
		for _, al := range r(a.cfg, snap) {
			al.Timestamp = now
			alerts = append(alerts, al)
		}
	}
	return alerts
}

func enough(cfg config.MonitoringConfig, attempts int64) bool {
	return attempts > 0 && attempts >= int64(cfg.MinAttempts)
}

func lowSuccessRate(cfg config.MonitoringConfig, snap *Snapshot) []Alert {
	if !enough(cfg, snap.Attempts) || snap.SuccessRate >= cfg.MinSuccessRate {
		return nil
	}
	return []Alert{{
		Type:     AlertLowSuccessRate,
		Severity: SeverityHigh,
		Message: fmt.Sprintf("Success rate %.1f%% below floor %.1f%% (%d ok / %d attempts)",
			snap.SuccessRate*100, cfg.MinSuccessRate*100, snap.Successes, snap.Attempts),
		Details: map[string]any{
			"success_rate": snap.SuccessRate,
			"threshold":    cfg.MinSuccessRate,
			"attempts":     snap.Attempts,
		},
	}}
}

func failingLabels(cfg config.MonitoringConfig, snap *Snapshot) []Alert {
	names := make([]string, 0, len(snap.Labels))
	for k := range snap.Labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []Alert
	for _, name := range names {
		c := snap.Labels[name]
		if !enough(cfg, c.Attempts) || c.SuccessRate() >= cfg.MinSuccessRate {
			continue
		}
		out = append(out, Alert{
			Type:     AlertLabelFailing,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("%s success rate %.1f%% over %d attempts", name, c.SuccessRate()*100, c.Attempts),
			Details: map[string]any{
				"label":        name,
				"success_rate": c.SuccessRate(),
				"attempts":     c.Attempts,
			},
		})
	}
	return out
}

func highWaitShare(cfg config.MonitoringConfig, snap *Snapshot) []Alert {
	total := snap.WaitTime + snap.ProcessingTime
	if cfg.MaxWaitShare <= 0 || !enough(cfg, snap.Attempts) || total <= 0 {
		return nil
	}
	share := float64(snap.WaitTime) / float64(total)
	if share <= cfg.MaxWaitShare {
		return nil
	}
	return []Alert{{
		Type:     AlertHighWaitShare,
		Severity: SeverityLow,
		Message:  fmt.Sprintf("%.1f%% of elapsed time spent waiting (limit %.1f%%)", share*100, cfg.MaxWaitShare*100),
		Details:  map[string]any{"wait_share": share, "threshold": cfg.MaxWaitShare},
	}}
}

func openCircuits(_ config.MonitoringConfig, snap *Snapshot) []Alert {
	if len(snap.OpenCircuits) == 0 {
		return nil
	}
	return []Alert{{
		Type:     AlertCircuitOpen,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("%d circuit(s) open: %s", len(snap.OpenCircuits), strings.Join(snap.OpenCircuits, ", ")),
		Details:  map[string]any{"circuits": snap.OpenCircuits},
	}}
}

func exhaustedRetries(_ config.MonitoringConfig, snap *Snapshot) []Alert {
	if snap.RetriesExhausted <= 0 {
		return nil
	}
	return []Alert{{
		Type:     AlertRetriesExhausted,
		Severity: SeverityMedium,
		Message:  fmt.Sprintf("%d operation(s) exhausted every retry", snap.RetriesExhausted),
		Details:  map[string]any{"exhausted": snap.RetriesExhausted},
	}}
}

// SendAlerts posts alerts to the webhook in one notification and returns how
// many were delivered: all of them, or 0 on failure or with no webhook.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}
	if err := a.post(ctx, newNotification(alerts)); err != nil {
		zap.L().Error("monitoring: alert webhook failed", zap.Int("alerts", len(alerts)), zap.Error(err))
		return 0
	}
	zap.L().Info("monitoring: alerts sent", zap.Int("alerts", len(alerts)))
	return len(alerts)
}

func newNotification(alerts []Alert) Notification {
	lines := make([]string, len(alerts))
	for i, al := range alerts {
		lines[i] = fmt.Sprintf("[%s] %s", al.Severity, al.Message)
	}
	return Notification{
		Source: "facility-cli",
		Text:   strings.Join(lines, "\n"),
		Alerts: alerts,
		SentAt: time.Now().UTC(),
	}
}

func (a *Alerter) post(ctx context.Context, n Notification) error {
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
