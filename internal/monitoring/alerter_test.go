package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-cli/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		MinSuccessRate: 0.5,
		MaxWaitShare:   0.9,
		MinAttempts:    10,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &Snapshot{
		Counters:    Counters{Attempts: 100, Successes: 95, Failures: 5, ProcessingTime: time.Minute, WaitTime: time.Minute},
		SuccessRate: 0.95,
		Labels: map[string]Counters{
			"web_search": {Attempts: 50, Successes: 48},
		},
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_LowSuccessRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &Snapshot{
		Counters:    Counters{Attempts: 20, Successes: 8, Failures: 12},
		SuccessRate: 0.4,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowSuccessRate, alerts[0].Type)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.False(t, alerts[0].Timestamp.IsZero())
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumAttemptsRequired(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &Snapshot{
		Counters:    Counters{Attempts: 3, Failures: 3},
		SuccessRate: 0,
		Labels:      map[string]Counters{"web_search": {Attempts: 3, Failures: 3}},
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_LabelFailing(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &Snapshot{
		Counters:    Counters{Attempts: 40, Successes: 30, Failures: 10},
		SuccessRate: 0.75,
		Labels: map[string]Counters{
			"web_search":  {Attempts: 25, Successes: 25},
			"jina_search": {Attempts: 15, Successes: 5, Failures: 10},
		},
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLabelFailing, alerts[0].Type)
	assert.Equal(t, "jina_search", alerts[0].Details["label"])
}

func TestAlerter_Evaluate_HighWaitShare(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &Snapshot{
		Counters:    Counters{Attempts: 10, Successes: 10, ProcessingTime: time.Second, WaitTime: 19 * time.Second},
		SuccessRate: 1,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertHighWaitShare, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "95.0%")
}

func TestAlerter_Evaluate_CircuitsAndExhaustion(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &Snapshot{
		OpenCircuits:     []string{"adapter:web_search"},
		RetriesExhausted: 4,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertCircuitOpen, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "adapter:web_search")
	assert.Equal(t, AlertRetriesExhausted, alerts[1].Type)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var posts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var n Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		assert.Equal(t, "facility-cli", n.Source)
		assert.Len(t, n.Alerts, 2)
		assert.Equal(t, "[high] naver success rate 10.0%\n[medium] 2 operation(s) exhausted every retry", n.Text)
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertLabelFailing, Severity: SeverityHigh, Message: "naver success rate 10.0%"},
		{Type: AlertRetriesExhausted, Severity: SeverityMedium, Message: "2 operation(s) exhausted every retry"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(1), posts.Load(), "one notification per batch")
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertLowSuccessRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertLowSuccessRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
