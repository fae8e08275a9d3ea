// Package notify delivers credential lifecycle events to operators. The log
// notifier writes structured warnings; the webhook notifier POSTs JSON to a
// configured endpoint.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
	"github.com/quayside/keygate/internal/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LogNotifier is the default channel: events become warn-level log lines.
type LogNotifier struct {
	logger *logger.StyledLogger
}

func NewLogNotifier(log *logger.StyledLogger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Send(_ context.Context, event ports.NotificationEvent, payload map[string]interface{}) {
	args := make([]any, 0, 2+2*len(payload))
	args = append(args, "event", string(event))
	for k, v := range payload {
		args = append(args, k, v)
	}
	n.logger.Warn("notification", args...)
}

const webhookMaxAttempts = 3

// WebhookNotifier POSTs each event to a single URL. Delivery is fire and
// forget from the caller's perspective; failed POSTs are retried with
// jittered backoff before being dropped.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	logger  *logger.StyledLogger
	timeout time.Duration
	sleep   func(time.Duration)
}

func NewWebhookNotifier(url string, timeout time.Duration, log *logger.StyledLogger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
		timeout: timeout,
		sleep:   time.Sleep,
	}
}

type webhookEnvelope struct {
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

func (n *WebhookNotifier) Send(ctx context.Context, event ports.NotificationEvent, payload map[string]interface{}) {
	body, err := json.Marshal(webhookEnvelope{
		Event:     string(event),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		n.logger.Error("webhook payload marshal failed", "event", string(event), "error", err)
		return
	}

	go n.deliver(context.WithoutCancel(ctx), event, body)
}

func (n *WebhookNotifier) deliver(ctx context.Context, event ports.NotificationEvent, body []byte) {
	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		if attempt > 1 {
			n.sleep(util.CalculateExponentialBackoff(attempt-1, 500*time.Millisecond, 5*time.Second, 0.2))
		}
		if n.post(ctx, event, body) {
			return
		}
	}
	n.logger.Error("webhook delivery abandoned",
		"event", string(event), "url", n.url, "attempts", webhookMaxAttempts)
}

func (n *WebhookNotifier) post(ctx context.Context, event ports.NotificationEvent, body []byte) bool {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("webhook request build failed", "event", string(event), "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("webhook delivery failed", "event", string(event), "url", n.url, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Error("webhook delivery rejected",
			"event", string(event),
			"url", n.url,
			"status", fmt.Sprintf("%d", resp.StatusCode))
		return false
	}
	return true
}

// Fanout sends every event to all wrapped notifiers.
type Fanout struct {
	targets []ports.Notifier
}

func NewFanout(targets ...ports.Notifier) *Fanout {
	return &Fanout{targets: targets}
}

func (f *Fanout) Send(ctx context.Context, event ports.NotificationEvent, payload map[string]interface{}) {
	for _, t := range f.targets {
		t.Send(ctx, event, payload)
	}
}
