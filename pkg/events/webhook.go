package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/txn2/session-gateway/pkg/metrics"
)

const (
	defaultWebhookTimeout   = 5 * time.Second
	defaultWebhookQueueSize = 256
	defaultWebhookRetries   = 3
)

// WebhookConfig configures a Webhook sink.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	QueueSize  int
	MaxRetries int
	Metrics    *metrics.Metrics
}

// Webhook POSTs each event as JSON to a URL. Events are queued and
// delivered by a single background worker; a full queue drops the event.
type Webhook struct {
	url     string
	client  *retryablehttp.Client
	timeout time.Duration
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewWebhook creates a webhook sink and starts its delivery worker.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultWebhookQueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultWebhookRetries
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = slog.Default()

	w := &Webhook{
		url:     cfg.URL,
		client:  client,
		timeout: cfg.Timeout,
		metrics: cfg.Metrics,
		queue:   make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Notify enqueues ev for delivery.
func (w *Webhook) Notify(ev Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return
	}
	select {
	case w.queue <- ev:
	default:
		w.metrics.EventDropped("webhook")
		slog.Warn("events: webhook queue full, dropping event",
			"tenant_id", ev.TenantID, "state", ev.State)
	}
}

// Close stops accepting events and waits for queued events to drain, or
// for ctx to expire.
func (w *Webhook) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining webhook queue: %w", ctx.Err())
	}
}

func (w *Webhook) run() {
	defer close(w.done)
	for ev := range w.queue {
		if err := w.deliver(ev); err != nil {
			w.metrics.EventDropped("webhook")
			slog.Warn("events: webhook delivery failed",
				"tenant_id", ev.TenantID, "state", ev.State, slogKeyError, err)
		}
	}
}

func (w *Webhook) deliver(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	// Bound the whole retry sequence, not just one attempt.
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout*time.Duration(w.client.RetryMax+1))
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Verify interface compliance.
var _ Sink = (*Webhook)(nil)
