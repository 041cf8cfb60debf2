package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/agent-loop/internal/config"
)

// WebhookSink posts each message as JSON to a URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

// Send posts m.
func (w *WebhookSink) Send(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// NewFromConfig builds the notifier for cfg. Messages always go to the log;
// the webhook is added when notifications are enabled.
func NewFromConfig(cfg config.NotifyConfig, logger *zap.Logger) *RateLimited {
	if logger == nil {
		logger = zap.NewNop()
	}
	sinks := Multi{LogSink{Logger: logger.Named("notify")}}
	if cfg.Enabled && cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.WebhookURL, cfg.Timeout.Std()))
	}
	return New(sinks, Options{
		Interval: cfg.Interval.Std(),
		Timeout:  cfg.Timeout.Std(),
		Logger:   logger,
	})
}
