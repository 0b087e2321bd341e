// internal/notify/webhook.go
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/region"
)

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL           string
	Secret        string
	MaxRetries    int
	RetryInterval time.Duration
	Timeout       time.Duration
	Client        *http.Client
}

// webhookPayload is the body POSTed to the receiver. Attempt is inside the
// signed payload so each retry carries a distinct signature.
type webhookPayload struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	NewRegion string    `json:"new_region"`
	Timestamp time.Time `json:"timestamp"`
	Attempt   int       `json:"attempt"`
}

// WebhookNotifier POSTs region changes to an operator-configured endpoint,
// signing each delivery when a secret is set.
type WebhookNotifier struct {
	url           string
	secret        string
	maxRetries    int
	retryInterval time.Duration
	client        *http.Client
	logger        *zap.Logger
}

// NewWebhookNotifier creates a notifier for the configured endpoint.
func NewWebhookNotifier(cfg *WebhookConfig, logger *zap.Logger) (*WebhookNotifier, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}

	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 3
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookNotifier{
		url:           cfg.URL,
		secret:        cfg.Secret,
		maxRetries:    retries,
		retryInterval: interval,
		client:        client,
		logger:        logger,
	}, nil
}

// RegionChanged implements Notifier. Delivery is retried up to MaxRetries
// with a fixed interval; a context cancellation stops the retry loop.
func (n *WebhookNotifier) RegionChanged(ctx context.Context, newRegion region.Region, at time.Time) error {
	payload := webhookPayload{
		ID:        uuid.NewString(),
		Event:     EventRegionChange,
		NewRegion: newRegion.String(),
		Timestamp: at.UTC(),
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxRetries; attempt++ {
		payload.Attempt = attempt

		status, err := n.send(ctx, payload)
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("webhook returned status %d", status)
		}
		n.logger.Warn("webhook delivery failed",
			zap.String("url", n.url),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt < n.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.retryInterval):
			}
		}
	}
	return fmt.Errorf("delivering region change after %d attempts: %w", n.maxRetries, lastErr)
}

func (n *WebhookNotifier) send(ctx context.Context, payload webhookPayload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "meridian-webhooks/1.0")
	req.Header.Set("X-Event-Type", payload.Event)
	req.Header.Set("X-Event-ID", payload.ID)
	req.Header.Set("X-Delivery-Attempt", fmt.Sprintf("%d", payload.Attempt))
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", Signature(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, nil
}

// Close implements Notifier.
func (n *WebhookNotifier) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

// Signature computes the HMAC-SHA256 of payload under secret.
func Signature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
// Receivers use it to authenticate deliveries.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := Signature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
