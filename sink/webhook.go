package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/domsig/idgen"
	"github.com/hazyhaar/domsig/report"
)

// Webhook delivery headers.
const (
	HeaderEvent     = "X-Domsig-Event"     // "report" or "delta"
	HeaderDelivery  = "X-Domsig-Delivery"  // same ID on every retry of a delivery
	HeaderSignature = "X-Domsig-Signature" // "sha256=" + hex HMAC of the body
)

// Webhook POSTs each envelope as JSON. Network errors, 429 and 5xx answers
// are retried with exponential backoff; other 4xx answers are final.
type Webhook struct {
	url        string
	client     *http.Client
	secret     []byte
	maxRetries int
	backoff    time.Duration
	newID      idgen.Generator
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay, doubled on every attempt.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookSecret signs every body with HMAC-SHA256 in HeaderSignature.
func WithWebhookSecret(secret []byte) WebhookOption {
	return func(w *Webhook) { w.secret = secret }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		newID:      idgen.UUIDv7(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) SendReport(ctx context.Context, r report.Report) error {
	return w.deliver(ctx, "report", r)
}

func (w *Webhook) SendDelta(ctx context.Context, d report.Delta) error {
	return w.deliver(ctx, "delta", d)
}

func (w *Webhook) Close() error { return nil }

// Sign returns the HeaderSignature value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a HeaderSignature value in constant time.
func VerifySignature(secret, body []byte, header string) bool {
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(header), []byte(Sign(secret, body)))
}

func (w *Webhook) deliver(ctx context.Context, event string, data any) error {
	body, err := json.Marshal(envelope{Type: event, Data: data})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	delivery := w.newID()

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.backoff << uint(attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retry, err := w.attempt(ctx, event, delivery, body)
		if err == nil {
			return nil
		}
		lastErr = err
		w.logger.Warn("webhook: delivery failed",
			"event", event, "delivery", delivery, "attempt", attempt+1, "error", err)
		if !retry {
			return err
		}
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

// attempt posts body once and reports whether a failure is worth retrying.
func (w *Webhook) attempt(ctx context.Context, event, delivery string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "domsig-webhook")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, delivery)
	if len(w.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook: status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
}
