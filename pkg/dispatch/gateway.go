package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultGatewayTimeout = 30 * time.Second

// GatewayDispatcher delivers notifications through an HTTP delivery gateway:
// one POST per notification, JSON body carrying the channel and rendered
// fields. 5xx responses and transport errors are retryable, 4xx responses are
// fatal (the payload will not get better on retry).
type GatewayDispatcher struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewGatewayDispatcher creates a dispatcher against the given gateway base
// URL. A zero timeout falls back to the default.
func NewGatewayDispatcher(baseURL string, timeout time.Duration, logger *slog.Logger) *GatewayDispatcher {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}

	return &GatewayDispatcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("module", "gateway_dispatcher"),
	}
}

func (d *GatewayDispatcher) SendEmail(ctx context.Context, to, subject, body string) error {
	return d.post(ctx, "/email", map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
}

func (d *GatewayDispatcher) SendSMS(ctx context.Context, to, body string) error {
	return d.post(ctx, "/sms", map[string]string{
		"to":   to,
		"body": body,
	})
}

func (d *GatewayDispatcher) post(ctx context.Context, path string, payload map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return Fatal(fmt.Errorf("failed to marshal delivery payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return Fatal(fmt.Errorf("failed to create gateway request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		// Transport failures and timeouts are worth another try.
		return Retryable(fmt.Errorf("gateway request failed: %w", err))
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.Error("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	failure := fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return Retryable(failure)
	}

	return Fatal(failure)
}

var _ Dispatcher = (*GatewayDispatcher)(nil)
