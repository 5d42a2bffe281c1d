package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tradegate/internal/domain"
)

// Client mirrors bus events to an external audit webhook. Transient
// failures (network errors, 5xx) are retried with capped exponential
// backoff; the receiver can dedupe replays on the X-Idempotency-Key
// header, which carries the event id.
type Client struct {
	webhookURL string
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	httpClient *http.Client
}

func NewClient(webhookURL string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retryBase <= 0 {
		retryBase = 250 * time.Millisecond
	}
	if retryMax < retryBase {
		retryMax = retryBase
	}
	return &Client{
		webhookURL: webhookURL,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Publish posts one event, making at most 1+maxRetries attempts. An
// unconfigured client is a no-op so the bus can publish unconditionally.
func (c *Client) Publish(ctx context.Context, event domain.Event) error {
	if c.webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	backoff := c.retryBase
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.retryMax {
				backoff = c.retryMax
			}
		}
		lastErr = c.post(ctx, event, body)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			break
		}
	}
	return fmt.Errorf("publish event %s: %w", event.ID, lastErr)
}

func (c *Client) post(ctx context.Context, event domain.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(event.Type))
	req.Header.Set("X-Idempotency-Key", event.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode)
	}
	return nil
}

type statusError int

func (e statusError) Error() string {
	return fmt.Sprintf("audit webhook status %d", int(e))
}

// retryable treats 4xx as permanent: the event will never be accepted, so
// replaying it only delays the bus goroutine.
func retryable(err error) bool {
	var se statusError
	if errors.As(err, &se) {
		return int(se) >= 500
	}
	return true
}
