package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Order is the outbound contract: one POST carrying the fill the control
// plane decided on. The broker side owns everything after that.
type Order struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
}

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Forward makes exactly one attempt. A failed or timed-out call surfaces as
// an error for the caller to record on the execution; it is never retried
// here, and the caller's local state stays as already applied.
func (c *Client) Forward(ctx context.Context, webhookURL, authToken string, order Order) error {
	if webhookURL == "" {
		return errors.New("forward failed: broker webhook not configured")
	}
	body, err := json.Marshal(order)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forward failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("forward failed: broker status %d", resp.StatusCode)
	}
	return nil
}
