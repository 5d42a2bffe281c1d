package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier pushes operator alerts (approval requests, exits, forward
// failures) to a Telegram chat. With no bot token or chat id configured it
// is a no-op, so callers can notify unconditionally.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify sends one message. Errors are returned for logging only; no caller
// treats a failed notification as a failed operation.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || text == "" {
		return nil
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)

	body := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	return nil
}
