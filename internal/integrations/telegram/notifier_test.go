package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotifySendsMessage(t *testing.T) {
	var path string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("bot-token", "chat-42")
	n.apiBase = srv.URL
	if err := n.Notify(context.Background(), "AAPL buy 10 awaiting approval"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if path != "/botbot-token/sendMessage" {
		t.Fatalf("path = %q", path)
	}
	if body["chat_id"] != "chat-42" || body["text"] != "AAPL buy 10 awaiting approval" {
		t.Fatalf("body = %v", body)
	}
}

func TestNotifyUnconfiguredIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := NewNotifier("", "")
	n.apiBase = srv.URL
	if err := n.Notify(context.Background(), "ignored"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if called {
		t.Fatal("unconfigured notifier must not call the API")
	}
}

func TestNotifyReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewNotifier("bot-token", "chat-42")
	n.apiBase = srv.URL
	if err := n.Notify(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on 403")
	}
}
