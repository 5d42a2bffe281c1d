package domain

import (
	"testing"
	"time"
)

func TestKindFromPayload(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want SignalKind
	}{
		{"empty", "", KindEntry},
		{"kind exit", `{"ticker":"AAPL","kind":"EXIT"}`, KindExit},
		{"kind entry", `{"ticker":"AAPL","kind":"entry"}`, KindEntry},
		{"event close", `{"event":"close","action":"sell"}`, KindExit},
		{"type stop loss", `{"type":"stop_loss"}`, KindExit},
		{"nested strategy kind", `{"strategy":{"order":{"kind":"exit"}}}`, KindExit},
		{"exit flag", `{"exit":true}`, KindExit},
		{"exit flag false", `{"exit":false,"kind":"entry"}`, KindEntry},
		{"plain text exit", `AAPL EXIT sell 10`, KindExit},
		{"unlabeled entry", `{"ticker":"AAPL","action":"buy"}`, KindEntry},
		{"entry wins over stray text", `{"kind":"open","comment":"exit later"}`, KindEntry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindFromPayload(tc.raw); got != tc.want {
				t.Fatalf("KindFromPayload(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestExecutionStatusTerminal(t *testing.T) {
	if ExecutionPending.Terminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, s := range []ExecutionStatus{ExecutionExecuted, ExecutionCancelled, ExecutionFailed} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}

func TestGateAdmits(t *testing.T) {
	now := mustParse(t, "2024-03-01T10:00:00Z")

	open := TickerGate{Ticker: "AAPL", Enabled: true}
	if !open.Admits(now) {
		t.Fatal("enabled gate with no block must admit")
	}

	cooling := TickerGate{Ticker: "AAPL", Enabled: true, BlockedUntil: now.Add(time.Minute)}
	if cooling.Admits(now) {
		t.Fatal("gate inside cooldown must not admit")
	}
	if !cooling.Admits(now.Add(2 * time.Minute)) {
		t.Fatal("elapsed cooldown must admit even before the sweep clears it")
	}

	disabled := TickerGate{Ticker: "AAPL", Enabled: false}
	if disabled.Admits(now) {
		t.Fatal("indefinite manual block must not admit")
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}
