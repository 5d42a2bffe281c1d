package domain

import (
	"encoding/json"
	"strings"
)

// KindFromPayload classifies a raw signal payload as ENTRY or EXIT. Webhook
// senders are inconsistent about where they put the event kind, so several
// well-known keys are probed before falling back to a substring scan. EXIT
// detection is deliberately greedy: misreading an exit as an entry would put
// a risk-reducing order behind the approval gate.
func KindFromPayload(raw string) SignalKind {
	if raw == "" {
		return KindEntry
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err == nil {
		for _, key := range []string{"kind", "event", "signal_kind", "type", "strategy.order.kind"} {
			if v, ok := stringByPath(payload, key); ok {
				if isExitWord(v) {
					return KindExit
				}
				if isEntryWord(v) {
					return KindEntry
				}
			}
		}
		if v, ok := payload["exit"].(bool); ok && v {
			return KindExit
		}
	}
	// Non-JSON or unlabeled payloads: a bare EXIT token anywhere still counts.
	upper := strings.ToUpper(raw)
	if strings.Contains(upper, "\"EXIT\"") || strings.Contains(upper, "EXIT_") || strings.Contains(upper, " EXIT") {
		return KindExit
	}
	return KindEntry
}

func isExitWord(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "exit", "close", "tp", "sl", "stop", "take_profit", "stop_loss":
		return true
	default:
		return false
	}
}

func isEntryWord(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "entry", "open", "enter":
		return true
	default:
		return false
	}
}

func stringByPath(payload map[string]interface{}, path string) (string, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = payload
	for _, p := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		next, ok := m[p]
		if !ok {
			return "", false
		}
		current = next
	}
	s, ok := current.(string)
	return s, ok
}
