package memory

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/domain"
	"tradegate/internal/store"
)

type Store struct {
	mu sync.RWMutex

	intents    map[string]domain.TradeIntent
	executions map[string]domain.Execution
	positions  map[string]domain.Position
	gates      map[string]domain.TickerGate

	settings domain.ExecutionSettings
	windows  []domain.ModeWindow

	webhookLogs []domain.WebhookLog
	events      []domain.Event
}

func NewStore(defaults domain.ExecutionSettings) *Store {
	if defaults.UpdatedAt.IsZero() {
		defaults.UpdatedAt = time.Now().UTC()
	}
	return &Store{
		intents:     make(map[string]domain.TradeIntent),
		executions:  make(map[string]domain.Execution),
		positions:   make(map[string]domain.Position),
		gates:       make(map[string]domain.TickerGate),
		settings:    defaults,
		windows:     make([]domain.ModeWindow, 0, 8),
		webhookLogs: make([]domain.WebhookLog, 0, 256),
		events:      make([]domain.Event, 0, 256),
	}
}

func (s *Store) CreateIntent(intent domain.TradeIntent) domain.TradeIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.Status == "" {
		intent.Status = domain.IntentPending
	}
	if intent.CardState == "" {
		intent.CardState = domain.CardActive
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.Ticker = strings.ToUpper(intent.Ticker)
	intent.UpdatedAt = now
	s.intents[intent.ID] = intent
	return intent
}

func (s *Store) GetIntent(id string) (domain.TradeIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[id]
	if !ok {
		return domain.TradeIntent{}, store.ErrNotFound
	}
	return intent, nil
}

func (s *Store) SetIntentStatus(id string, status domain.IntentStatus, card domain.CardState) (domain.TradeIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return domain.TradeIntent{}, store.ErrNotFound
	}
	intent.Status = status
	if card != "" {
		intent.CardState = card
	}
	intent.UpdatedAt = time.Now().UTC()
	s.intents[id] = intent
	return intent, nil
}

func (s *Store) TouchIntent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return store.ErrNotFound
	}
	intent.UpdatedAt = time.Now().UTC()
	s.intents[id] = intent
	return nil
}

func (s *Store) LiveIntentForTicker(ticker string, now time.Time) (domain.TradeIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticker = strings.ToUpper(ticker)
	var best domain.TradeIntent
	found := false
	for _, intent := range s.intents {
		if intent.Ticker != ticker {
			continue
		}
		if intent.Expired(now) || !intent.Status.Discoverable() {
			continue
		}
		if !found || intent.UpdatedAt.After(best.UpdatedAt) {
			best = intent
			found = true
		}
	}
	if !found {
		return domain.TradeIntent{}, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) ListIntents(limit int) []domain.TradeIntent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TradeIntent, 0, len(s.intents))
	for _, intent := range s.intents {
		out = append(out, intent)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return clip(out, limit)
}

func (s *Store) DeleteIntentsBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, intent := range s.intents {
		if !intent.UpdatedAt.Before(cutoff) {
			continue
		}
		if intent.Status == domain.IntentPending && !intent.ExpiresAt.Before(cutoff) {
			continue
		}
		delete(s.intents, id)
		removed++
	}
	return removed
}

func (s *Store) CreateExecution(exec domain.Execution) domain.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.Status == "" {
		exec.Status = domain.ExecutionPending
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.Ticker = strings.ToUpper(exec.Ticker)
	exec.UpdatedAt = now
	s.executions[exec.ID] = exec
	return exec
}

func (s *Store) GetExecution(id string) (domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return domain.Execution{}, store.ErrNotFound
	}
	return exec, nil
}

func (s *Store) DueExecutions(now time.Time, limit int) ([]domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Execution, 0, 16)
	for _, exec := range s.executions {
		if exec.Status != domain.ExecutionPending || !exec.Due(now) {
			continue
		}
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DelayExpiresAt.Before(out[j].DelayExpiresAt)
	})
	return clip(out, limit), nil
}

func (s *Store) PendingExecutionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, exec := range s.executions {
		if exec.Status == domain.ExecutionPending {
			n++
		}
	}
	return n
}

func (s *Store) LinkExecutionIntent(executionID, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return store.ErrNotFound
	}
	exec.IntentID = intentID
	exec.UpdatedAt = time.Now().UTC()
	s.executions[executionID] = exec
	return nil
}

func (s *Store) MarkExecutionExecuted(id string, executedAt time.Time) (domain.Execution, error) {
	return s.transition(id, domain.ExecutionExecuted, "", executedAt)
}

func (s *Store) MarkExecutionCancelled(id, reason string) (domain.Execution, error) {
	return s.transition(id, domain.ExecutionCancelled, reason, time.Time{})
}

func (s *Store) MarkExecutionFailed(id, reason string) (domain.Execution, error) {
	return s.transition(id, domain.ExecutionFailed, reason, time.Time{})
}

// transition enforces the single pending->terminal hop.
func (s *Store) transition(id string, status domain.ExecutionStatus, reason string, executedAt time.Time) (domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return domain.Execution{}, store.ErrNotFound
	}
	if exec.Status != domain.ExecutionPending {
		return exec, store.ErrConflict
	}
	exec.Status = status
	if reason != "" {
		exec.ErrorMessage = reason
	}
	if !executedAt.IsZero() {
		exec.ExecutedAt = executedAt
	}
	exec.UpdatedAt = time.Now().UTC()
	s.executions[id] = exec
	return exec, nil
}

func (s *Store) RecordExecutionError(id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	exec.ErrorMessage = message
	exec.UpdatedAt = time.Now().UTC()
	s.executions[id] = exec
	return nil
}

func (s *Store) ListExecutions(limit int) []domain.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return clip(out, limit)
}

func (s *Store) DeleteExecutionsBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, exec := range s.executions {
		if exec.Status == domain.ExecutionPending || !exec.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.executions, id)
		removed++
	}
	return removed
}

func (s *Store) CreatePosition(position domain.Position) domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position.ID == "" {
		position.ID = uuid.NewString()
	}
	if position.OpenedAt.IsZero() {
		position.OpenedAt = time.Now().UTC()
	}
	position.Ticker = strings.ToUpper(position.Ticker)
	s.positions[position.ID] = position
	return position
}

func (s *Store) OpenPositionForTicker(ticker string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticker = strings.ToUpper(ticker)
	for _, position := range s.positions {
		if position.Ticker == ticker && position.Open() {
			return position, nil
		}
	}
	return domain.Position{}, store.ErrNotFound
}

func (s *Store) OpenPositionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, position := range s.positions {
		if position.Open() {
			n++
		}
	}
	return n
}

func (s *Store) SetPositionQuantity(id string, quantity float64) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	position, ok := s.positions[id]
	if !ok {
		return domain.Position{}, store.ErrNotFound
	}
	if !position.Open() {
		return position, store.ErrConflict
	}
	position.Quantity = quantity
	s.positions[id] = position
	return position, nil
}

func (s *Store) ClosePosition(id string, closedAt time.Time) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	position, ok := s.positions[id]
	if !ok {
		return domain.Position{}, store.ErrNotFound
	}
	if !position.Open() {
		return position, store.ErrConflict
	}
	position.ClosedAt = closedAt
	s.positions[id] = position
	return position, nil
}

func (s *Store) ListPositions(includeClosed bool, limit int) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, position := range s.positions {
		if !includeClosed && !position.Open() {
			continue
		}
		out = append(out, position)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	return clip(out, limit)
}

func (s *Store) GetGate(ticker string) (domain.TickerGate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gate, ok := s.gates[strings.ToUpper(ticker)]
	if !ok {
		return domain.TickerGate{}, store.ErrNotFound
	}
	return gate, nil
}

func (s *Store) SetGateEnabled(ticker string, enabled bool) domain.TickerGate {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticker = strings.ToUpper(ticker)
	gate := s.gates[ticker]
	gate.Ticker = ticker
	gate.Enabled = enabled
	gate.BlockedUntil = time.Time{}
	gate.UpdatedAt = time.Now().UTC()
	s.gates[ticker] = gate
	return gate
}

func (s *Store) SetGateCooldown(ticker string, until time.Time) domain.TickerGate {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticker = strings.ToUpper(ticker)
	gate, ok := s.gates[ticker]
	if !ok {
		gate = domain.TickerGate{Ticker: ticker, Enabled: true}
	}
	gate.BlockedUntil = until
	gate.UpdatedAt = time.Now().UTC()
	s.gates[ticker] = gate
	return gate
}

// ClearCooldown nulls the timed block only; the enabled flag is never touched
// so an indefinite manual block survives the sweep.
func (s *Store) ClearCooldown(ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticker = strings.ToUpper(ticker)
	gate, ok := s.gates[ticker]
	if !ok {
		return store.ErrNotFound
	}
	gate.BlockedUntil = time.Time{}
	gate.UpdatedAt = time.Now().UTC()
	s.gates[ticker] = gate
	return nil
}

func (s *Store) ExpiredCooldowns(now time.Time) []domain.TickerGate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TickerGate, 0, 4)
	for _, gate := range s.gates {
		if gate.BlockedUntil.IsZero() || now.Before(gate.BlockedUntil) {
			continue
		}
		out = append(out, gate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (s *Store) TimedBlockCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, gate := range s.gates {
		if !gate.BlockedUntil.IsZero() {
			n++
		}
	}
	return n
}

func (s *Store) ListGates() []domain.TickerGate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TickerGate, 0, len(s.gates))
	for _, gate := range s.gates {
		out = append(out, gate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (s *Store) ReviveAllGates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	revived := 0
	for ticker, gate := range s.gates {
		if gate.Enabled && gate.BlockedUntil.IsZero() {
			continue
		}
		gate.Enabled = true
		gate.BlockedUntil = time.Time{}
		gate.UpdatedAt = now
		s.gates[ticker] = gate
		revived++
	}
	return revived
}

func (s *Store) GetSettings() (domain.ExecutionSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveSettings(settings domain.ExecutionSettings) domain.ExecutionSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.UpdatedAt = time.Now().UTC()
	s.settings = settings
	return settings
}

func (s *Store) ListModeWindows() []domain.ModeWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.windows)
}

func (s *Store) ReplaceModeWindows(windows []domain.ModeWindow) []domain.ModeWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]domain.ModeWindow, 0, len(windows))
	for _, w := range windows {
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		next = append(next, w)
	}
	s.windows = next
	return slices.Clone(s.windows)
}

func (s *Store) AppendWebhookLog(entry domain.WebhookLog) domain.WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.webhookLogs = append(s.webhookLogs, entry)
	return entry
}

func (s *Store) ListWebhookLogs(limit int) []domain.WebhookLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(s.webhookLogs) == 0 {
		return []domain.WebhookLog{}
	}
	start := max(len(s.webhookLogs)-limit, 0)
	out := slices.Clone(s.webhookLogs[start:])
	slices.Reverse(out)
	return out
}

func (s *Store) DeleteWebhookLogsBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.webhookLogs[:0]
	removed := 0
	for _, entry := range s.webhookLogs {
		if entry.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.webhookLogs = kept
	return removed
}

func (s *Store) AppendEvent(eventType domain.EventType, ticker string, payload map[string]interface{}) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Ticker:    strings.ToUpper(ticker),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	s.events = append(s.events, event)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(s.events) == 0 {
		return []domain.Event{}
	}
	start := max(len(s.events)-limit, 0)
	out := slices.Clone(s.events[start:])
	slices.Reverse(out)
	return out
}

func (s *Store) DeleteEventsBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	removed := 0
	for _, event := range s.events {
		if event.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return removed
}

func clip[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
