package store

import (
	"errors"
	"time"

	"tradegate/internal/domain"
)

// Sentinel errors shared by both implementations so callers can errors.Is
// without knowing which store is wired.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a terminal transition is attempted on a
	// record that already left the pending state.
	ErrConflict = errors.New("conflict")
)

// Store defines the persistence contract shared by the HTTP layer and the
// schedulers. List methods return newest-first and never fail; write methods
// on audit-style records are best effort.
type Store interface {
	CreateIntent(intent domain.TradeIntent) domain.TradeIntent
	GetIntent(id string) (domain.TradeIntent, error)
	SetIntentStatus(id string, status domain.IntentStatus, card domain.CardState) (domain.TradeIntent, error)
	TouchIntent(id string) error
	LiveIntentForTicker(ticker string, now time.Time) (domain.TradeIntent, error)
	ListIntents(limit int) []domain.TradeIntent
	DeleteIntentsBefore(cutoff time.Time) int

	CreateExecution(exec domain.Execution) domain.Execution
	GetExecution(id string) (domain.Execution, error)
	DueExecutions(now time.Time, limit int) ([]domain.Execution, error)
	PendingExecutionCount() int
	LinkExecutionIntent(executionID, intentID string) error
	MarkExecutionExecuted(id string, executedAt time.Time) (domain.Execution, error)
	MarkExecutionCancelled(id, reason string) (domain.Execution, error)
	MarkExecutionFailed(id, reason string) (domain.Execution, error)
	RecordExecutionError(id, message string) error
	ListExecutions(limit int) []domain.Execution
	DeleteExecutionsBefore(cutoff time.Time) int

	CreatePosition(position domain.Position) domain.Position
	OpenPositionForTicker(ticker string) (domain.Position, error)
	OpenPositionCount() int
	SetPositionQuantity(id string, quantity float64) (domain.Position, error)
	ClosePosition(id string, closedAt time.Time) (domain.Position, error)
	ListPositions(includeClosed bool, limit int) []domain.Position

	GetGate(ticker string) (domain.TickerGate, error)
	SetGateEnabled(ticker string, enabled bool) domain.TickerGate
	SetGateCooldown(ticker string, until time.Time) domain.TickerGate
	ClearCooldown(ticker string) error
	ExpiredCooldowns(now time.Time) []domain.TickerGate
	TimedBlockCount() int
	ListGates() []domain.TickerGate
	ReviveAllGates() int

	GetSettings() (domain.ExecutionSettings, error)
	SaveSettings(settings domain.ExecutionSettings) domain.ExecutionSettings

	ListModeWindows() []domain.ModeWindow
	ReplaceModeWindows(windows []domain.ModeWindow) []domain.ModeWindow

	AppendWebhookLog(entry domain.WebhookLog) domain.WebhookLog
	ListWebhookLogs(limit int) []domain.WebhookLog
	DeleteWebhookLogsBefore(cutoff time.Time) int

	AppendEvent(eventType domain.EventType, ticker string, payload map[string]interface{}) domain.Event
	ListEvents(limit int) []domain.Event
	DeleteEventsBefore(cutoff time.Time) int
}
