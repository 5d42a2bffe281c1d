package domain

import "time"

type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

func (a OrderAction) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

type SignalKind string

const (
	KindEntry SignalKind = "ENTRY"
	KindExit  SignalKind = "EXIT"
)

type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentSwipedOn   IntentStatus = "swiped_on"
	IntentSwipedOff  IntentStatus = "swiped_off"
	IntentSwipedDeny IntentStatus = "swiped_deny"
	IntentCancelled  IntentStatus = "cancelled"
)

// Approved reports whether the intent clears an execution for forwarding.
func (s IntentStatus) Approved() bool {
	return s == IntentSwipedOn
}

// Discoverable reports whether live-intent lookups may still return this
// status. Denied and cancelled intents are dead for matching purposes;
// swiped_off stays discoverable so resolution can report it as unapproved.
func (s IntentStatus) Discoverable() bool {
	return s != IntentSwipedDeny && s != IntentCancelled
}

type CardState string

const (
	CardActive   CardState = "active"
	CardSwiped   CardState = "swiped"
	CardArchived CardState = "archived"
)

type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionExecuted  ExecutionStatus = "executed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionFailed    ExecutionStatus = "failed"
)

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionExecuted, ExecutionCancelled, ExecutionFailed:
		return true
	default:
		return false
	}
}

type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

type ExecutionMode string

const (
	ModeOff  ExecutionMode = "off"
	ModeSafe ExecutionMode = "safe"
	ModeLive ExecutionMode = "live"
)

func (m ExecutionMode) Valid() bool {
	return m == ModeOff || m == ModeSafe || m == ModeLive
}

// TradeIntent is a proposed trade awaiting a swipe decision. Expired or
// denied intents drop out of live lookups but the rows stay until retention
// removes them.
type TradeIntent struct {
	ID         string       `json:"intent_id"`
	Ticker     string       `json:"ticker"`
	Direction  OrderAction  `json:"direction"`
	Confidence float64      `json:"confidence,omitempty"`
	Strength   float64      `json:"strength,omitempty"`
	Status     IntentStatus `json:"status"`
	CardState  CardState    `json:"card_state"`
	ExpiresAt  time.Time    `json:"expires_at"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (i TradeIntent) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Execution is a queued order resolved once its delay elapses. IntentID is a
// weak reference: it is resolved by lookup at resolution time and deleting
// the intent never removes the execution.
type Execution struct {
	ID             string          `json:"execution_id"`
	Ticker         string          `json:"ticker"`
	OrderAction    OrderAction     `json:"order_action"`
	Quantity       float64         `json:"quantity"`
	LimitPrice     float64         `json:"limit_price"`
	DelayExpiresAt time.Time       `json:"delay_expires_at"`
	IntentID       string          `json:"intent_id,omitempty"`
	Status         ExecutionStatus `json:"status"`
	ExecutedAt     time.Time       `json:"executed_at,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	RawPayload     string          `json:"raw_payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Due reports whether the approval delay has elapsed.
func (e Execution) Due(now time.Time) bool {
	return !now.Before(e.DelayExpiresAt)
}

type Position struct {
	ID         string       `json:"position_id"`
	Ticker     string       `json:"ticker"`
	Side       PositionSide `json:"side"`
	Quantity   float64      `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
	OpenedAt   time.Time    `json:"opened_at"`
	ClosedAt   time.Time    `json:"closed_at,omitempty"`
}

func (p Position) Open() bool {
	return p.ClosedAt.IsZero()
}

// TickerGate controls whether new signals for a ticker are admitted.
// A set BlockedUntil is a timed cooldown the scheduler sweeps once elapsed.
// Enabled=false with a zero BlockedUntil is an indefinite manual block that
// only the daily reset or an explicit revive clears.
type TickerGate struct {
	Ticker       string    `json:"ticker"`
	Enabled      bool      `json:"enabled"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (g TickerGate) Admits(now time.Time) bool {
	if !g.Enabled {
		return false
	}
	if !g.BlockedUntil.IsZero() && now.Before(g.BlockedUntil) {
		return false
	}
	return true
}

// ExecutionSettings is the singleton runtime configuration read by intake and
// the schedulers. BrokerToken is stored encrypted when an encryption key is
// configured and never serialized outward.
type ExecutionSettings struct {
	Mode         ExecutionMode `json:"execution_mode"`
	DelaySeconds int           `json:"delay_seconds"`
	BrokerURL    string        `json:"broker_url"`
	BrokerToken  string        `json:"-"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (s ExecutionSettings) Delay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}

// ModeWindow maps a weekly time range onto an execution mode. Days uses
// time.Weekday numbering (0 = Sunday). End before Start wraps past midnight
// and belongs to the window's start day.
type ModeWindow struct {
	ID       string        `json:"window_id"`
	Label    string        `json:"label,omitempty"`
	Days     []int         `json:"days"`
	Start    string        `json:"start"`
	End      string        `json:"end"`
	Mode     ExecutionMode `json:"mode"`
	Priority int           `json:"priority"`
}

type WebhookStatus string

const (
	WebhookAccepted WebhookStatus = "accepted"
	WebhookIgnored  WebhookStatus = "ignored"
	WebhookRejected WebhookStatus = "rejected"
)

type WebhookLog struct {
	ID        string        `json:"log_id"`
	Source    string        `json:"source"`
	Payload   string        `json:"payload"`
	Status    WebhookStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

type EventType string

const (
	EventSignalReceived     EventType = "SignalReceived"
	EventSignalRejected     EventType = "SignalRejected"
	EventIntentCreated      EventType = "IntentCreated"
	EventIntentSwiped       EventType = "IntentSwiped"
	EventIntentCancelled    EventType = "IntentCancelled"
	EventExecutionQueued    EventType = "ExecutionQueued"
	EventExecutionExecuted  EventType = "ExecutionExecuted"
	EventExecutionCancelled EventType = "ExecutionCancelled"
	EventExecutionFailed    EventType = "ExecutionFailed"
	EventPositionOpened     EventType = "PositionOpened"
	EventPositionUpdated    EventType = "PositionUpdated"
	EventPositionClosed     EventType = "PositionClosed"
	EventGateChanged        EventType = "GateChanged"
	EventGatesRevived       EventType = "GatesRevived"
	EventModeChanged        EventType = "ModeChanged"
)

type Event struct {
	ID        string                 `json:"event_id"`
	Type      EventType              `json:"event_type"`
	Ticker    string                 `json:"ticker,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// Signal is a validated inbound trade signal. Raw preserves the body exactly
// as received so executions can carry provenance in raw_payload.
type Signal struct {
	Ticker       string      `json:"ticker"`
	Action       OrderAction `json:"action"`
	Quantity     float64     `json:"quantity"`
	Price        float64     `json:"price"`
	Kind         SignalKind  `json:"kind"`
	Confidence   float64     `json:"confidence,omitempty"`
	Strength     float64     `json:"strength,omitempty"`
	DelaySeconds int         `json:"delay_seconds,omitempty"`
	Raw          string      `json:"-"`
}
