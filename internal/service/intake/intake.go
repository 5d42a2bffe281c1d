package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/observability"
	"tradegate/internal/service/symlock"
	"tradegate/internal/store"
)

// Resolver is the slice of the execution scheduler intake needs: immediate
// resolution for live mode and the idle-to-active edge trigger for safe mode.
type Resolver interface {
	ResolveNow(ctx context.Context, exec domain.Execution) domain.Execution
	Wake()
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Service turns raw webhook signals into intents and executions. All writes
// for a ticker happen under its symbol lock so concurrent deliveries of the
// same signal cannot double-create.
type Service struct {
	store     store.Store
	locks     *symlock.Registry
	resolver  Resolver
	bus       *events.Bus
	notifier  Notifier
	lockTTL   time.Duration
	intentTTL time.Duration
}

func NewService(st store.Store, locks *symlock.Registry, resolver Resolver, bus *events.Bus, notifier Notifier, lockTTL, intentTTL time.Duration) *Service {
	if lockTTL <= 0 {
		lockTTL = symlock.DefaultTTL
	}
	if intentTTL <= 0 {
		intentTTL = time.Hour
	}
	return &Service{
		store:     st,
		locks:     locks,
		resolver:  resolver,
		bus:       bus,
		notifier:  notifier,
		lockTTL:   lockTTL,
		intentTTL: intentTTL,
	}
}

// Result reports what intake did with one signal.
type Result struct {
	Status    domain.WebhookStatus `json:"status"`
	Reason    string               `json:"reason,omitempty"`
	Intent    *domain.TradeIntent  `json:"intent,omitempty"`
	Execution *domain.Execution    `json:"execution,omitempty"`
}

// HandleSignal validates, screens, and routes one signal. A non-nil error
// means the decision itself could not be made (settings or gate unreadable);
// every other outcome is expressed in the Result and logged.
func (s *Service) HandleSignal(ctx context.Context, sig domain.Signal) (Result, error) {
	sig.Ticker = strings.ToUpper(strings.TrimSpace(sig.Ticker))
	if sig.Kind != domain.KindEntry && sig.Kind != domain.KindExit {
		sig.Kind = domain.KindFromPayload(sig.Raw)
	}
	if reason := validate(sig); reason != "" {
		return s.reject(sig, reason), nil
	}

	settings, err := s.store.GetSettings()
	if err != nil {
		s.logDecision(sig, domain.WebhookRejected, "settings_unreadable")
		return Result{}, fmt.Errorf("load settings: %w", err)
	}
	if sig.DelaySeconds <= 0 {
		sig.DelaySeconds = settings.DelaySeconds
	}

	now := time.Now().UTC()
	gate, err := s.store.GetGate(sig.Ticker)
	switch {
	case err == nil:
		if !gate.Admits(now) {
			reason := "ticker_disabled"
			if gate.Enabled {
				reason = "ticker_cooling_down"
			}
			return s.reject(sig, reason), nil
		}
	case errors.Is(err, store.ErrNotFound):
		// No gate record yet: the ticker has never been touched, admit it.
	default:
		s.logDecision(sig, domain.WebhookRejected, "gate_unreadable")
		return Result{}, fmt.Errorf("load gate %s: %w", sig.Ticker, err)
	}

	if settings.Mode != domain.ModeSafe && settings.Mode != domain.ModeLive {
		s.logDecision(sig, domain.WebhookIgnored, "execution_mode_off")
		observability.RecordSignal(string(sig.Kind), string(domain.WebhookIgnored))
		return Result{Status: domain.WebhookIgnored, Reason: "execution_mode_off"}, nil
	}

	if settings.Mode == domain.ModeLive {
		return s.acceptLive(ctx, sig, now), nil
	}
	return s.acceptSafe(sig, now), nil
}

func validate(sig domain.Signal) string {
	if sig.Ticker == "" {
		return "ticker_missing"
	}
	if !sig.Action.Valid() {
		return "action_invalid"
	}
	if sig.Quantity <= 0 {
		return "quantity_invalid"
	}
	if sig.Price < 0 {
		return "price_invalid"
	}
	return ""
}

// acceptLive skips the approval pipeline entirely: one execution, resolved
// in-line, no intent.
func (s *Service) acceptLive(ctx context.Context, sig domain.Signal, now time.Time) Result {
	exec := s.store.CreateExecution(domain.Execution{
		Ticker:         sig.Ticker,
		OrderAction:    sig.Action,
		Quantity:       sig.Quantity,
		LimitPrice:     sig.Price,
		DelayExpiresAt: now,
		RawPayload:     sig.Raw,
	})
	s.accept(sig, "live")
	resolved := s.resolver.ResolveNow(ctx, exec)
	return Result{Status: domain.WebhookAccepted, Execution: &resolved}
}

func (s *Service) acceptSafe(sig domain.Signal, now time.Time) Result {
	kind := symlock.KindOrder
	if sig.Kind == domain.KindExit {
		kind = symlock.KindExit
	}
	if !s.locks.Acquire(sig.Ticker, kind, s.lockTTL) {
		observability.RecordLockContention(string(kind))
		return s.reject(sig, "signal_already_in_flight")
	}
	defer s.locks.Release(sig.Ticker, kind)

	due := now.Add(time.Duration(sig.DelaySeconds) * time.Second)

	if sig.Kind == domain.KindExit {
		exec := s.store.CreateExecution(domain.Execution{
			Ticker:         sig.Ticker,
			OrderAction:    sig.Action,
			Quantity:       sig.Quantity,
			LimitPrice:     sig.Price,
			DelayExpiresAt: due,
			RawPayload:     sig.Raw,
		})
		s.accept(sig, "safe")
		s.bus.Emit(domain.EventExecutionQueued, sig.Ticker, map[string]interface{}{
			"execution_id": exec.ID,
			"kind":         string(domain.KindExit),
			"action":       string(sig.Action),
			"quantity":     sig.Quantity,
		})
		s.notify(fmt.Sprintf("%s exit received: %s %.2f. Forwarding at %s unless cancelled.",
			sig.Ticker, sig.Action, sig.Quantity, due.Format("15:04:05 MST")))
		s.resolver.Wake()
		return Result{Status: domain.WebhookAccepted, Execution: &exec}
	}

	// ENTRY: reuse the live intent while it is still awaiting or holding
	// approval, otherwise open a fresh card.
	var intent domain.TradeIntent
	existing, err := s.store.LiveIntentForTicker(sig.Ticker, now)
	if err == nil && (existing.Status == domain.IntentPending || existing.Status == domain.IntentSwipedOn) {
		intent = existing
		_ = s.store.TouchIntent(intent.ID)
	} else {
		intent = s.store.CreateIntent(domain.TradeIntent{
			Ticker:     sig.Ticker,
			Direction:  sig.Action,
			Confidence: sig.Confidence,
			Strength:   sig.Strength,
			ExpiresAt:  now.Add(s.intentTTL),
		})
		s.bus.Emit(domain.EventIntentCreated, sig.Ticker, map[string]interface{}{
			"intent_id": intent.ID,
			"direction": intent.Direction,
		})
	}

	exec := s.store.CreateExecution(domain.Execution{
		Ticker:         sig.Ticker,
		OrderAction:    sig.Action,
		Quantity:       sig.Quantity,
		LimitPrice:     sig.Price,
		DelayExpiresAt: due,
		IntentID:       intent.ID,
		RawPayload:     sig.Raw,
	})
	s.accept(sig, "safe")
	s.bus.Emit(domain.EventExecutionQueued, sig.Ticker, map[string]interface{}{
		"execution_id": exec.ID,
		"intent_id":    intent.ID,
		"action":       string(sig.Action),
		"quantity":     sig.Quantity,
	})
	s.notify(fmt.Sprintf("%s %s %.2f @ %.2f awaiting swipe. Auto-cancels at %s.",
		sig.Ticker, sig.Action, sig.Quantity, sig.Price, due.Format("15:04:05 MST")))
	s.resolver.Wake()
	return Result{Status: domain.WebhookAccepted, Intent: &intent, Execution: &exec}
}

func (s *Service) accept(sig domain.Signal, mode string) {
	s.logDecision(sig, domain.WebhookAccepted, "")
	s.bus.Emit(domain.EventSignalReceived, sig.Ticker, map[string]interface{}{
		"kind":     string(sig.Kind),
		"action":   string(sig.Action),
		"quantity": sig.Quantity,
		"mode":     mode,
	})
	observability.RecordSignal(string(sig.Kind), string(domain.WebhookAccepted))
}

func (s *Service) reject(sig domain.Signal, reason string) Result {
	s.logDecision(sig, domain.WebhookRejected, reason)
	s.bus.Emit(domain.EventSignalRejected, sig.Ticker, map[string]interface{}{
		"reason":   reason,
		"action":   string(sig.Action),
		"quantity": sig.Quantity,
	})
	observability.RecordSignal(string(sig.Kind), string(domain.WebhookRejected))
	return Result{Status: domain.WebhookRejected, Reason: reason}
}

func (s *Service) logDecision(sig domain.Signal, status domain.WebhookStatus, reason string) {
	s.store.AppendWebhookLog(domain.WebhookLog{
		Source:  "tradingview",
		Payload: sig.Raw,
		Status:  status,
		Reason:  reason,
	})
}

func (s *Service) notify(text string) {
	if s.notifier == nil {
		return
	}
	go func() {
		if err := s.notifier.Notify(context.Background(), text); err != nil {
			log.Printf("intake: notify: %v", err)
		}
	}()
}
