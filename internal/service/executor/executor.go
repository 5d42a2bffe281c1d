package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/integrations/broker"
	"tradegate/internal/observability"
	"tradegate/internal/service/ledger"
	"tradegate/internal/store"
)

// Broker is the outbound order gateway. The production implementation makes
// a single HTTP POST; tests count calls instead.
type Broker interface {
	Forward(ctx context.Context, webhookURL, authToken string, order broker.Order) error
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Config struct {
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	BatchLimit     int
}

// Scheduler drives due executions to a terminal status. It idles on a slow
// heartbeat while no work exists, polls every ActiveInterval otherwise, and
// intake wakes it the moment new pending work appears. Resolution only runs
// while the global mode is safe; cooldown sweeping runs on every active tick.
type Scheduler struct {
	store    store.Store
	book     *ledger.Book
	broker   Broker
	bus      *events.Bus
	notifier Notifier
	cfg      Config

	wake   chan struct{}
	active atomic.Bool
}

func NewScheduler(st store.Store, book *ledger.Book, gateway Broker, bus *events.Bus, notifier Notifier, cfg Config) *Scheduler {
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = 10 * time.Second
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 60 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	return &Scheduler{
		store:    st,
		book:     book,
		broker:   gateway,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("executor: started (active %s, idle %s)", s.cfg.ActiveInterval, s.cfg.IdleInterval)
	timer := time.NewTimer(s.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("executor: stopped")
			return
		case <-s.wake:
			s.promote("wake")
		case <-timer.C:
			s.Tick(ctx)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.interval())
	}
}

// Wake edge-triggers the idle-to-active transition. Safe from any goroutine;
// a wake while already active is a no-op.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) IsActive() bool { return s.active.Load() }

// Tick runs one scheduling pass; Run calls it on the configured cadence.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.active.Load() {
		s.activeTick(ctx)
	} else {
		s.idleTick()
	}
}

// idleTick is the safety net for work the edge trigger missed, e.g. rows
// already due after a restart. It only checks for existence.
func (s *Scheduler) idleTick() {
	observability.RecordTick("idle")
	if s.store.PendingExecutionCount() > 0 || s.store.TimedBlockCount() > 0 {
		s.promote("idle_heartbeat")
	}
}

func (s *Scheduler) activeTick(ctx context.Context) {
	observability.RecordTick("active")
	start := time.Now()

	settings, err := s.store.GetSettings()
	if err != nil {
		log.Printf("executor: settings unreadable, skipping tick: %v", err)
		return
	}

	s.sweepCooldowns()

	if settings.Mode == domain.ModeSafe {
		due, err := s.store.DueExecutions(time.Now().UTC(), s.cfg.BatchLimit)
		if err != nil {
			log.Printf("executor: due query: %v", err)
		} else {
			for _, exec := range due {
				s.resolve(ctx, exec, settings, false)
			}
		}
	}
	observability.ObserveResolveDuration(time.Since(start).Seconds())

	pending := s.store.PendingExecutionCount()
	observability.SetPendingExecutions(pending)
	observability.SetOpenPositions(s.store.OpenPositionCount())
	if pending == 0 && s.store.TimedBlockCount() == 0 {
		s.demote()
	}
}

// ResolveNow resolves one execution outside the tick cadence: live-mode
// intake and the manual execute override. Approval checks are skipped; the
// open-position guard for exits is not.
func (s *Scheduler) ResolveNow(ctx context.Context, exec domain.Execution) domain.Execution {
	settings, err := s.store.GetSettings()
	if err != nil {
		log.Printf("executor: resolve %s: settings: %v", exec.ID, err)
		return s.fail(exec, "settings unreadable")
	}
	return s.resolve(ctx, exec, settings, true)
}

// sweepCooldowns clears elapsed timed blocks. The filter is strictly
// "blocked_until set and elapsed": an indefinite manual block has no
// blocked_until and is never touched here.
func (s *Scheduler) sweepCooldowns() {
	now := time.Now().UTC()
	for _, gate := range s.store.ExpiredCooldowns(now) {
		if err := s.store.ClearCooldown(gate.Ticker); err != nil {
			log.Printf("executor: clear cooldown %s: %v", gate.Ticker, err)
			continue
		}
		observability.RecordCooldownCleared()
		s.bus.Emit(domain.EventGateChanged, gate.Ticker, map[string]interface{}{
			"cooldown_cleared": true,
		})
	}
}

// resolve drives one due execution to a terminal status. Any error not
// already expressed as a terminal transition marks the record failed; a bad
// record never aborts the batch it arrived in.
func (s *Scheduler) resolve(ctx context.Context, exec domain.Execution, settings domain.ExecutionSettings, skipApproval bool) (out domain.Execution) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("executor: panic resolving %s: %v", exec.ID, r)
			out = s.fail(exec, fmt.Sprintf("unexpected processing error: %v", r))
		}
	}()

	if domain.KindFromPayload(exec.RawPayload) == domain.KindExit {
		// Exits bypass approval: failing to close risk is worse than an
		// unapproved close. They still never fire without something to close.
		if _, err := s.store.OpenPositionForTicker(exec.Ticker); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return s.fail(exec, "no open position for exit")
			}
			return s.fail(exec, fmt.Sprintf("position lookup: %v", err))
		}
		return s.forward(ctx, exec, settings, true)
	}

	if !skipApproval {
		if done, terminal := s.approvalOutcome(exec); done {
			return terminal
		}
	}
	return s.forward(ctx, exec, settings, false)
}

// approvalOutcome applies the provenance rules for entries. done=true means
// the execution reached a terminal status here; done=false means approval is
// in hand and the order should forward.
func (s *Scheduler) approvalOutcome(exec domain.Execution) (bool, domain.Execution) {
	if exec.IntentID != "" {
		intent, err := s.store.GetIntent(exec.IntentID)
		if errors.Is(err, store.ErrNotFound) {
			return true, s.cancel(exec, "linked intent not found")
		}
		if err != nil {
			return true, s.fail(exec, fmt.Sprintf("intent lookup: %v", err))
		}
		if intent.Status == domain.IntentSwipedOn {
			return false, exec
		}
		// The card's window has passed unapproved: both sides die together.
		if _, err := s.store.SetIntentStatus(intent.ID, domain.IntentCancelled, domain.CardArchived); err != nil {
			log.Printf("executor: archive intent %s: %v", intent.ID, err)
		}
		s.bus.Emit(domain.EventIntentCancelled, exec.Ticker, map[string]interface{}{
			"intent_id": intent.ID,
			"reason":    "approval_timeout",
		})
		return true, s.cancel(exec, "not approved before delay expired")
	}

	// Unlinked: adopt the ticker's live intent, matched by ticker only.
	intent, err := s.store.LiveIntentForTicker(exec.Ticker, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return true, s.cancel(exec, "no intent found for ticker")
	}
	if err != nil {
		return true, s.fail(exec, fmt.Sprintf("intent lookup: %v", err))
	}
	if intent.Status != domain.IntentSwipedOn {
		// Not ours to touch: the intent may still be swiped for a later order.
		return true, s.cancel(exec, "not approved before delay expired")
	}
	if err := s.store.LinkExecutionIntent(exec.ID, intent.ID); err != nil {
		log.Printf("executor: late-link %s to %s: %v", exec.ID, intent.ID, err)
	}
	exec.IntentID = intent.ID
	return false, exec
}

// forward marks the execution executed first, then makes the single broker
// attempt. Local bookkeeping reflects intent-to-fill: a forward failure is
// recorded on the already-executed record and never rolls it back.
func (s *Scheduler) forward(ctx context.Context, exec domain.Execution, settings domain.ExecutionSettings, isExit bool) domain.Execution {
	executed, err := s.store.MarkExecutionExecuted(exec.ID, time.Now().UTC())
	if errors.Is(err, store.ErrConflict) {
		// Resolved by another path already; leave it be.
		return s.current(exec)
	}
	if err != nil {
		return s.fail(exec, fmt.Sprintf("mark executed: %v", err))
	}
	observability.RecordResolution("executed")

	order := broker.Order{
		Symbol:     executed.Ticker,
		Action:     string(executed.OrderAction),
		Quantity:   executed.Quantity,
		LimitPrice: executed.LimitPrice,
	}
	ferr := s.broker.Forward(ctx, settings.BrokerURL, settings.BrokerToken, order)
	observability.RecordBrokerForward(ferr)
	if ferr != nil {
		log.Printf("executor: %s %s: %v", executed.Ticker, executed.ID, ferr)
		if err := s.store.RecordExecutionError(executed.ID, ferr.Error()); err != nil {
			log.Printf("executor: record error on %s: %v", executed.ID, err)
		}
		executed.ErrorMessage = ferr.Error()
	}

	result, lerr := s.book.Apply(executed.Ticker, executed.OrderAction, executed.Quantity, executed.LimitPrice)
	if lerr != nil {
		log.Printf("executor: ledger %s: %v", executed.Ticker, lerr)
	} else {
		s.emitPosition(executed.Ticker, result)
	}

	// Exits announced themselves at intake; only entries report here.
	if !isExit {
		payload := map[string]interface{}{
			"execution_id": executed.ID,
			"action":       string(executed.OrderAction),
			"quantity":     executed.Quantity,
			"limit_price":  executed.LimitPrice,
		}
		if executed.ErrorMessage != "" {
			payload["forward_error"] = executed.ErrorMessage
		}
		if lerr == nil {
			payload["position"] = string(result.Outcome)
		}
		s.bus.Emit(domain.EventExecutionExecuted, executed.Ticker, payload)
		if ferr != nil {
			s.notify(fmt.Sprintf("%s %s %.2f forward failed: %v. Order recorded as executed; check the broker.",
				executed.Ticker, executed.OrderAction, executed.Quantity, ferr))
		} else {
			s.notify(fmt.Sprintf("%s %s %.2f @ %.2f executed.",
				executed.Ticker, executed.OrderAction, executed.Quantity, executed.LimitPrice))
		}
	}
	return executed
}

func (s *Scheduler) emitPosition(ticker string, result ledger.Result) {
	payload := map[string]interface{}{
		"position_id": result.Position.ID,
		"side":        string(result.Position.Side),
		"quantity":    result.Position.Quantity,
	}
	switch result.Outcome {
	case ledger.OutcomeOpened:
		s.bus.Emit(domain.EventPositionOpened, ticker, payload)
	case ledger.OutcomeClosed:
		s.bus.Emit(domain.EventPositionClosed, ticker, payload)
		s.bus.Emit(domain.EventGateChanged, ticker, map[string]interface{}{
			"cooldown_until": result.Position.ClosedAt.Add(ledger.CooldownAfterClose),
		})
	default:
		s.bus.Emit(domain.EventPositionUpdated, ticker, payload)
	}
}

func (s *Scheduler) cancel(exec domain.Execution, reason string) domain.Execution {
	out, err := s.store.MarkExecutionCancelled(exec.ID, reason)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.current(exec)
		}
		log.Printf("executor: cancel %s: %v", exec.ID, err)
		return exec
	}
	observability.RecordResolution("cancelled")
	s.bus.Emit(domain.EventExecutionCancelled, exec.Ticker, map[string]interface{}{
		"execution_id": exec.ID,
		"reason":       reason,
	})
	return out
}

func (s *Scheduler) fail(exec domain.Execution, reason string) domain.Execution {
	out, err := s.store.MarkExecutionFailed(exec.ID, reason)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.current(exec)
		}
		log.Printf("executor: fail %s: %v", exec.ID, err)
		return exec
	}
	observability.RecordResolution("failed")
	s.bus.Emit(domain.EventExecutionFailed, exec.Ticker, map[string]interface{}{
		"execution_id": exec.ID,
		"reason":       reason,
	})
	return out
}

func (s *Scheduler) current(exec domain.Execution) domain.Execution {
	if cur, err := s.store.GetExecution(exec.ID); err == nil {
		return cur
	}
	return exec
}

func (s *Scheduler) interval() time.Duration {
	if s.active.Load() {
		return s.cfg.ActiveInterval
	}
	return s.cfg.IdleInterval
}

func (s *Scheduler) promote(reason string) {
	if s.active.CompareAndSwap(false, true) {
		observability.SetSchedulerActive(true)
		log.Printf("executor: active (%s)", reason)
	}
}

func (s *Scheduler) demote() {
	if s.active.CompareAndSwap(true, false) {
		observability.SetSchedulerActive(false)
		log.Printf("executor: idle")
	}
}

func (s *Scheduler) notify(text string) {
	if s.notifier == nil {
		return
	}
	go func() {
		if err := s.notifier.Notify(context.Background(), text); err != nil {
			log.Printf("executor: notify: %v", err)
		}
	}()
}
