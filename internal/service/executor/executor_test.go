package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/integrations/broker"
	"tradegate/internal/service/ledger"
	"tradegate/internal/store/memory"
)

type fakeBroker struct {
	mu     sync.Mutex
	orders []broker.Order
	urls   []string
	err    error
}

func (f *fakeBroker) Forward(_ context.Context, webhookURL, _ string, order broker.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	f.urls = append(f.urls, webhookURL)
	return f.err
}

func (f *fakeBroker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func newScheduler(mode domain.ExecutionMode) (*Scheduler, *memory.Store, *fakeBroker) {
	st := memory.NewStore(domain.ExecutionSettings{
		Mode:         mode,
		DelaySeconds: 300,
		BrokerURL:    "http://broker.test/hook",
	})
	fb := &fakeBroker{}
	sched := NewScheduler(st, ledger.NewBook(st), fb, events.NewBus(st, nil, nil), nil, Config{
		ActiveInterval: 5 * time.Millisecond,
		IdleInterval:   10 * time.Millisecond,
	})
	return sched, st, fb
}

// runActive promotes via the idle heartbeat, then runs one full pass.
func runActive(s *Scheduler) {
	s.Tick(context.Background())
	s.Tick(context.Background())
}

func dueExecution(st *memory.Store, ticker string, action domain.OrderAction, qty float64, intentID, raw string) domain.Execution {
	return st.CreateExecution(domain.Execution{
		Ticker:         ticker,
		OrderAction:    action,
		Quantity:       qty,
		LimitPrice:     100,
		DelayExpiresAt: time.Now().UTC().Add(-time.Second),
		IntentID:       intentID,
		RawPayload:     raw,
	})
}

func intentWithStatus(st *memory.Store, ticker string, status domain.IntentStatus) domain.TradeIntent {
	intent := st.CreateIntent(domain.TradeIntent{
		Ticker:    ticker,
		Direction: "buy",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if status != domain.IntentPending {
		intent, _ = st.SetIntentStatus(intent.ID, status, domain.CardSwiped)
	}
	return intent
}

func TestDeniedIntentCancelsBothSidesWithoutBroker(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	intent := intentWithStatus(st, "AAPL", domain.IntentSwipedDeny)
	exec := dueExecution(st, "AAPL", domain.ActionBuy, 10, intent.ID, `{"kind":"ENTRY"}`)

	runActive(sched)

	got, _ := st.GetExecution(exec.ID)
	if got.Status != domain.ExecutionCancelled {
		t.Fatalf("execution status = %s", got.Status)
	}
	if got.ErrorMessage != "not approved before delay expired" {
		t.Fatalf("reason = %q", got.ErrorMessage)
	}
	gotIntent, _ := st.GetIntent(intent.ID)
	if gotIntent.Status != domain.IntentCancelled || gotIntent.CardState != domain.CardArchived {
		t.Fatalf("intent = %s/%s, want cancelled/archived", gotIntent.Status, gotIntent.CardState)
	}
	if fb.count() != 0 {
		t.Fatalf("broker calls = %d, want 0", fb.count())
	}
}

func TestExitWithOpenPositionExecutes(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	st.CreatePosition(domain.Position{Ticker: "AAPL", Side: domain.SideLong, Quantity: 10, EntryPrice: 90})
	// No intent anywhere: exits must not care.
	exec := dueExecution(st, "AAPL", domain.ActionSell, 4, "", `{"kind":"EXIT"}`)

	runActive(sched)

	got, _ := st.GetExecution(exec.ID)
	if got.Status != domain.ExecutionExecuted {
		t.Fatalf("execution status = %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.ExecutedAt.IsZero() {
		t.Fatal("executed_at not set")
	}
	if fb.count() != 1 {
		t.Fatalf("broker calls = %d, want 1", fb.count())
	}
	order := fb.orders[0]
	if order.Symbol != "AAPL" || order.Action != "sell" || order.Quantity != 4 {
		t.Fatalf("order = %+v", order)
	}
	if fb.urls[0] != "http://broker.test/hook" {
		t.Fatalf("forwarded to %q", fb.urls[0])
	}

	pos, err := st.OpenPositionForTicker("AAPL")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Quantity != 6 {
		t.Fatalf("quantity = %v, want 6", pos.Quantity)
	}
}

func TestExitWithoutPositionFailsWithoutBroker(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	exec := dueExecution(st, "AAPL", domain.ActionSell, 10, "", `{"kind":"EXIT"}`)

	runActive(sched)

	got, _ := st.GetExecution(exec.ID)
	if got.Status != domain.ExecutionFailed {
		t.Fatalf("execution status = %s", got.Status)
	}
	if got.ErrorMessage != "no open position for exit" {
		t.Fatalf("reason = %q", got.ErrorMessage)
	}
	if fb.count() != 0 {
		t.Fatalf("broker calls = %d, want 0", fb.count())
	}
}

func TestUnlinkedExecutionLateLinksApprovedIntent(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	intent := intentWithStatus(st, "AAPL", domain.IntentSwipedOn)
	exec := dueExecution(st, "AAPL", domain.ActionBuy, 10, "", `{"kind":"ENTRY"}`)

	runActive(sched)

	got, _ := st.GetExecution(exec.ID)
	if got.Status != domain.ExecutionExecuted {
		t.Fatalf("execution status = %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.IntentID != intent.ID {
		t.Fatalf("intent_id = %q, want %q", got.IntentID, intent.ID)
	}
	if fb.count() != 1 {
		t.Fatalf("broker calls = %d, want 1", fb.count())
	}
}

func TestUnlinkedExecutionWithoutIntentCancels(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	exec := dueExecution(st, "AAPL", domain.ActionBuy, 10, "", `{"kind":"ENTRY"}`)

	runActive(sched)

	got, _ := st.GetExecution(exec.ID)
	if got.Status != domain.ExecutionCancelled {
		t.Fatalf("execution status = %s", got.Status)
	}
	if got.ErrorMessage != "no intent found for ticker" {
		t.Fatalf("reason = %q", got.ErrorMessage)
	}
	if fb.count() != 0 {
		t.Fatalf("broker calls = %d, want 0", fb.count())
	}
}

func TestUnlinkedUnapprovedIntentStaysUntouched(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	intent := intentWithStatus(st, "AAPL", domain.IntentPending)
	exec := dueExecution(st, "AAPL", domain.ActionBuy, 10, "", `{"kind":"ENTRY"}`)

	runActive(sched)

	got, _ := st.GetExecution(exec.ID)
	if got.Status != domain.ExecutionCancelled {
		t.Fatalf("execution status = %s", got.Status)
	}
	gotIntent, _ := st.GetIntent(intent.ID)
	if gotIntent.Status != domain.IntentPending || gotIntent.CardState != domain.CardActive {
		t.Fatalf("intent mutated: %s/%s", gotIntent.Status, gotIntent.CardState)
	}
	if fb.count() != 0 {
		t.Fatalf("broker calls = %d, want 0", fb.count())
	}
}

func TestForwardFailureKeepsExecutedStatus(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	fb.err = errors.New("dial tcp: connection refused")
	intent := intentWithStatus(st, "AAPL", domain.IntentSwipedOn)
	exec := dueExecution(st, "AAPL", domain.ActionBuy, 10, intent.ID, `{"kind":"ENTRY"}`)

	runActive(sched)

	got, _ := st.GetExecution(exec.ID)
	if got.Status != domain.ExecutionExecuted {
		t.Fatalf("execution status = %s, want executed despite forward failure", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "connection refused") {
		t.Fatalf("error_message = %q", got.ErrorMessage)
	}
	// Local bookkeeping reflects intent-to-fill: the position still opens.
	if _, err := st.OpenPositionForTicker("AAPL"); err != nil {
		t.Fatalf("position not opened: %v", err)
	}
}

func TestExitFullCloseSetsGateCooldown(t *testing.T) {
	sched, st, _ := newScheduler(domain.ModeSafe)
	st.CreatePosition(domain.Position{Ticker: "AAPL", Side: domain.SideLong, Quantity: 10, EntryPrice: 90})
	dueExecution(st, "AAPL", domain.ActionSell, 10, "", `{"kind":"EXIT"}`)

	before := time.Now().UTC()
	runActive(sched)

	if _, err := st.OpenPositionForTicker("AAPL"); err == nil {
		t.Fatal("position should be closed")
	}
	gate, err := st.GetGate("AAPL")
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	want := before.Add(ledger.CooldownAfterClose)
	if d := gate.BlockedUntil.Sub(want); d < -2*time.Second || d > 2*time.Second {
		t.Fatalf("blocked_until = %v, want ~%v", gate.BlockedUntil, want)
	}
}

func TestPerRecordFailureDoesNotAbortBatch(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	bad := dueExecution(st, "TSLA", domain.ActionSell, 5, "", `{"kind":"EXIT"}`)
	intent := intentWithStatus(st, "AAPL", domain.IntentSwipedOn)
	good := dueExecution(st, "AAPL", domain.ActionBuy, 10, intent.ID, `{"kind":"ENTRY"}`)

	runActive(sched)

	gotBad, _ := st.GetExecution(bad.ID)
	if gotBad.Status != domain.ExecutionFailed {
		t.Fatalf("bad status = %s", gotBad.Status)
	}
	gotGood, _ := st.GetExecution(good.ID)
	if gotGood.Status != domain.ExecutionExecuted {
		t.Fatalf("good status = %s (%s)", gotGood.Status, gotGood.ErrorMessage)
	}
	if fb.count() != 1 {
		t.Fatalf("broker calls = %d, want 1", fb.count())
	}
}

func TestModeOffSkipsResolution(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeOff)
	intent := intentWithStatus(st, "AAPL", domain.IntentSwipedOn)
	exec := dueExecution(st, "AAPL", domain.ActionBuy, 10, intent.ID, `{"kind":"ENTRY"}`)

	runActive(sched)

	got, _ := st.GetExecution(exec.ID)
	if got.Status != domain.ExecutionPending {
		t.Fatalf("execution status = %s, want pending while mode is off", got.Status)
	}
	if fb.count() != 0 {
		t.Fatalf("broker calls = %d, want 0", fb.count())
	}
	if !sched.IsActive() {
		t.Fatal("scheduler should stay active while pending work remains")
	}
}

func TestIdleActiveLifecycle(t *testing.T) {
	sched, st, _ := newScheduler(domain.ModeSafe)

	sched.Tick(context.Background())
	if sched.IsActive() {
		t.Fatal("no work: scheduler must stay idle")
	}

	intent := intentWithStatus(st, "AAPL", domain.IntentSwipedOn)
	exec := dueExecution(st, "AAPL", domain.ActionBuy, 10, intent.ID, `{"kind":"ENTRY"}`)

	sched.Tick(context.Background())
	if !sched.IsActive() {
		t.Fatal("idle heartbeat should promote on pending work")
	}
	sched.Tick(context.Background())

	got, _ := st.GetExecution(exec.ID)
	if got.Status != domain.ExecutionExecuted {
		t.Fatalf("execution status = %s (%s)", got.Status, got.ErrorMessage)
	}
	if sched.IsActive() {
		t.Fatal("scheduler should demote once the queue drains")
	}
}

func TestCooldownSweepNeverTouchesIndefiniteBlock(t *testing.T) {
	sched, st, _ := newScheduler(domain.ModeSafe)
	now := time.Now().UTC()
	st.SetGateCooldown("MSFT", now.Add(-time.Minute))
	st.SetGateEnabled("NVDA", false)

	runActive(sched)

	msft, _ := st.GetGate("MSFT")
	if !msft.BlockedUntil.IsZero() {
		t.Fatalf("elapsed cooldown not swept: %v", msft.BlockedUntil)
	}
	if !msft.Enabled {
		t.Fatal("sweep must not flip the enabled flag")
	}
	nvda, _ := st.GetGate("NVDA")
	if nvda.Enabled {
		t.Fatal("indefinite block must survive the sweep")
	}
	if sched.IsActive() {
		t.Fatal("scheduler should demote once the last timed block clears")
	}
}

func TestResolveNowSkipsApprovalButKeepsExitGuard(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	intent := intentWithStatus(st, "AAPL", domain.IntentPending)
	entry := dueExecution(st, "AAPL", domain.ActionBuy, 10, intent.ID, `{"kind":"ENTRY"}`)

	got := sched.ResolveNow(context.Background(), entry)
	if got.Status != domain.ExecutionExecuted {
		t.Fatalf("manual execute status = %s (%s)", got.Status, got.ErrorMessage)
	}
	if fb.count() != 1 {
		t.Fatalf("broker calls = %d, want 1", fb.count())
	}

	exit := dueExecution(st, "TSLA", domain.ActionSell, 5, "", `{"kind":"EXIT"}`)
	got = sched.ResolveNow(context.Background(), exit)
	if got.Status != domain.ExecutionFailed || got.ErrorMessage != "no open position for exit" {
		t.Fatalf("phantom exit = %s (%s)", got.Status, got.ErrorMessage)
	}
	if fb.count() != 1 {
		t.Fatalf("broker calls = %d, want still 1", fb.count())
	}
}

func TestResolutionIsExactlyOnce(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	intent := intentWithStatus(st, "AAPL", domain.IntentSwipedOn)
	exec := dueExecution(st, "AAPL", domain.ActionBuy, 10, intent.ID, `{"kind":"ENTRY"}`)

	first := sched.ResolveNow(context.Background(), exec)
	second := sched.ResolveNow(context.Background(), exec)

	if first.Status != domain.ExecutionExecuted || second.Status != domain.ExecutionExecuted {
		t.Fatalf("statuses = %s, %s", first.Status, second.Status)
	}
	if fb.count() != 1 {
		t.Fatalf("broker calls = %d, want exactly 1", fb.count())
	}
}

func TestRunLoopResolvesAfterWake(t *testing.T) {
	sched, st, fb := newScheduler(domain.ModeSafe)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	intent := intentWithStatus(st, "AAPL", domain.IntentSwipedOn)
	exec := dueExecution(st, "AAPL", domain.ActionBuy, 10, intent.ID, `{"kind":"ENTRY"}`)
	sched.Wake()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := st.GetExecution(exec.ID)
		if got.Status == domain.ExecutionExecuted {
			if fb.count() != 1 {
				t.Fatalf("broker calls = %d, want 1", fb.count())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := st.GetExecution(exec.ID)
	t.Fatalf("execution never resolved, status = %s", got.Status)
}
