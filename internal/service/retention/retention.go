package retention

import (
	"context"
	"log"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/store"
)

// Sweeper prunes aged records on an interval and revives every ticker gate
// once a day, so a forgotten block never outlives the trading day it was
// placed in. Pending work is never pruned.
type Sweeper struct {
	store    store.Store
	bus      *events.Bus
	loc      *time.Location
	maxAge   time.Duration
	interval time.Duration
}

func NewSweeper(st store.Store, bus *events.Bus, loc *time.Location, maxAge, interval time.Duration) *Sweeper {
	if loc == nil {
		loc = time.UTC
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: st, bus: bus, loc: loc, maxAge: maxAge, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("retention: started (max age %s, every %s)", s.maxAge, s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	last := time.Now().In(s.loc)
	for {
		select {
		case <-ctx.Done():
			log.Printf("retention: stopped")
			return
		case now := <-ticker.C:
			s.Sweep(now.UTC())
			local := now.In(s.loc)
			// Day-of-month change means we crossed midnight in the
			// configured timezone since the previous tick.
			if local.Day() != last.Day() {
				s.ReviveGates()
			}
			last = local
		}
	}
}

// Sweep deletes terminal records older than the retention window. now is a
// parameter so tests can move the window instead of the records.
func (s *Sweeper) Sweep(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	intents := s.store.DeleteIntentsBefore(cutoff)
	executions := s.store.DeleteExecutionsBefore(cutoff)
	webhookLogs := s.store.DeleteWebhookLogsBefore(cutoff)
	auditEvents := s.store.DeleteEventsBefore(cutoff)
	if intents+executions+webhookLogs+auditEvents > 0 {
		log.Printf("retention: pruned %d intents, %d executions, %d webhook logs, %d events",
			intents, executions, webhookLogs, auditEvents)
	}
}

// ReviveGates clears every block, timed or indefinite. This is the daily
// reset; the scheduler's sweep only ever touches elapsed timed blocks.
func (s *Sweeper) ReviveGates() {
	n := s.store.ReviveAllGates()
	if n > 0 {
		log.Printf("retention: revived %d gates", n)
		s.bus.Emit(domain.EventGatesRevived, "", map[string]interface{}{"gates": n})
	}
}
