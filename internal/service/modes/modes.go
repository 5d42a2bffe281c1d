package modes

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/store"
)

// Scheduler evaluates the mode-window table against wall-clock time in the
// configured timezone and flips the global execution mode on window edges.
// Runs are idempotent; the settings row is written only on an actual change.
type Scheduler struct {
	store    store.Store
	bus      *events.Bus
	loc      *time.Location
	interval time.Duration
	onSafe   func()
}

// NewScheduler wires the minute loop. onSafe, when set, is invoked after a
// switch into safe mode so the execution scheduler starts ticking without
// waiting for its idle heartbeat.
func NewScheduler(st store.Store, bus *events.Bus, loc *time.Location, interval time.Duration, onSafe func()) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{store: st, bus: bus, loc: loc, interval: interval, onSafe: onSafe}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.Check(time.Now())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(time.Now())
		}
	}
}

// Check performs one evaluation pass. An empty window table means manual
// mode control, so the pass does nothing at all.
func (s *Scheduler) Check(now time.Time) {
	windows := s.store.ListModeWindows()
	if len(windows) == 0 {
		return
	}
	settings, err := s.store.GetSettings()
	if err != nil {
		log.Printf("modes: settings unreadable: %v", err)
		return
	}
	next := ResolveMode(windows, now.In(s.loc))
	if next == settings.Mode {
		return
	}
	prev := settings.Mode
	settings.Mode = next
	s.store.SaveSettings(settings)
	s.bus.Emit(domain.EventModeChanged, "", map[string]interface{}{
		"from": string(prev),
		"to":   string(next),
	})
	log.Printf("modes: execution mode %s -> %s", prev, next)
	if next == domain.ModeSafe && s.onSafe != nil {
		s.onSafe()
	}
}

// ResolveMode picks the mode of the first matching window by descending
// priority; declaration order breaks ties. No match resolves to off.
func ResolveMode(windows []domain.ModeWindow, now time.Time) domain.ExecutionMode {
	ordered := make([]domain.ModeWindow, len(windows))
	copy(ordered, windows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	for _, w := range ordered {
		if windowContains(w, now) {
			return w.Mode
		}
	}
	return domain.ModeOff
}

// windowContains reports whether now falls inside the window. Overnight
// windows (end before start) wrap past midnight and belong to their start
// day: Mon 22:00-02:00 covers Mon 22:00 through Tue 01:59.
func windowContains(w domain.ModeWindow, now time.Time) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start < end {
		return dayListed(w.Days, now.Weekday()) && minute >= start && minute < end
	}
	if dayListed(w.Days, now.Weekday()) && minute >= start {
		return true
	}
	prev := (now.Weekday() + 6) % 7
	return dayListed(w.Days, prev) && minute < end
}

func dayListed(days []int, day time.Weekday) bool {
	for _, d := range days {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

// ValidateWindows guards the replace-all write from the settings API.
func ValidateWindows(windows []domain.ModeWindow) error {
	for i, w := range windows {
		if !w.Mode.Valid() {
			return fmt.Errorf("window %d: invalid mode %q", i, w.Mode)
		}
		if len(w.Days) == 0 {
			return fmt.Errorf("window %d: days must not be empty", i)
		}
		for _, d := range w.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("window %d: day %d out of range", i, d)
			}
		}
		start, err := parseClock(w.Start)
		if err != nil {
			return fmt.Errorf("window %d: start: %w", i, err)
		}
		end, err := parseClock(w.End)
		if err != nil {
			return fmt.Errorf("window %d: end: %w", i, err)
		}
		if start == end {
			return fmt.Errorf("window %d: start and end must differ", i)
		}
	}
	return nil
}

func parseClock(v string) (int, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok {
		return 0, fmt.Errorf("bad clock value %q", v)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", v)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", v)
	}
	return hour*60 + minute, nil
}
