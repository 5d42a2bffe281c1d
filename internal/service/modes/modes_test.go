package modes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/store/memory"
)

// 2024-03-04 is a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2024, 3, 4, hour, minute, 0, 0, time.UTC)
}

func weekdays() []int {
	return []int{1, 2, 3, 4, 5}
}

func TestResolveModePriorityWinsRegardlessOfOrder(t *testing.T) {
	high := domain.ModeWindow{Days: weekdays(), Start: "09:00", End: "17:00", Mode: domain.ModeLive, Priority: 10}
	low := domain.ModeWindow{Days: weekdays(), Start: "08:00", End: "18:00", Mode: domain.ModeSafe, Priority: 1}

	at := monday(10, 30)
	require.Equal(t, domain.ModeLive, ResolveMode([]domain.ModeWindow{low, high}, at))
	require.Equal(t, domain.ModeLive, ResolveMode([]domain.ModeWindow{high, low}, at))

	// Outside the high-priority window the low one takes over.
	require.Equal(t, domain.ModeSafe, ResolveMode([]domain.ModeWindow{low, high}, monday(8, 30)))
}

func TestResolveModeNoMatchIsOff(t *testing.T) {
	windows := []domain.ModeWindow{
		{Days: weekdays(), Start: "09:00", End: "17:00", Mode: domain.ModeSafe, Priority: 1},
	}
	require.Equal(t, domain.ModeOff, ResolveMode(windows, monday(18, 0)))
	// Saturday never matches a weekday window.
	saturday := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	require.Equal(t, domain.ModeOff, ResolveMode(windows, saturday))
}

func TestResolveModeBoundaries(t *testing.T) {
	windows := []domain.ModeWindow{
		{Days: weekdays(), Start: "09:00", End: "17:00", Mode: domain.ModeSafe, Priority: 1},
	}
	require.Equal(t, domain.ModeSafe, ResolveMode(windows, monday(9, 0)), "start is inclusive")
	require.Equal(t, domain.ModeOff, ResolveMode(windows, monday(17, 0)), "end is exclusive")
}

func TestResolveModeOvernightWrap(t *testing.T) {
	windows := []domain.ModeWindow{
		{Days: []int{1}, Start: "22:00", End: "02:00", Mode: domain.ModeSafe, Priority: 1},
	}
	tuesday := time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC)

	require.Equal(t, domain.ModeSafe, ResolveMode(windows, monday(23, 0)))
	require.Equal(t, domain.ModeSafe, ResolveMode(windows, tuesday), "wrap covers the next day's early hours")
	require.Equal(t, domain.ModeOff, ResolveMode(windows, tuesday.Add(2*time.Hour)))
	// Sunday 23:00 is not covered: the window belongs to its start day.
	sunday := time.Date(2024, 3, 3, 23, 0, 0, 0, time.UTC)
	require.Equal(t, domain.ModeOff, ResolveMode(windows, sunday))
}

func TestCheckWritesOnlyOnChange(t *testing.T) {
	st := memory.NewStore(domain.ExecutionSettings{Mode: domain.ModeOff, DelaySeconds: 300})
	st.ReplaceModeWindows([]domain.ModeWindow{
		{Days: weekdays(), Start: "09:00", End: "17:00", Mode: domain.ModeSafe, Priority: 1},
	})
	woken := false
	s := NewScheduler(st, events.NewBus(st, nil, nil), time.UTC, time.Minute, func() { woken = true })

	s.Check(monday(10, 0))
	settings, err := st.GetSettings()
	require.NoError(t, err)
	require.Equal(t, domain.ModeSafe, settings.Mode)
	require.True(t, woken, "switching into safe must wake the executor")
	require.Len(t, modeChangeEvents(st), 1)

	// Same window, same mode: no second write, no second event.
	s.Check(monday(10, 1))
	require.Len(t, modeChangeEvents(st), 1)

	s.Check(monday(18, 0))
	settings, err = st.GetSettings()
	require.NoError(t, err)
	require.Equal(t, domain.ModeOff, settings.Mode)
	require.Len(t, modeChangeEvents(st), 2)
}

func TestCheckAbstainsWithoutWindows(t *testing.T) {
	st := memory.NewStore(domain.ExecutionSettings{Mode: domain.ModeSafe, DelaySeconds: 300})
	s := NewScheduler(st, events.NewBus(st, nil, nil), time.UTC, time.Minute, nil)

	s.Check(monday(3, 0))
	settings, err := st.GetSettings()
	require.NoError(t, err)
	require.Equal(t, domain.ModeSafe, settings.Mode, "manual mode must survive an empty window table")
	require.Empty(t, modeChangeEvents(st))
}

func TestValidateWindows(t *testing.T) {
	good := []domain.ModeWindow{{Days: []int{1}, Start: "09:00", End: "17:00", Mode: domain.ModeSafe}}
	require.NoError(t, ValidateWindows(good))

	bad := []struct {
		name string
		w    domain.ModeWindow
	}{
		{"bad mode", domain.ModeWindow{Days: []int{1}, Start: "09:00", End: "17:00", Mode: "turbo"}},
		{"no days", domain.ModeWindow{Days: nil, Start: "09:00", End: "17:00", Mode: domain.ModeSafe}},
		{"day out of range", domain.ModeWindow{Days: []int{7}, Start: "09:00", End: "17:00", Mode: domain.ModeSafe}},
		{"bad clock", domain.ModeWindow{Days: []int{1}, Start: "9am", End: "17:00", Mode: domain.ModeSafe}},
		{"zero length", domain.ModeWindow{Days: []int{1}, Start: "09:00", End: "09:00", Mode: domain.ModeSafe}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, ValidateWindows([]domain.ModeWindow{tc.w}))
		})
	}
}

func modeChangeEvents(st *memory.Store) []domain.Event {
	out := make([]domain.Event, 0, 4)
	for _, e := range st.ListEvents(100) {
		if e.Type == domain.EventModeChanged {
			out = append(out, e)
		}
	}
	return out
}
