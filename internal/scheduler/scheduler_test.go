package scheduler

import (
	"context"
	"testing"
	"time"

	logx "rewardbot/pkg/logx"
)

func mustWindows(t *testing.T, raw ...string) []Window {
	t.Helper()
	ws, err := ParseWindows(raw)
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func at(t *testing.T, hhmm string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", "2026-08-20 "+hhmm, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestWaitForAllowedWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		now     string
		windows []string
		want    time.Duration
	}{
		{name: "no windows", now: "03:00", windows: nil, want: 0},
		{name: "inside simple", now: "10:30", windows: []string{"08:00-12:00"}, want: 0},
		{name: "at start", now: "08:00", windows: []string{"08:00-12:00"}, want: 0},
		{name: "at end", now: "12:00", windows: []string{"08:00-12:00"}, want: 0},
		{name: "before simple", now: "06:30", windows: []string{"08:00-12:00"}, want: 90 * time.Minute},
		{name: "after simple wraps to next day", now: "13:00", windows: []string{"08:00-12:00"}, want: 19 * time.Hour},
		{name: "midnight-crossing late side", now: "23:30", windows: []string{"22:00-02:00"}, want: 0},
		{name: "midnight-crossing early side", now: "01:15", windows: []string{"22:00-02:00"}, want: 0},
		{name: "midnight-crossing outside", now: "12:00", windows: []string{"22:00-02:00"}, want: 10 * time.Hour},
		{name: "nearest of several", now: "06:00", windows: []string{"14:00-16:00", "08:00-09:00"}, want: 2 * time.Hour},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := WaitForAllowedWindow(at(t, tt.now), mustWindows(t, tt.windows...))
			if got != tt.want {
				t.Fatalf("WaitForAllowedWindow(%s, %v) = %v, want %v", tt.now, tt.windows, got, tt.want)
			}
		})
	}
}

func TestParseWindowsInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"8-12", "08:00", "25:00-26:00", "08:61-09:00", "a-b"} {
		if _, err := ParseWindows([]string{raw}); err == nil {
			t.Fatalf("ParseWindows(%q) succeeded, want error", raw)
		}
	}
}

func TestOffDaysDeterministicWithinWeek(t *testing.T) {
	t.Parallel()
	monday := time.Date(2026, 8, 17, 9, 0, 0, 0, time.UTC)

	first := offDaysFor(monday, 2, "salt")
	for day := 0; day < 7; day++ {
		again := offDaysFor(monday.AddDate(0, 0, day), 2, "salt")
		if len(again) != 2 {
			t.Fatalf("got %d off-days, want 2", len(again))
		}
		for wd := range first {
			if !again[wd] {
				t.Fatalf("off-day choice changed within the week: %v vs %v", first, again)
			}
		}
	}

	// A different week re-evaluates the choice at least sometimes.
	same := true
	for w := 1; w <= 8; w++ {
		other := offDaysFor(monday.AddDate(0, 0, 7*w), 2, "salt")
		for wd := range first {
			if !other[wd] {
				same = false
			}
		}
	}
	if same {
		t.Fatal("off-day selection never varies across weeks")
	}
}

func TestOffDaysNeverFullWeek(t *testing.T) {
	t.Parallel()
	d := time.Date(2026, 8, 17, 9, 0, 0, 0, time.UTC)
	if got := len(offDaysFor(d, 9, "salt")); got > 6 {
		t.Fatalf("%d off-days marked; the week must keep a runnable day", got)
	}
}

func TestNextFireJitterBounds(t *testing.T) {
	t.Parallel()
	svc, err := New(Config{
		Time:         "09:00",
		JitterBefore: 10 * time.Minute,
		JitterAfter:  20 * time.Minute,
		Location:     time.UTC,
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	lo := time.Date(2026, 8, 20, 8, 50, 0, 0, time.UTC)
	hi := time.Date(2026, 8, 20, 9, 20, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		got := svc.NextFire(now)
		if got.Before(lo) || got.After(hi) {
			t.Fatalf("NextFire = %v, want within [%v, %v]", got, lo, hi)
		}
	}
}

func TestNextFireSkipsToTomorrowWhenPast(t *testing.T) {
	t.Parallel()
	svc, err := New(Config{Time: "09:00", Location: time.UTC}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	got := svc.NextFire(now)
	want := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextFire = %v, want %v", got, want)
	}
}

func TestNextFireClampedIntoWindow(t *testing.T) {
	t.Parallel()
	svc, err := New(Config{
		Time:           "09:00",
		AllowedWindows: mustWindows(t, "14:00-16:00"),
		Location:       time.UTC,
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	got := svc.NextFire(now)
	want := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextFire = %v, want clamped to %v", got, want)
	}
}

func TestNextFireHonorsOffDays(t *testing.T) {
	t.Parallel()
	svc, err := New(Config{
		Time:           "09:00",
		OffDaysPerWeek: 2,
		Location:       time.UTC,
		Salt:           "test",
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 17, 6, 0, 0, 0, time.UTC)
	got := svc.NextFire(now)
	if isOffDay(got, 2, "test") {
		t.Fatalf("NextFire landed on an off-day: %v", got)
	}
	if !got.After(now) {
		t.Fatalf("NextFire = %v not after now", got)
	}
}

func TestReconfigureRearmsPendingTimer(t *testing.T) {
	t.Parallel()
	svc, err := New(Config{Time: "09:30", Location: time.UTC}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		_ = svc.Run(context.Background(), func(context.Context) error { return nil })
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		st, next := svc.State()
		if st == StateArmed && !next.IsZero() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduler never armed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := svc.Reconfigure(Config{Time: "18:45", Location: time.UTC}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	for {
		_, next := svc.State()
		if !next.IsZero() && next.Hour() == 18 && next.Minute() == 45 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pending timer not re-armed with the new time: next = %v", next)
		case <-time.After(5 * time.Millisecond):
		}
	}

	svc.Stop()
	<-done
}

func TestReconfigureRejectsBadTimeAndKeepsOld(t *testing.T) {
	t.Parallel()
	svc, err := New(Config{Time: "09:30", Location: time.UTC}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Reconfigure(Config{Time: "25:99", Location: time.UTC}); err == nil {
		t.Fatal("invalid time accepted")
	}

	now := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	got := svc.NextFire(now)
	want := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextFire after rejected reconfigure = %v, want %v", got, want)
	}
}

func TestStopCancelsPendingTimerAndPreventsRearm(t *testing.T) {
	t.Parallel()
	svc, err := New(Config{Time: "09:00", Location: time.UTC}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(context.Background(), func(context.Context) error {
			fired <- struct{}{}
			return nil
		})
	}()

	// Wait until armed, then stop.
	deadline := time.After(5 * time.Second)
	for {
		st, next := svc.State()
		if st == StateArmed && !next.IsZero() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduler never armed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	svc.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after Stop, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	select {
	case <-fired:
		t.Fatal("task fired despite Stop before the timer")
	default:
	}
	if st, _ := svc.State(); st != StateIdle {
		t.Fatalf("state after Stop = %v, want idle", st)
	}
}
