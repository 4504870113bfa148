package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is an allowed time-of-day range in minutes since midnight,
// bounds inclusive. Start > End means the window crosses midnight
// ("22:00-02:00" covers 22:00..23:59 and 00:00..02:00).
type Window struct {
	Start int
	End   int
}

func (w Window) String() string {
	f := func(m int) string {
		return fmt.Sprintf("%02d:%02d", m/60, m%60)
	}
	return f(w.Start) + "-" + f(w.End)
}

// Contains reports whether the minute-of-day hm lies inside the window.
func (w Window) Contains(hm int) bool {
	if w.Start <= w.End {
		return hm >= w.Start && hm <= w.End
	}
	// Midnight-crossing.
	return hm >= w.Start || hm <= w.End
}

// ParseWindows parses "HH:MM-HH:MM" strings.
func ParseWindows(raw []string) ([]Window, error) {
	out := make([]Window, 0, len(raw))
	for _, r := range raw {
		w, err := parseWindow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func parseWindow(raw string) (Window, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window %q: expected HH:MM-HH:MM", raw)
	}
	start, err := parseHHMM(parts[0])
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", raw, err)
	}
	end, err := parseHHMM(parts[1])
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", raw, err)
	}
	return Window{Start: start, End: end}, nil
}

// parseHHMM returns minutes since midnight.
func parseHHMM(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return h*60 + m, nil
}

// WaitForAllowedWindow returns 0 when now lies inside at least one window,
// otherwise the wait until the nearest future window start. An empty window
// list allows any time.
func WaitForAllowedWindow(now time.Time, windows []Window) time.Duration {
	if len(windows) == 0 {
		return 0
	}
	hm := now.Hour()*60 + now.Minute()

	best := -1
	for _, w := range windows {
		if w.Contains(hm) {
			return 0
		}
		// Minutes until this window opens, wrapping past midnight.
		wait := (w.Start - hm + 24*60) % (24 * 60)
		if best < 0 || wait < best {
			best = wait
		}
	}
	return time.Duration(best) * time.Minute
}
