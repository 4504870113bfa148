package scheduler

import (
	"hash/fnv"
	"math/rand"
	"strconv"
	"time"
)

// offDaysFor picks n distinct weekdays to skip for the ISO week containing t.
// The choice is pseudo-random but deterministic for a given week and salt,
// so every scheduling cycle within the same week agrees on the off-days.
func offDaysFor(t time.Time, n int, salt string) map[time.Weekday]bool {
	out := map[time.Weekday]bool{}
	if n <= 0 {
		return out
	}
	if n > 6 {
		// Never mark the whole week off; the run must remain schedulable.
		n = 6
	}

	year, week := t.ISOWeek()
	h := fnv.New64a()
	_, _ = h.Write([]byte(salt + "/" + strconv.Itoa(year) + "-" + strconv.Itoa(week)))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	for _, d := range rng.Perm(7)[:n] {
		out[time.Weekday(d)] = true
	}
	return out
}

// isOffDay reports whether t falls on one of the week's off-days.
func isOffDay(t time.Time, n int, salt string) bool {
	if n <= 0 {
		return false
	}
	return offDaysFor(t, n, salt)[t.Weekday()]
}
