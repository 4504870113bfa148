// Package jobstate persists per-day, per-account completion markers so a
// restarted run can skip accounts that already finished today.
package jobstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "rewardbot/pkg/logx"
)

// ForceRunEnv bypasses skip-on-complete when set to a non-empty value,
// regardless of config. Intended for deliberate manual re-runs.
const ForceRunEnv = "REWARDBOT_FORCE_RUN"

// Record is the completion marker for one (account, day) key.
// Last write wins; a key holds at most one record.
type Record struct {
	RunID      string    `json:"run_id"`
	Points     int       `json:"points"`
	ErrorCount int       `json:"error_count"`
	Banned     bool      `json:"banned,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Options configure the store's skip policy.
//
// Skipping is disabled entirely when PassesPerRun > 1 (repeated intentional
// passes must never be silently skipped) or when ForceRunEnv is set.
type Options struct {
	Dir          string
	Enabled      bool
	PassesPerRun int
}

// Store reads and writes one JSON file per calendar day. Writes are atomic
// (temp file + rename). Reads fail open: an unreadable or corrupt day file
// means "nothing is complete" and never aborts the run.
type Store struct {
	dir     string
	skip    bool
	log     logx.Logger
	forceFn func() bool

	mu sync.Mutex
}

func New(opts Options, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	skip := opts.Enabled && opts.PassesPerRun <= 1
	return &Store{
		dir:     opts.Dir,
		skip:    skip,
		log:     log,
		forceFn: func() bool { return strings.TrimSpace(os.Getenv(ForceRunEnv)) != "" },
	}
}

// DayKey formats t as the calendar-day key used for state files.
func DayKey(t time.Time) string { return t.Format("2006-01-02") }

// SkipEnabled reports whether completed accounts will be skipped.
func (s *Store) SkipEnabled() bool {
	return s.skip && !s.forceFn()
}

// IsComplete reports whether accountID finished on day and skipping applies.
func (s *Store) IsComplete(accountID, day string) bool {
	if !s.SkipEnabled() {
		return false
	}
	_, ok := s.Get(accountID, day)
	return ok
}

// Get returns the completion record for (accountID, day) if one exists.
// Read errors degrade to "no record".
func (s *Store) Get(accountID, day string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.readDay(day)
	r, ok := m[normalizeID(accountID)]
	return r, ok
}

// MarkComplete upserts the completion record for (accountID, day).
// It is idempotent; calling it again overwrites the previous record.
func (s *Store) MarkComplete(accountID, day string, r Record) {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.readDay(day)
	m[normalizeID(accountID)] = r

	if err := s.writeDay(day, m); err != nil {
		// Fail open: losing a marker only means extra work tomorrow.
		s.log.Warn("job state write failed",
			logx.String("account", normalizeID(accountID)),
			logx.String("day", day),
			logx.Err(err))
	}
}

func (s *Store) dayPath(day string) string {
	return filepath.Join(s.dir, day+".json")
}

func (s *Store) readDay(day string) map[string]Record {
	b, err := os.ReadFile(s.dayPath(day))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("job state unreadable; treating day as empty",
				logx.String("day", day), logx.Err(err))
		}
		return map[string]Record{}
	}
	var m map[string]Record
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("job state corrupt; treating day as empty",
			logx.String("day", day), logx.Err(err))
		return map[string]Record{}
	}
	if m == nil {
		m = map[string]Record{}
	}
	return m
}

func (s *Store) writeDay(day string, m map[string]Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.dayPath(day) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.dayPath(day))
}

func normalizeID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }
