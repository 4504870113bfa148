// Package storage persists run history so past runs can be inspected after
// the process exits. It is optional; a disabled store is a nil Store.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "rewardbot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one run's aggregate outcome. Keep it compact and
// schema-stable.
type RunRecord struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Accounts  int           `json:"accounts"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Banned    int           `json:"banned"`
	Errors    int           `json:"errors"`
	Points    int           `json:"points"`
	Standby   bool          `json:"standby,omitempty"`
}

// Store is the minimal persistence API used by the orchestrator and the
// history command.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
