package cluster

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RunContext carries the identity and shared flags of one run. It is created
// by the orchestrator per run and passed down explicitly; nothing in the run
// path reads process-global state.
type RunContext struct {
	RunID     string
	StartedAt time.Time

	standby  atomic.Bool
	respawns atomic.Int64
}

func NewRunContext() *RunContext {
	return &RunContext{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// EnterStandby latches the run into standby. Once set it never clears for
// the lifetime of the run; dispatch of further work stops.
func (rc *RunContext) EnterStandby() { rc.standby.Store(true) }

// Standby reports whether the run has been halted by a ban or security
// challenge.
func (rc *RunContext) Standby() bool { return rc.standby.Load() }

func (rc *RunContext) addRespawn() { rc.respawns.Add(1) }

// Respawns returns how many worker processes were respawned during the run.
func (rc *RunContext) Respawns() int64 { return rc.respawns.Load() }
