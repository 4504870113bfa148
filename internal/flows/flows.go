// Package flows defines the contract between the orchestration core and the
// browser-driven task flows, which are injected external collaborators.
package flows

import (
	"context"

	"rewardbot/internal/accounts"
)

// Surface names the device profile a flow emulates.
type Surface string

const (
	Desktop Surface = "DESKTOP"
	Mobile  Surface = "MOBILE"
)

// Result is the point accounting reported by one flow run.
//
// InitialPoints is the account total observed when the flow started;
// CollectedPoints is what this flow earned on top of it.
type Result struct {
	InitialPoints   int
	CollectedPoints int
}

// Flow runs the task sequence for one account on one surface.
// Implementations must honor ctx cancellation on every network step.
type Flow interface {
	Run(ctx context.Context, account accounts.Account) (Result, error)
}

// Func adapts a function to the Flow interface.
type Func func(ctx context.Context, account accounts.Account) (Result, error)

func (f Func) Run(ctx context.Context, account accounts.Account) (Result, error) {
	return f(ctx, account)
}
