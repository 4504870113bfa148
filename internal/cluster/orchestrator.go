package cluster

import (
	"context"
	"sync"
	"time"

	"rewardbot/internal/accounts"
	"rewardbot/internal/jobstate"
	"rewardbot/internal/report"
	"rewardbot/internal/runner"
	logx "rewardbot/pkg/logx"
)

// Options control how the orchestrator dispatches a run.
type Options struct {
	// Clusters is the desired worker count. The effective count is capped
	// at the number of runnable accounts so no worker starts idle.
	Clusters int

	// PassesPerRun repeats the whole account list. Values above 1 disable
	// skip-on-complete (the job-state store enforces this).
	PassesPerRun int

	// StopOnBan latches the run into standby on the first ban or security
	// challenge and stops dispatching further work.
	StopOnBan bool

	// RestartFailedWorkers respawns a crashed worker with its original
	// chunk, at most MaxWorkerRespawns times per slot.
	RestartFailedWorkers bool
	MaxWorkerRespawns    int

	// GlobalTimeout bounds the whole run. Zero means no bound.
	GlobalTimeout time.Duration
}

// Orchestrator is the primary side of a run. It owns skip filtering, chunk
// dispatch, respawn, job-state writes, and the final aggregation; workers
// only ever execute the chunk they are handed.
type Orchestrator struct {
	opts    Options
	run     *runner.Runner
	spawner Spawner
	states  *jobstate.Store
	log     logx.Logger
}

func New(run *runner.Runner, spawner Spawner, states *jobstate.Store, opts Options, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Clusters < 1 {
		opts.Clusters = 1
	}
	if opts.PassesPerRun < 1 {
		opts.PassesPerRun = 1
	}
	return &Orchestrator{opts: opts, run: run, spawner: spawner, states: states, log: log}
}

// passResult separates summaries that really ran from synthesized ones for
// accounts whose worker died beyond its respawn budget. Only the former are
// recorded as complete.
type passResult struct {
	done []runner.Summary
	lost []runner.Summary
}

// Run executes the full run and returns its aggregated report.
func (o *Orchestrator) Run(ctx context.Context, rc *RunContext, list []accounts.Account) report.RunReport {
	if o.opts.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.GlobalTimeout)
		defer cancel()
	}

	day := jobstate.DayKey(rc.StartedAt)

	var skipped []runner.Summary
	runnable := make([]accounts.Account, 0, len(list))
	for _, a := range list {
		if o.states != nil && o.states.IsComplete(a.ID(), day) {
			skipped = append(skipped, runner.Summary{Account: a.ID(), Skipped: true})
			continue
		}
		runnable = append(runnable, a)
	}
	if len(skipped) > 0 {
		o.log.Info("accounts already complete today",
			logx.Int("skipped", len(skipped)),
			logx.Int("runnable", len(runnable)))
	}

	merged := make(map[string]runner.Summary, len(runnable))
	order := make([]string, 0, len(runnable))
	incomplete := false

	for pass := 1; pass <= o.opts.PassesPerRun; pass++ {
		if pass > 1 && (rc.Standby() || ctx.Err() != nil) {
			incomplete = true
			break
		}
		if len(runnable) == 0 {
			break
		}
		o.log.Info("pass starting",
			logx.String("run_id", rc.RunID),
			logx.Int("pass", pass),
			logx.Int("accounts", len(runnable)))

		res := o.runPass(ctx, rc, runnable)
		incomplete = incomplete || len(res.lost) > 0 ||
			len(res.done)+len(res.lost) < len(runnable)

		for _, s := range res.done {
			if o.states != nil {
				o.states.MarkComplete(s.Account, day, jobstate.Record{
					RunID:      rc.RunID,
					Points:     s.Collected(),
					ErrorCount: len(s.Errors),
					Banned:     s.Banned,
				})
			}
		}
		for _, s := range append(res.done, res.lost...) {
			if prev, ok := merged[s.Account]; ok {
				merged[s.Account] = mergeSummary(prev, s)
			} else {
				merged[s.Account] = s
				order = append(order, s.Account)
			}
		}
	}

	all := make([]runner.Summary, 0, len(skipped)+len(order))
	all = append(all, skipped...)
	for _, id := range order {
		all = append(all, merged[id])
	}

	rep := report.Aggregate(rc.RunID, rc.StartedAt, all)
	rep.Standby = rc.Standby()
	rep.Incomplete = incomplete
	return rep
}

// runPass dispatches one pass over the runnable accounts, fanning out to
// workers when more than one cluster is effective.
func (o *Orchestrator) runPass(ctx context.Context, rc *RunContext, runnable []accounts.Account) passResult {
	n := o.opts.Clusters
	if n > len(runnable) {
		n = len(runnable)
	}
	if n <= 1 || o.spawner == nil {
		return o.runLocal(ctx, rc, runnable)
	}

	chunks := accounts.Partition(runnable, n)
	results := make([][]runner.Summary, len(chunks))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for i := range chunks {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot], errs[slot] = o.runChunk(ctx, rc, slot, chunks[slot])
		}(i)
	}
	wg.Wait()

	var res passResult
	for i := range chunks {
		if errs[i] != nil {
			o.log.Error("worker slot lost",
				logx.Int("slot", i),
				logx.Int("accounts", len(chunks[i])),
				logx.Err(errs[i]))
			for _, a := range chunks[i] {
				res.lost = append(res.lost, runner.Summary{
					Account: a.ID(),
					Errors:  []string{"worker: " + errs[i].Error()},
				})
			}
			continue
		}
		res.done = append(res.done, results[i]...)
	}

	if o.opts.StopOnBan {
		for _, s := range res.done {
			if s.Banned || s.Compromised {
				o.log.Error("entering standby",
					logx.String("account", s.Account),
					logx.String("reason", s.BanReason))
				rc.EnterStandby()
				break
			}
		}
	}
	return res
}

// runLocal processes the accounts in this process, one at a time. Standby
// takes effect between accounts.
func (o *Orchestrator) runLocal(ctx context.Context, rc *RunContext, runnable []accounts.Account) passResult {
	var res passResult
	for _, a := range runnable {
		if ctx.Err() != nil || rc.Standby() {
			return res
		}
		s := o.run.Run(ctx, a)
		res.done = append(res.done, s)
		if o.opts.StopOnBan && (s.Banned || s.Compromised) {
			o.log.Error("entering standby",
				logx.String("account", s.Account),
				logx.String("reason", s.BanReason))
			rc.EnterStandby()
		}
	}
	return res
}

// runChunk drives one worker slot: spawn, hand over the chunk, collect the
// summary batch. A crashed worker is respawned with the SAME chunk until the
// respawn budget runs out.
func (o *Orchestrator) runChunk(ctx context.Context, rc *RunContext, slot int, chunk []accounts.Account) ([]runner.Summary, error) {
	attempts := 1
	if o.opts.RestartFailedWorkers && o.opts.MaxWorkerRespawns > 0 {
		attempts += o.opts.MaxWorkerRespawns
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		if attempt > 0 {
			rc.addRespawn()
			o.log.Warn("respawning worker",
				logx.Int("slot", slot),
				logx.Int("attempt", attempt),
				logx.Err(lastErr))
		}

		sums, err := o.runWorkerOnce(ctx, slot, chunk)
		if err == nil {
			return sums, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (o *Orchestrator) runWorkerOnce(ctx context.Context, slot int, chunk []accounts.Account) ([]runner.Summary, error) {
	proc, err := o.spawner.Spawn(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer proc.Close()

	if err := proc.Send(NewChunk(chunk)); err != nil {
		return nil, err
	}
	msg, err := proc.Recv()
	if err != nil {
		return nil, err
	}
	if msg.Kind != KindSummary {
		return nil, errUnexpectedKind(msg.Kind)
	}
	return msg.Summaries, nil
}

type errUnexpectedKind Kind

func (e errUnexpectedKind) Error() string {
	return "cluster: unexpected message kind " + string(e)
}

// mergeSummary folds a later pass's summary for the same account into the
// earlier one. Collections add up, the first pass keeps the true starting
// balance, the latest pass keeps the final reading.
func mergeSummary(prev, next runner.Summary) runner.Summary {
	next.DesktopCollected += prev.DesktopCollected
	next.MobileCollected += prev.MobileCollected
	next.Duration += prev.Duration
	next.Errors = append(append([]string(nil), prev.Errors...), next.Errors...)
	// A lost pass never observed the balance; keep the first real reading.
	if prev.InitialTotal > 0 {
		next.InitialTotal = prev.InitialTotal
	}
	if prev.Banned && !next.Banned {
		next.Banned = true
		next.BanReason = prev.BanReason
	}
	next.Compromised = next.Compromised || prev.Compromised
	return next
}
