// Package runner executes the desktop and mobile task flows for a single
// account and folds their outcomes into an immutable per-account summary.
package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"rewardbot/internal/accounts"
	"rewardbot/internal/classify"
	"rewardbot/internal/flows"
	logx "rewardbot/pkg/logx"
)

// Summary is one account's outcome for one run. It is created when the
// account finishes (success or failure) and never mutated afterwards.
type Summary struct {
	Account  string        `json:"account"`
	Duration time.Duration `json:"duration"`

	DesktopCollected int `json:"desktop_collected"`
	MobileCollected  int `json:"mobile_collected"`
	InitialTotal     int `json:"initial_total"`
	FinalTotal       int `json:"final_total"`

	Errors []string `json:"errors,omitempty"`

	Banned      bool   `json:"banned,omitempty"`
	BanReason   string `json:"ban_reason,omitempty"`
	Compromised bool   `json:"compromised,omitempty"`

	// Skipped marks accounts the primary never dispatched because their
	// job-state record for today already existed.
	Skipped bool `json:"skipped,omitempty"`
}

// Collected returns the points earned across both surfaces.
func (s Summary) Collected() int { return s.DesktopCollected + s.MobileCollected }

// Config controls per-account execution.
type Config struct {
	// Parallel launches the desktop and mobile flows concurrently.
	Parallel bool

	// DelayMin/DelayMax bound the randomized humanization pause inserted
	// before each flow. Zero bounds disable the pause.
	DelayMin time.Duration
	DelayMax time.Duration
}

// Runner runs both task flows for one account at a time.
type Runner struct {
	desktop    flows.Flow
	mobile     flows.Flow
	classifier classify.Classifier
	cfg        Config
	log        logx.Logger

	// rngMu guards rng: parallel mode pauses from two goroutines.
	rngMu sync.Mutex
	rng   *rand.Rand

	// OnBan, when set, is invoked once per account as soon as a ban or
	// security challenge is classified (out-of-band alerting).
	OnBan func(account string, verdict classify.Verdict)
}

func New(desktop, mobile flows.Flow, classifier classify.Classifier, cfg Config, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if classifier == nil {
		classifier = classify.NewPatterns(nil)
	}
	return &Runner{
		desktop:    desktop,
		mobile:     mobile,
		classifier: classifier,
		cfg:        cfg,
		log:        log,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type flowOutcome struct {
	surface flows.Surface
	res     flows.Result
	err     error
	ran     bool
}

// Run executes the account's flows per config and returns its summary.
// All flow errors are absorbed into the summary; Run never panics the loop.
func (r *Runner) Run(ctx context.Context, account accounts.Account) Summary {
	start := time.Now()
	id := account.ID()
	log := r.log.With(logx.String("account", id))

	var desktop, mobile flowOutcome
	if r.cfg.Parallel {
		desktop, mobile = r.runParallel(ctx, account)
	} else {
		desktop, mobile = r.runSequential(ctx, account, log)
	}

	sum := Summary{Account: id}
	r.fold(&sum, desktop, log)
	r.fold(&sum, mobile, log)

	sum.InitialTotal = initialTotal(desktop, mobile)
	sum.FinalTotal = sum.InitialTotal + sum.Collected()
	sum.Duration = time.Since(start)

	log.Info("account finished",
		logx.String("platform", "MAIN"),
		logx.Int("collected", sum.Collected()),
		logx.Int("errors", len(sum.Errors)),
		logx.Bool("banned", sum.Banned),
		logx.Duration("dur", sum.Duration))
	return sum
}

// runSequential runs desktop to completion first. The mobile flow is skipped
// entirely when the desktop flow raised a ban or security challenge, so no
// further automated actions hit a flagged account.
func (r *Runner) runSequential(ctx context.Context, account accounts.Account, log logx.Logger) (desktop, mobile flowOutcome) {
	desktop = r.runFlow(ctx, flows.Desktop, r.desktop, account)

	if desktop.err != nil {
		v := r.classifier.Classify(desktop.err)
		if v.Kind != classify.Transient {
			log.Warn("mobile flow skipped after flagged desktop flow",
				logx.String("platform", "MOBILE"),
				logx.String("verdict", v.Kind.String()))
			return desktop, flowOutcome{surface: flows.Mobile}
		}
	}
	if ctx.Err() != nil {
		return desktop, flowOutcome{surface: flows.Mobile}
	}

	mobile = r.runFlow(ctx, flows.Mobile, r.mobile, account)
	return desktop, mobile
}

// runParallel launches both flows concurrently. Each failure is caught
// independently so one flow's error does not cancel the other.
func (r *Runner) runParallel(ctx context.Context, account accounts.Account) (desktop, mobile flowOutcome) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		desktop = r.runFlow(ctx, flows.Desktop, r.desktop, account)
	}()
	go func() {
		defer wg.Done()
		mobile = r.runFlow(ctx, flows.Mobile, r.mobile, account)
	}()
	wg.Wait()
	return desktop, mobile
}

func (r *Runner) runFlow(ctx context.Context, surface flows.Surface, f flows.Flow, account accounts.Account) flowOutcome {
	out := flowOutcome{surface: surface}
	if f == nil {
		return out
	}
	r.humanPause(ctx)
	if ctx.Err() != nil {
		return out
	}
	out.ran = true
	out.res, out.err = f.Run(ctx, account)
	return out
}

// fold merges one flow outcome into the summary and classifies its error.
func (r *Runner) fold(sum *Summary, out flowOutcome, log logx.Logger) {
	if !out.ran {
		return
	}
	switch out.surface {
	case flows.Desktop:
		sum.DesktopCollected = out.res.CollectedPoints
	case flows.Mobile:
		sum.MobileCollected = out.res.CollectedPoints
	}
	if out.err == nil {
		return
	}

	sum.Errors = append(sum.Errors, string(out.surface)+": "+out.err.Error())

	v := r.classifier.Classify(out.err)
	switch v.Kind {
	case classify.Banned:
		log.Error("account ban detected",
			logx.String("platform", string(out.surface)),
			logx.String("reason", v.Reason),
			logx.Err(out.err))
		if !sum.Banned {
			sum.Banned = true
			sum.BanReason = v.Reason
			if r.OnBan != nil {
				r.OnBan(sum.Account, v)
			}
		}
	case classify.Compromised:
		log.Error("security challenge detected",
			logx.String("platform", string(out.surface)),
			logx.String("reason", v.Reason),
			logx.Err(out.err))
		if !sum.Compromised {
			sum.Compromised = true
			if r.OnBan != nil {
				r.OnBan(sum.Account, v)
			}
		}
	default:
		log.Warn("flow failed",
			logx.String("platform", string(out.surface)),
			logx.Err(out.err))
	}
}

// initialTotal picks the starting point balance for the account.
//
// In parallel mode one flow may observe a total that already includes the
// other flow's collection, so the minimum of the observed readings is the
// true starting balance.
func initialTotal(desktop, mobile flowOutcome) int {
	observed := make([]int, 0, 2)
	for _, o := range []flowOutcome{desktop, mobile} {
		if o.ran && (o.err == nil || o.res.InitialPoints > 0) {
			observed = append(observed, o.res.InitialPoints)
		}
	}
	if len(observed) == 0 {
		return 0
	}
	minV := observed[0]
	for _, v := range observed[1:] {
		if v < minV {
			minV = v
		}
	}
	return minV
}

func (r *Runner) humanPause(ctx context.Context) {
	if r.cfg.DelayMax <= 0 {
		return
	}
	minD := r.cfg.DelayMin
	if minD > r.cfg.DelayMax {
		minD = r.cfg.DelayMax
	}
	span := r.cfg.DelayMax - minD
	d := minD
	if span > 0 {
		r.rngMu.Lock()
		d += time.Duration(r.rng.Int63n(int64(span) + 1))
		r.rngMu.Unlock()
	}
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
	case <-tmr.C:
	}
}
