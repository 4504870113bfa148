// Package scheduler arms a daily trigger with humanized timing: random
// jitter around the target time, pseudo-random off-days, and clamping into
// configured allowed windows.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "rewardbot/pkg/logx"
)

type State int

const (
	StateIdle State = iota
	StateArmed
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateFiring:
		return "firing"
	default:
		return "idle"
	}
}

// Config controls next-fire-time computation.
type Config struct {
	// Time is the daily target, "HH:MM" (24h).
	Time string

	// JitterBefore/JitterAfter bound the random shift around Time.
	JitterBefore time.Duration
	JitterAfter  time.Duration

	// OffDaysPerWeek skips that many pseudo-random weekdays per ISO week.
	OffDaysPerWeek int

	// AllowedWindows clamp the fire time into the nearest future window.
	AllowedWindows []Window

	// Location is the trigger timezone; nil means time.Local.
	Location *time.Location

	// Salt keys the off-day selection so distinct deployments don't all
	// pause on the same days.
	Salt string
}

// TaskFunc is one full orchestrated run.
type TaskFunc func(ctx context.Context) error

// Service is the daily trigger. State transitions:
// IDLE -> ARMED (next fire computed) -> FIRING -> ARMED -> ... until Stop.
type Service struct {
	log logx.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	cfg      Config
	sched    cron.Schedule
	state    State
	nextFire time.Time

	// reconfCh nudges a pending timer to re-arm with the new parameters.
	reconfCh chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// normalize fills config defaults and resolves the daily target through the
// cron parser.
func normalize(cfg Config) (Config, cron.Schedule, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	hm, err := parseHHMM(cfg.Time)
	if err != nil {
		return Config{}, nil, fmt.Errorf("scheduler: %w", err)
	}
	spec := fmt.Sprintf("%d %d * * *", hm%60, hm/60)
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return Config{}, nil, fmt.Errorf("scheduler: parse %q: %w", spec, err)
	}
	if strings.TrimSpace(cfg.Salt) == "" {
		cfg.Salt = "rewardbot"
	}
	return cfg, sched, nil
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg, sched, err := normalize(cfg)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:      cfg,
		log:      log,
		sched:    sched,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		reconfCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}, nil
}

// Reconfigure swaps the trigger parameters at runtime. A pending timer is
// re-armed against the new parameters; an in-flight run is unaffected.
func (s *Service) Reconfigure(cfg Config) error {
	cfg, sched, err := normalize(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.sched = sched
	s.mu.Unlock()

	select {
	case s.reconfCh <- struct{}{}:
	default:
	}
	s.log.Info("trigger reconfigured", logx.String("time", cfg.Time))
	return nil
}

func (s *Service) snapshot() (Config, cron.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.sched
}

// State returns the current trigger state and the pending fire time (zero
// unless armed).
func (s *Service) State() (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.nextFire
}

// Stop cancels any pending timer and prevents further re-arming. An
// in-flight task run is allowed to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// NextFire computes the next fire time after now: daily target, then
// jitter, then off-day skipping, then allowed-window clamping.
func (s *Service) NextFire(now time.Time) time.Time {
	cfg, sched := s.snapshot()
	now = now.In(cfg.Location)
	base := sched.Next(now)

	for i := 0; i < 400; i++ { // hard bound; off-days can skip at most 6/7 days
		candidate := base.Add(s.jitterFor(cfg))

		// Jitter-before may pull the candidate into the past; take the next
		// base occurrence instead of firing immediately.
		if !candidate.After(now) {
			base = sched.Next(base)
			continue
		}
		if isOffDay(candidate, cfg.OffDaysPerWeek, cfg.Salt) {
			base = sched.Next(base)
			continue
		}
		if wait := WaitForAllowedWindow(candidate, cfg.AllowedWindows); wait > 0 {
			candidate = candidate.Add(wait)
			if isOffDay(candidate, cfg.OffDaysPerWeek, cfg.Salt) {
				base = sched.Next(candidate)
				continue
			}
		}
		return candidate
	}
	// Unreachable with a sane config; fall back to the plain daily target.
	return sched.Next(now)
}

func (s *Service) jitterFor(cfg Config) time.Duration {
	span := cfg.JitterBefore + cfg.JitterAfter
	if span <= 0 {
		return 0
	}
	s.rngMu.Lock()
	off := time.Duration(s.rng.Int63n(int64(span) + 1))
	s.rngMu.Unlock()
	return off - cfg.JitterBefore
}

// Run arms the trigger and invokes task at every fire until Stop is called
// or ctx is canceled. Task errors are logged and do not stop the loop.
func (s *Service) Run(ctx context.Context, task TaskFunc) error {
	for {
		select {
		case <-s.stopCh:
			s.setState(StateIdle, time.Time{})
			return nil
		case <-ctx.Done():
			s.setState(StateIdle, time.Time{})
			return ctx.Err()
		default:
		}

		next := s.NextFire(time.Now())
		s.setState(StateArmed, next)
		s.log.Info("run scheduled",
			logx.Time("at", next),
			logx.Duration("in", time.Until(next)))

		tmr := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			s.setState(StateIdle, time.Time{})
			return nil
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			s.setState(StateIdle, time.Time{})
			return ctx.Err()
		case <-s.reconfCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			continue
		case <-tmr.C:
		}

		s.setState(StateFiring, time.Time{})
		start := time.Now()
		if err := task(ctx); err != nil {
			s.log.Error("scheduled run failed", logx.Err(err), logx.Duration("dur", time.Since(start)))
		} else {
			s.log.Info("scheduled run finished", logx.Duration("dur", time.Since(start)))
		}
	}
}

func (s *Service) setState(st State, next time.Time) {
	s.mu.Lock()
	s.state = st
	s.nextFire = next
	s.mu.Unlock()
}
