// Package notify is the async notification pipeline: a bounded queue, a
// small worker pool, rate limiting, and bounded retries. Callers fire and
// forget; delivery failures never propagate back into the run.
package notify

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rewardbot/internal/retry"
	logx "rewardbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Field is one embed-style key/value pair.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Notification struct {
	Title    string
	Body     string
	Fields   []Field
	Severity Severity
}

// Sender delivers one notification over one channel (webhook, ntfy, ...).
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Service fans queued notifications out to all configured senders.
type Service struct {
	cfg     Config
	log     logx.Logger
	senders []Sender
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     chan Notification
	accepting bool

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	dropped uint64
}

func New(cfg Config, senders []Sender, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		senders: senders,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled && len(s.senders) > 0 }

// Start launches the worker pool. A disabled service starts nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || !s.Enabled() {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	queue := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notifier worker",
						logx.Int("worker", i),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop(queue, i)
		}()
	}
}

// Enqueue queues a notification without blocking. A full queue drops the
// notification and returns ErrQueueFull.
func (s *Service) Enqueue(n Notification) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	// The send happens under mu so Stop can close the queue without racing
	// an already-accepted notification.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil || !s.accepting {
		return ErrStopped
	}
	select {
	case s.queue <- n:
		return nil
	default:
		s.dropped++
		s.log.Warn("notification dropped (queue full)", logx.String("title", n.Title))
		return ErrQueueFull
	}
}

// Dropped returns how many notifications were dropped on a full queue.
func (s *Service) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop closes intake and drains what was already accepted until ctx or a
// 2s budget expires, then cancels any in-flight sends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	// Safe: every send happens under mu (Enqueue), so nothing can race the
	// close. Workers drain the remaining items and exit on the closed queue.
	close(s.queue)
	s.queue = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	budget := time.NewTimer(2 * time.Second)
	defer budget.Stop()
	select {
	case <-done:
	case <-ctx.Done():
	case <-budget.C:
	}
	if cancel != nil {
		cancel()
	}
	<-done
}

func (s *Service) workerLoop(queue <-chan Notification, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(idx)<<32))
	policy := retry.Policy{
		MaxAttempts: 1 + s.cfg.RetryMax,
		Base:        s.cfg.RetryBase,
		Max:         s.cfg.RetryMaxDelay,
	}

	for {
		select {
		case <-s.runCtx.Done():
			return
		case n, ok := <-queue:
			if !ok {
				return
			}
			s.deliver(n, policy, rng)
		}
	}
}

// deliver sends one notification to every sender; each channel retries
// independently and failures are only logged.
func (s *Service) deliver(n Notification, policy retry.Policy, rng *rand.Rand) {
	for _, snd := range s.senders {
		if err := s.limiter.Wait(s.runCtx); err != nil {
			return
		}
		err := policy.Do(s.runCtx, rng, func(ctx context.Context) error {
			sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			return snd.Send(sctx, n)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("notification delivery failed",
				logx.String("sender", snd.Name()),
				logx.String("title", n.Title),
				logx.Err(err))
		}
	}
}
