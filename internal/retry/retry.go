// Package retry implements the bounded backoff policy shared by transient
// network retries and crash-recovery restarts.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy describes a capped exponential backoff with jitter.
//
// The delay before attempt n (n >= 2) is Base doubled per prior retry,
// capped at Max, then randomized by ±Jitter. Attempt counts are hard-capped
// by MaxAttempts; there is no unbounded retrying.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Jitter      float64 // 0.2 = ±20%
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 15 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

// Delay returns the backoff before the given retry (1-based: retry 1 is the
// wait between the first failure and the second attempt).
func (p Policy) Delay(retry int, rng *rand.Rand) time.Duration {
	p = p.withDefaults()
	if retry < 1 {
		retry = 1
	}

	d := p.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > p.Max {
			d = p.Max
			break
		}
	}
	if p.Jitter > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// permanentError marks a failure that must not be retried.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// Do runs fn up to MaxAttempts times, sleeping the policy delay between
// attempts. It returns nil on the first success, the ctx error if canceled
// mid-wait, or the last attempt's error once attempts are exhausted.
func (p Policy) Do(ctx context.Context, rng *rand.Rand, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		var pe permanentError
		if errors.As(last, &pe) {
			return pe.err
		}
		if attempt == p.MaxAttempts {
			break
		}

		tmr := time.NewTimer(p.Delay(attempt, rng))
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}
