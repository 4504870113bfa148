package config

import (
	"fmt"
	"strings"
	"time"
)

// durationField parses one duration-string field. Empty means unset (zero);
// negative values are rejected.
func durationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func durationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := durationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// The typed accessors below keep raw duration strings out of the rest of the
// tree: each sub-config parses its own fields and applies the defaults its
// component expects.

// Timeout returns the whole-run deadline. Zero disables it.
func (e ExecutionConfig) Timeout() (time.Duration, error) {
	return durationField("execution.global_timeout", e.GlobalTimeout)
}

// DriverTimeout bounds one flow-driver invocation. Zero disables it.
func (f FlowsConfig) DriverTimeout() (time.Duration, error) {
	return durationField("flows.timeout", f.Timeout)
}

// ActionDelays returns the humanization delay bounds. Both zero means no
// artificial pacing.
func (h HumanizationConfig) ActionDelays() (lo, hi time.Duration, err error) {
	lo, err = durationField("humanization.action_delay_min", h.ActionDelayMin)
	if err != nil {
		return 0, 0, err
	}
	hi, err = durationField("humanization.action_delay_max", h.ActionDelayMax)
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

// RetryDelays returns the search backoff bounds, defaulting to 1s base and a
// 30s ceiling.
func (s SearchConfig) RetryDelays() (base, limit time.Duration, err error) {
	base, err = durationOr("search.retry_base", s.RetryBase, time.Second)
	if err != nil {
		return 0, 0, err
	}
	limit, err = durationOr("search.retry_max_delay", s.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return 0, 0, err
	}
	return base, limit, nil
}

// RetryDelays returns the delivery backoff bounds, defaulting to 500ms base
// and a 10s ceiling.
func (n NotifyConfig) RetryDelays() (base, limit time.Duration, err error) {
	base, err = durationOr("notify.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return 0, 0, err
	}
	limit, err = durationOr("notify.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return 0, 0, err
	}
	return base, limit, nil
}

// Backoff returns the restart backoff bounds, defaulting to 1s base and a
// 1m ceiling.
func (c CrashRecoveryConfig) Backoff() (base, limit time.Duration, err error) {
	base, err = durationOr("crash_recovery.base_delay", c.BaseDelay, time.Second)
	if err != nil {
		return 0, 0, err
	}
	limit, err = durationOr("crash_recovery.max_delay", c.MaxDelay, time.Minute)
	if err != nil {
		return 0, 0, err
	}
	return base, limit, nil
}

// BusyWait returns the sqlite busy timeout. Zero means the driver default.
func (s StorageConfig) BusyWait() (time.Duration, error) {
	return durationField("storage.busy_timeout", s.BusyTimeout)
}
