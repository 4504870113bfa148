package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var reHHMM = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// Validate checks cross-field constraints that the strict decoder cannot.
// It does not mutate the config; defaults are applied by the consumers.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AccountsFile) == "" {
		return fmt.Errorf("accounts_file is required")
	}
	if _, err := c.Flows.DriverTimeout(); err != nil {
		return err
	}
	if c.Execution.Clusters < 0 {
		return fmt.Errorf("execution.clusters must be >= 0")
	}
	if c.Execution.PassesPerRun < 0 {
		return fmt.Errorf("execution.passes_per_run must be >= 0")
	}
	if _, err := c.Execution.Timeout(); err != nil {
		return err
	}
	if _, _, err := c.Search.RetryDelays(); err != nil {
		return err
	}
	if _, err := c.Storage.BusyWait(); err != nil {
		return err
	}

	minD, maxD, err := c.Humanization.ActionDelays()
	if err != nil {
		return err
	}
	if maxD > 0 && maxD < minD {
		return fmt.Errorf("humanization.action_delay_max must be >= action_delay_min")
	}
	for _, w := range c.Humanization.AllowedWindows {
		if err := validateWindow(w); err != nil {
			return fmt.Errorf("humanization.allowed_windows: %w", err)
		}
	}
	if c.Humanization.OffDaysPerWeek < 0 || c.Humanization.OffDaysPerWeek > 6 {
		return fmt.Errorf("humanization.off_days_per_week must be in [0,6]")
	}

	if c.CrashRecovery.MaxRestarts < 0 {
		return fmt.Errorf("crash_recovery.max_restarts must be >= 0")
	}
	if _, _, err := c.CrashRecovery.Backoff(); err != nil {
		return err
	}

	if c.Schedule.Enabled {
		t := strings.TrimSpace(c.Schedule.Time)
		if !reHHMM.MatchString(t) {
			return fmt.Errorf("schedule.time: expected HH:MM, got %q", c.Schedule.Time)
		}
		if c.Schedule.JitterBeforeMin < 0 || c.Schedule.JitterAfterMin < 0 {
			return fmt.Errorf("schedule jitter minutes must be >= 0")
		}
		if tz := strings.TrimSpace(c.Schedule.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("schedule.timezone: %w", err)
			}
		}
	}

	if c.Notify.Enabled {
		if _, _, err := c.Notify.RetryDelays(); err != nil {
			return err
		}
		if c.Notify.Webhook.Enabled && strings.TrimSpace(c.Notify.Webhook.URL) == "" {
			return fmt.Errorf("notify.webhook.url is required when webhook is enabled")
		}
		if c.Notify.Ntfy.Enabled && strings.TrimSpace(c.Notify.Ntfy.URL) == "" {
			return fmt.Errorf("notify.ntfy.url is required when ntfy is enabled")
		}
		if c.Notify.Telegram.Enabled {
			if strings.TrimSpace(c.Notify.Telegram.Token) == "" || c.Notify.Telegram.ChatID == 0 {
				return fmt.Errorf("notify.telegram requires token and chat_id")
			}
		}
	}
	return nil
}

func validateWindow(w string) error {
	parts := strings.Split(strings.TrimSpace(w), "-")
	if len(parts) != 2 {
		return fmt.Errorf("expected HH:MM-HH:MM, got %q", w)
	}
	for _, p := range parts {
		if !reHHMM.MatchString(strings.TrimSpace(p)) {
			return fmt.Errorf("invalid time %q in window %q", p, w)
		}
	}
	return nil
}
