package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
accounts_file: ./accounts.yaml
logging:
  level: info
  console: true
execution:
  clusters: 3
  passes_per_run: 1
  global_timeout: 2h
humanization:
  action_delay_min: 500ms
  action_delay_max: 3s
  allowed_windows: ["09:00-12:00", "22:00-02:00"]
  off_days_per_week: 1
job_state:
  enabled: true
  dir: ./job_state
schedule:
  enabled: true
  time: "09:30"
  jitter_before_min: 10
  jitter_after_min: 20
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Execution.Clusters != 3 {
		t.Fatalf("clusters = %d, want 3", cfg.Execution.Clusters)
	}
	if len(cfg.Humanization.AllowedWindows) != 2 {
		t.Fatalf("windows = %v", cfg.Humanization.AllowedWindows)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", validYAML+"\nbogus_key: 1\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(validYAML, "global_timeout: 2h", "global_timeout: fast", 1)
	m := NewManager(writeFile(t, "config.yaml", bad))
	if _, err := m.Load(); err == nil {
		t.Fatal("invalid duration accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() Config {
		return Config{AccountsFile: "./accounts.yaml"}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"minimal ok", func(c *Config) {}, ""},
		{"missing accounts file", func(c *Config) { c.AccountsFile = " " }, "accounts_file"},
		{"bad window", func(c *Config) { c.Humanization.AllowedWindows = []string{"9am-5pm"} }, "allowed_windows"},
		{"window missing end", func(c *Config) { c.Humanization.AllowedWindows = []string{"09:00"} }, "allowed_windows"},
		{"off days out of range", func(c *Config) { c.Humanization.OffDaysPerWeek = 7 }, "off_days_per_week"},
		{"delay max below min", func(c *Config) {
			c.Humanization.ActionDelayMin = "5s"
			c.Humanization.ActionDelayMax = "1s"
		}, "action_delay_max"},
		{"schedule bad time", func(c *Config) {
			c.Schedule.Enabled = true
			c.Schedule.Time = "25:99"
		}, "schedule.time"},
		{"schedule bad timezone", func(c *Config) {
			c.Schedule.Enabled = true
			c.Schedule.Time = "09:00"
			c.Schedule.Timezone = "Mars/Olympus"
		}, "timezone"},
		{"webhook without url", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.Webhook.Enabled = true
		}, "webhook"},
		{"telegram without chat id", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.Telegram.Enabled = true
			c.Notify.Telegram.Token = "tok"
		}, "telegram"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()

	t.Run("defaults apply when unset", func(t *testing.T) {
		t.Parallel()
		var cfg Config
		if base, limit, err := cfg.Search.RetryDelays(); err != nil || base != time.Second || limit != 30*time.Second {
			t.Fatalf("search delays = %v %v %v", base, limit, err)
		}
		if base, limit, err := cfg.Notify.RetryDelays(); err != nil || base != 500*time.Millisecond || limit != 10*time.Second {
			t.Fatalf("notify delays = %v %v %v", base, limit, err)
		}
		if base, limit, err := cfg.CrashRecovery.Backoff(); err != nil || base != time.Second || limit != time.Minute {
			t.Fatalf("backoff = %v %v %v", base, limit, err)
		}
		if d, err := cfg.Execution.Timeout(); err != nil || d != 0 {
			t.Fatalf("timeout = %v %v, want disabled", d, err)
		}
	})

	t.Run("configured values win", func(t *testing.T) {
		t.Parallel()
		var cfg Config
		cfg.CrashRecovery.BaseDelay = "2s"
		cfg.CrashRecovery.MaxDelay = "45s"
		base, limit, err := cfg.CrashRecovery.Backoff()
		if err != nil || base != 2*time.Second || limit != 45*time.Second {
			t.Fatalf("backoff = %v %v %v", base, limit, err)
		}
	})

	t.Run("error names the field path", func(t *testing.T) {
		t.Parallel()
		var cfg Config
		cfg.Storage.BusyTimeout = "soon"
		if _, err := cfg.Storage.BusyWait(); err == nil || !strings.Contains(err.Error(), "storage.busy_timeout") {
			t.Fatalf("BusyWait err = %v", err)
		}
	})

	t.Run("negative rejected", func(t *testing.T) {
		t.Parallel()
		var cfg Config
		cfg.Flows.Timeout = "-1s"
		if _, err := cfg.Flows.DriverTimeout(); err == nil {
			t.Fatal("negative duration accepted")
		}
	})
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json",
		`{"accounts_file":"./accounts.yaml"}{"accounts_file":"./other.yaml"}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing document accepted")
	}
}
