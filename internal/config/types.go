package config

// Config is the root configuration document.
//
// All duration fields are Go duration strings (e.g. "500ms", "10s", "1m");
// each sub-config exposes typed accessors (durations.go) that parse them and
// apply component defaults.
type Config struct {
	// AccountsFile points at the YAML/JSON account list (read-only input).
	AccountsFile string `json:"accounts_file"`

	Logging       LoggingConfig       `json:"logging"`
	Flows         FlowsConfig         `json:"flows"`
	Execution     ExecutionConfig     `json:"execution"`
	Humanization  HumanizationConfig  `json:"humanization"`
	JobState      JobStateConfig      `json:"job_state"`
	CrashRecovery CrashRecoveryConfig `json:"crash_recovery"`
	Search        SearchConfig        `json:"search"`
	Schedule      ScheduleConfig      `json:"schedule"`
	Security      SecurityConfig      `json:"security"`
	Notify        NotifyConfig        `json:"notify"`
	Storage       StorageConfig       `json:"storage"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// FlowsConfig points at the external flow driver commands. The driver gets
// the account record as JSON on stdin plus a --surface flag and must print a
// {"initial_points","collected_points"} document on stdout.
type FlowsConfig struct {
	DesktopCmd []string `json:"desktop_cmd,omitempty"`
	MobileCmd  []string `json:"mobile_cmd,omitempty"`

	// Timeout bounds one driver invocation, e.g. "10m".
	Timeout string `json:"timeout,omitempty"`
}

// ExecutionConfig controls how a run fans out over accounts.
//
// Defaults (when fields are omitted/zero):
//   - clusters: 1
//   - passes_per_run: 1
//   - parallel: false (desktop flow first, then mobile)
//   - global_timeout: "0s" (disabled)
type ExecutionConfig struct {
	Clusters     int  `json:"clusters,omitempty"`
	PassesPerRun int  `json:"passes_per_run,omitempty"`
	Parallel     bool `json:"parallel,omitempty"`

	// GlobalTimeout bounds one whole run. "0s" disables it.
	GlobalTimeout string `json:"global_timeout,omitempty"`
}

// HumanizationConfig adds randomized pacing so account activity does not
// look machine-generated.
type HumanizationConfig struct {
	ActionDelayMin string `json:"action_delay_min,omitempty"`
	ActionDelayMax string `json:"action_delay_max,omitempty"`

	// AllowedWindows lists "HH:MM-HH:MM" ranges; windows may cross midnight
	// ("22:00-02:00"). Empty means any time is allowed.
	AllowedWindows []string `json:"allowed_windows,omitempty"`

	// OffDaysPerWeek skips that many pseudo-randomly chosen weekdays per week.
	OffDaysPerWeek int `json:"off_days_per_week,omitempty"`
}

type JobStateConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"`
}

// CrashRecoveryConfig controls both process-level restart-on-fatal and
// per-worker respawn behavior.
type CrashRecoveryConfig struct {
	Enabled     bool   `json:"enabled"`
	MaxRestarts int    `json:"max_restarts,omitempty"`
	BaseDelay   string `json:"base_delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`

	RestartFailedWorkers bool `json:"restart_failed_workers,omitempty"`
	MaxWorkerRespawns    int  `json:"max_worker_respawns,omitempty"`
}

// SearchConfig bounds transient-failure retries inside the task flows.
type SearchConfig struct {
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// ScheduleConfig controls daemon-mode run scheduling.
type ScheduleConfig struct {
	Enabled bool `json:"enabled"`

	// Time is the daily target in "HH:MM" (24h).
	Time string `json:"time,omitempty"`

	// Jitter window in minutes around Time.
	JitterBeforeMin int `json:"jitter_before_min,omitempty"`
	JitterAfterMin  int `json:"jitter_after_min,omitempty"`

	// Timezone is an IANA TZ name, e.g. "Europe/Berlin". Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

type SecurityConfig struct {
	// StopOnBan puts the whole run into standby once any account is
	// classified as banned.
	StopOnBan bool `json:"stop_on_ban,omitempty"`

	// AlertOnBan sends an out-of-band notification immediately when a ban
	// or security challenge is detected.
	AlertOnBan bool `json:"alert_on_ban,omitempty"`

	// BanPatterns extends the built-in ban signature list (substring match,
	// case-insensitive).
	BanPatterns []string `json:"ban_patterns,omitempty"`
}

// NotifyConfig controls the async notification pipeline.
type NotifyConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	Webhook  WebhookConfig  `json:"webhook,omitempty"`
	Ntfy     NtfyConfig     `json:"ntfy,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type WebhookConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
}

type NtfyConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Token   string `json:"token,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

// StorageConfig controls the optional run-history store.
//
// Driver values: "file", "sqlite", "" or "none" (disabled).
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}
