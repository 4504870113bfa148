// Package app is the composition root: it loads configuration and wires the
// logging, account, flow, notification, storage, and orchestration pieces
// the CLI commands run.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"

	"rewardbot/internal/accounts"
	"rewardbot/internal/classify"
	"rewardbot/internal/cluster"
	"rewardbot/internal/config"
	"rewardbot/internal/flows"
	"rewardbot/internal/jobstate"
	"rewardbot/internal/notify"
	"rewardbot/internal/report"
	"rewardbot/internal/retry"
	"rewardbot/internal/runner"
	"rewardbot/internal/storage"
	logx "rewardbot/pkg/logx"
)

// Options select the process role at bootstrap.
type Options struct {
	ConfigPath string

	// Worker marks a cluster worker process: console logs go to stderr
	// (stdout carries protocol frames) and the notifier/storage layers are
	// not started (the primary owns reporting and persistence).
	Worker bool
}

// App holds the wired components for one process.
type App struct {
	Manager *config.Manager
	Log     logx.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	Accounts []accounts.Account
	Notifier *notify.Service
	Reporter *report.Reporter
	Store    storage.Store
	States   *jobstate.Store

	logSvc     *logx.Service
	classifier classify.Classifier
	opts       Options
}

// New loads the config and builds every component the selected role needs.
func New(opts Options) (*App, error) {
	mgr := config.NewManager(opts.ConfigPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", opts.ConfigPath, err)
	}

	logCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if opts.Worker {
		logCfg.ConsoleOutput = os.Stderr
		logCfg.File.Enabled = false
	}
	logSvc, log := logx.New(logCfg)
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfg:        cfg,
		Manager:    mgr,
		Log:        log,
		logSvc:     logSvc,
		classifier: classify.NewPatterns(cfg.Security.BanPatterns),
		opts:       opts,
	}

	a.Accounts, err = accounts.Load(cfg.AccountsFile)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a.States = jobstate.New(jobstate.Options{
		Dir:          jobStateDir(cfg),
		Enabled:      cfg.JobState.Enabled,
		PassesPerRun: cfg.Execution.PassesPerRun,
	}, log.With(logx.String("comp", "jobstate")))

	if !opts.Worker {
		if err := a.buildPrimary(); err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}
	return a, nil
}

func jobStateDir(cfg *config.Config) string {
	if cfg.JobState.Dir != "" {
		return cfg.JobState.Dir
	}
	return "./job_state"
}

// Config returns the currently committed config snapshot.
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// ApplyConfig installs a reloaded config. Logging sinks swap immediately;
// run-shaping fields take effect on the next run. Notification and storage
// wiring changes still require a restart.
func (a *App) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()

	if !a.opts.Worker {
		a.logSvc.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}
	a.Log.Info("config applied")
}

// buildPrimary wires the components only the primary process runs: the
// notification pipeline and the run-history store.
func (a *App) buildPrimary() error {
	cfg := a.Config()

	retryBase, retryMaxDelay, err := cfg.Notify.RetryDelays()
	if err != nil {
		return err
	}

	var senders []notify.Sender
	if cfg.Notify.Webhook.Enabled {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Username))
	}
	if cfg.Notify.Ntfy.Enabled {
		senders = append(senders, notify.NewNtfySender(cfg.Notify.Ntfy.URL, cfg.Notify.Ntfy.Topic, cfg.Notify.Ntfy.Token))
	}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegramSender(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("notify.telegram: %w", err)
		}
		senders = append(senders, tg)
	}

	a.Notifier = notify.New(notify.Config{
		Enabled:       cfg.Notify.Enabled,
		Workers:       cfg.Notify.Workers,
		QueueSize:     cfg.Notify.QueueSize,
		RatePerSec:    cfg.Notify.RatePerSec,
		RetryMax:      cfg.Notify.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
	}, senders, a.Log.With(logx.String("comp", "notify")))
	a.Reporter = report.NewReporter(a.Notifier, a.Log.With(logx.String("comp", "report")))

	busy, err := cfg.Storage.BusyWait()
	if err != nil {
		return err
	}
	a.Store, err = storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.Log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	return nil
}

// Start launches the background services (notifier workers).
func (a *App) Start(ctx context.Context) {
	if a.Notifier != nil {
		a.Notifier.Start(ctx)
	}
}

// NewRunner builds the per-account runner from the current config.
func (a *App) NewRunner() (*runner.Runner, error) {
	cfg := a.Config()

	flowTimeout, err := cfg.Flows.DriverTimeout()
	if err != nil {
		return nil, err
	}
	searchBase, searchMax, err := cfg.Search.RetryDelays()
	if err != nil {
		return nil, err
	}
	policy := retry.Policy{
		MaxAttempts: cfg.Search.RetryMax,
		Base:        searchBase,
		Max:         searchMax,
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	buildFlow := func(surface flows.Surface, argv []string) (flows.Flow, error) {
		if len(argv) == 0 {
			return nil, nil
		}
		f, err := flows.NewExec(surface, flows.ExecConfig{Command: argv, Timeout: flowTimeout},
			a.Log.With(logx.String("comp", "flows")))
		if err != nil {
			return nil, err
		}
		return flows.WithRetry(f, policy, a.classifier), nil
	}
	desktop, err := buildFlow(flows.Desktop, cfg.Flows.DesktopCmd)
	if err != nil {
		return nil, err
	}
	mobile, err := buildFlow(flows.Mobile, cfg.Flows.MobileCmd)
	if err != nil {
		return nil, err
	}

	delayMin, delayMax, err := cfg.Humanization.ActionDelays()
	if err != nil {
		return nil, err
	}

	r := runner.New(desktop, mobile, a.classifier, runner.Config{
		Parallel: cfg.Execution.Parallel,
		DelayMin: delayMin,
		DelayMax: delayMax,
	}, a.Log.With(logx.String("comp", "runner")))

	if cfg.Security.AlertOnBan && a.Notifier != nil {
		r.OnBan = func(account string, v classify.Verdict) {
			_ = a.Notifier.Enqueue(notify.Notification{
				Title:    "Account flagged: " + account,
				Body:     fmt.Sprintf("%s (%s)", v.Kind, v.Reason),
				Severity: notify.SeverityError,
			})
		}
	}
	return r, nil
}

// NewOrchestrator builds the cluster primary for one run.
func (a *App) NewOrchestrator(r *runner.Runner) (*cluster.Orchestrator, error) {
	cfg := a.Config()

	globalTimeout, err := cfg.Execution.Timeout()
	if err != nil {
		return nil, err
	}

	var spawner cluster.Spawner
	if cfg.Execution.Clusters > 1 {
		spawner = &cluster.ExecSpawner{
			Args: []string{"worker", "--config", a.opts.ConfigPath},
			Log:  a.Log.With(logx.String("comp", "cluster")),
		}
	}

	return cluster.New(r, spawner, a.States, cluster.Options{
		Clusters:             cfg.Execution.Clusters,
		PassesPerRun:         cfg.Execution.PassesPerRun,
		StopOnBan:            cfg.Security.StopOnBan,
		RestartFailedWorkers: cfg.CrashRecovery.Enabled && cfg.CrashRecovery.RestartFailedWorkers,
		MaxWorkerRespawns:    cfg.CrashRecovery.MaxWorkerRespawns,
		GlobalTimeout:        globalTimeout,
	}, a.Log.With(logx.String("comp", "cluster"))), nil
}

// RunOnce executes one full orchestrated run: dispatch, aggregate, persist,
// notify. The returned report is complete even when err is non-nil.
func (a *App) RunOnce(ctx context.Context) (report.RunReport, error) {
	r, err := a.NewRunner()
	if err != nil {
		return report.RunReport{}, err
	}
	orch, err := a.NewOrchestrator(r)
	if err != nil {
		return report.RunReport{}, err
	}

	rc := cluster.NewRunContext()
	log := a.Log.With(logx.String("run_id", rc.RunID))
	log.Info("run starting",
		logx.Int("accounts", len(a.Accounts)),
		logx.Int("clusters", a.Config().Execution.Clusters))

	rep := orch.Run(ctx, rc, a.Accounts)

	if a.Store != nil {
		if err := a.Store.AppendRun(ctx, storage.RunRecord{
			RunID:     rep.RunID,
			StartedAt: rep.StartedAt,
			Duration:  rep.Duration,
			Accounts:  rep.Accounts,
			Processed: rep.Processed,
			Skipped:   rep.Skipped,
			Banned:    rep.Banned,
			Errors:    rep.Errors,
			Points:    rep.PointsSum,
			Standby:   rep.Standby,
		}); err != nil {
			log.Warn("run history write failed", logx.Err(err))
		}
	}
	if a.Reporter != nil {
		a.Reporter.Dispatch(rep)
	}

	log.Info("run finished",
		logx.Int("processed", rep.Processed),
		logx.Int("skipped", rep.Skipped),
		logx.Int("points", rep.PointsSum),
		logx.Int("banned", rep.Banned),
		logx.Bool("standby", rep.Standby),
		logx.Duration("dur", rep.Duration))

	if rep.Standby {
		return rep, fmt.Errorf("run halted: standby after ban or security challenge")
	}
	return rep, nil
}

// RunWorker executes the cluster worker role over stdin/stdout.
func (a *App) RunWorker(ctx context.Context) error {
	r, err := a.NewRunner()
	if err != nil {
		return err
	}
	return cluster.RunWorker(ctx, r, os.Stdin, os.Stdout, a.Log.With(logx.String("comp", "worker")))
}

// Close releases background services. Safe to call once at process exit.
func (a *App) Close(ctx context.Context) {
	if a.Notifier != nil {
		a.Notifier.Stop(ctx)
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	_ = a.logSvc.Close()
}
