package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rewardbot/internal/app"
	"rewardbot/internal/config"
	"rewardbot/internal/runtime/supervisor"
	"rewardbot/internal/scheduler"
	logx "rewardbot/pkg/logx"
	"rewardbot/pkg/systemd"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "rewardbot",
		Short:         "Rewards task automation orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")

	root.AddCommand(
		runCmd(&cfgPath),
		daemonCmd(&cfgPath),
		workerCmd(&cfgPath),
		historyCmd(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one orchestrated run over all accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := app.New(app.Options{ConfigPath: *cfgPath})
			if err != nil {
				return err
			}
			a.Start(ctx)
			_, runErr := a.RunOnce(ctx)

			closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer closeCancel()
			a.Close(closeCtx)
			return runErr
		},
	}
}

func daemonCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run on the configured daily schedule until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := app.New(app.Options{ConfigPath: *cfgPath})
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, closeCancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer closeCancel()
				a.Close(closeCtx)
			}()
			a.Start(ctx)

			cfg := a.Config()
			if !cfg.Schedule.Enabled {
				return fmt.Errorf("daemon mode requires schedule.enabled: true")
			}
			sched, err := buildScheduler(cfg, a.Log.With(logx.String("comp", "scheduler")))
			if err != nil {
				return err
			}

			sup := supervisor.New(ctx,
				supervisor.WithLogger(a.Log.With(logx.String("comp", "supervisor"))),
				supervisor.WithCancelOnError(true))

			sup.Go0("config.watch", func(ctx context.Context) {
				_ = a.Manager.Watch(ctx)
			})
			updates := a.Manager.Subscribe(1)
			sup.Go0("config.apply", func(ctx context.Context) {
				for {
					select {
					case <-ctx.Done():
						return
					case cfg, ok := <-updates:
						if !ok {
							return
						}
						a.ApplyConfig(cfg)
						scfg, err := schedulerConfig(cfg)
						if err == nil {
							err = sched.Reconfigure(scfg)
						}
						if err != nil {
							a.Log.Warn("schedule reload rejected", logx.Err(err))
						}
					}
				}
			})

			task := func(ctx context.Context) error {
				_, err := a.RunOnce(ctx)
				return err
			}
			schedLoop := func(ctx context.Context) error {
				return sched.Run(ctx, task)
			}
			if cfg.CrashRecovery.Enabled {
				base, maxDelay, err := cfg.CrashRecovery.Backoff()
				if err != nil {
					return err
				}
				sup.GoRestart("scheduler", schedLoop,
					supervisor.WithRestartBackoff(base, maxDelay),
					supervisor.WithMaxRestarts(cfg.CrashRecovery.MaxRestarts),
					supervisor.WithFatalOnFinalError(true))
			} else {
				sup.Go("scheduler", schedLoop)
			}

			systemd.NotifyReady()
			systemd.NotifyStatus("armed")
			awaitShutdown(ctx, sup)
			systemd.NotifyStopping()

			sched.Stop()
			a.Manager.Unsubscribe(updates)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			return sup.Stop(stopCtx)
		},
	}
}

func workerCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Internal: execute one account chunk from stdin",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := app.New(app.Options{ConfigPath: *cfgPath, Worker: true})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			return a.RunWorker(ctx)
		},
	}
}

func historyCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent run records from the history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := app.New(app.Options{ConfigPath: *cfgPath})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if a.Store == nil {
				return fmt.Errorf("storage is disabled (set storage.driver to file or sqlite)")
			}
			runs, err := a.Store.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s  %s  points=%d processed=%d skipped=%d errors=%d banned=%d dur=%s",
					r.StartedAt.Format("2006-01-02 15:04"), shortID(r.RunID),
					r.Points, r.Processed, r.Skipped, r.Errors, r.Banned,
					r.Duration.Round(time.Second))
				if r.Standby {
					line += "  STANDBY"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to show")
	return cmd
}

// awaitShutdown blocks until a stop signal arrives or the supervisor gives
// up (fatal error after the restart budget is spent).
func awaitShutdown(ctx context.Context, sup *supervisor.Supervisor) {
	select {
	case <-ctx.Done():
	case <-sup.Context().Done():
	}
}

func buildScheduler(cfg *config.Config, log logx.Logger) (*scheduler.Service, error) {
	scfg, err := schedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	return scheduler.New(scfg, log)
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	windows, err := scheduler.ParseWindows(cfg.Humanization.AllowedWindows)
	if err != nil {
		return scheduler.Config{}, err
	}
	loc := time.Local
	if tz := cfg.Schedule.Timezone; tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return scheduler.Config{}, err
		}
	}
	return scheduler.Config{
		Time:           cfg.Schedule.Time,
		JitterBefore:   time.Duration(cfg.Schedule.JitterBeforeMin) * time.Minute,
		JitterAfter:    time.Duration(cfg.Schedule.JitterAfterMin) * time.Minute,
		OffDaysPerWeek: cfg.Humanization.OffDaysPerWeek,
		AllowedWindows: windows,
		Location:       loc,
	}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
