package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"rewardbot/internal/runtime/supervisor"
	logx "rewardbot/pkg/logx"
)

func TestAwaitShutdownUnblocksWhenRestartBudgetSpent(t *testing.T) {
	t.Parallel()

	sup := supervisor.New(context.Background(),
		supervisor.WithLogger(logx.Nop()),
		supervisor.WithCancelOnError(true))
	sup.GoRestart("scheduler", func(ctx context.Context) error {
		return errors.New("cannot arm trigger")
	},
		supervisor.WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		supervisor.WithMaxRestarts(2),
		supervisor.WithFatalOnFinalError(true))

	done := make(chan struct{})
	go func() {
		awaitShutdown(context.Background(), sup)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("still waiting after the restart budget was spent")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err == nil {
		t.Fatal("fatal loop error not surfaced as exit error")
	}
}

func TestAwaitShutdownUnblocksOnSignal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sup := supervisor.New(context.Background(), supervisor.WithLogger(logx.Nop()))
	sup.Go("scheduler", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	done := make(chan struct{})
	go func() {
		awaitShutdown(ctx, sup)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("still waiting after stop signal")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := sup.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
