package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"rewardbot/internal/accounts"
	"rewardbot/internal/retry"
)

func TestWithRetryTransient(t *testing.T) {
	t.Parallel()
	calls := 0
	inner := Func(func(ctx context.Context, a accounts.Account) (Result, error) {
		calls++
		if calls < 3 {
			return Result{}, errors.New("connection reset")
		}
		return Result{InitialPoints: 10, CollectedPoints: 5}, nil
	})
	f := WithRetry(inner, retry.Policy{MaxAttempts: 5, Base: time.Millisecond, Max: 2 * time.Millisecond}, nil)

	res, err := f.Run(context.Background(), accounts.Account{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 || res.CollectedPoints != 5 {
		t.Fatalf("calls=%d res=%+v", calls, res)
	}
}

func TestWithRetryBanIsTerminal(t *testing.T) {
	t.Parallel()
	calls := 0
	inner := Func(func(ctx context.Context, a accounts.Account) (Result, error) {
		calls++
		return Result{}, errors.New("your account has been suspended")
	})
	f := WithRetry(inner, retry.Policy{MaxAttempts: 5, Base: time.Millisecond, Max: 2 * time.Millisecond}, nil)

	_, err := f.Run(context.Background(), accounts.Account{Email: "a@example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("ban retried: %d calls", calls)
	}
}
