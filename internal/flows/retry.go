package flows

import (
	"context"
	"math/rand"
	"time"

	"rewardbot/internal/accounts"
	"rewardbot/internal/classify"
	"rewardbot/internal/retry"
)

// WithRetry wraps a flow with bounded retries for transient failures. Bans
// and security challenges are terminal and never retried.
func WithRetry(next Flow, policy retry.Policy, classifier classify.Classifier) Flow {
	if classifier == nil {
		classifier = classify.NewPatterns(nil)
	}
	return &retrying{
		next:       next,
		policy:     policy,
		classifier: classifier,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type retrying struct {
	next       Flow
	policy     retry.Policy
	classifier classify.Classifier
	rng        *rand.Rand
}

func (r *retrying) Run(ctx context.Context, account accounts.Account) (Result, error) {
	var res Result
	err := r.policy.Do(ctx, r.rng, func(ctx context.Context) error {
		var err error
		res, err = r.next.Run(ctx, account)
		if err == nil {
			return nil
		}
		if v := r.classifier.Classify(err); v.Kind != classify.Transient {
			return retry.Permanent(err)
		}
		return err
	})
	return res, err
}
