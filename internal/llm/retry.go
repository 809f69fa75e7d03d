package llm

import (
	"context"
	"errors"
	"time"

	"github.com/ragsql/ragsql/internal/observability"
)

// RetryPolicy bounds retries of transient (network, timeout) failures.
// MaxRetries is clamped to [0, 1].
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.MaxRetries > 1 {
		p.MaxRetries = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

type retrying struct {
	next   Provider
	policy RetryPolicy
}

func WithRetry(next Provider, policy RetryPolicy) Provider {
	return &retrying{next: next, policy: policy.normalized()}
}

func (r *retrying) Name() string {
	return r.next.Name()
}

func (r *retrying) Generate(ctx context.Context, prompt string) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.IncrementGenerationRetry(r.next.Name())
			if err := sleep(ctx, r.policy.Delay); err != nil {
				return Result{}, lastErr
			}
		}
		result, err := r.next.Generate(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return Result{}, err
		}
	}
	return Result{}, lastErr
}

func retryable(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Transient()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
