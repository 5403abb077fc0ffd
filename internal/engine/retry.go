package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// guardedRetries caps retries for errors classified RetryClassMaybe, such
// as a model call that hit its own deadline.
const guardedRetries = 2

// RetryPolicy controls how failed model calls are retried.
type RetryPolicy struct {
	MaxRetries   int // 0 disables retries
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// budget is how many retries class may use under p.
func (p RetryPolicy) budget(class RetryClass) (int, bool) {
	if class == RetryClassMaybe && p.MaxRetries > guardedRetries {
		return guardedRetries, true
	}
	return p.MaxRetries, class == RetryClassMaybe
}

// backoff is the wait before retry number attempt+1. A Retry-After hint
// from the provider wins over the exponential schedule, capped at MaxDelay.
func (p RetryPolicy) backoff(attempt int, err error) time.Duration {
	if hint := ExtractRetryAfter(err); hint > 0 {
		return min(hint, p.MaxDelay)
	}
	d := min(float64(p.InitialDelay)*math.Pow(p.Multiplier, float64(attempt)), float64(p.MaxDelay))
	if p.Jitter {
		d += rand.Float64() * 0.2 * d
	}
	return time.Duration(d)
}

// RetryWithPolicy calls fn until it succeeds, classify says the error is
// final, the retry budget runs out or ctx ends. onRetry, when set, sees each
// retry before its wait.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn func(ctx context.Context) (T, error),
	classify func(error) RetryClass,
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		}

		class := classify(err)
		if class == RetryClassNonRetryable {
			return zero, err
		}
		limit, guarded := policy.budget(class)
		if attempt >= limit {
			return zero, NewRetryExhaustedError(err, attempt, limit, guarded)
		}

		delay := policy.backoff(attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return zero, fmt.Errorf("cancelled while waiting to retry: %w", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryLLMCall sends req through llm under policy. Every attempt gets its
// own timeout when timeout > 0.
func RetryLLMCall(
	ctx context.Context,
	policy RetryPolicy,
	llm LLMClient,
	req ChatRequest,
	timeout time.Duration,
	onRetry func(attempt int, delay time.Duration, err error),
) (LLMResponse, error) {
	call := func(ctx context.Context) (LLMResponse, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return llm.Chat(ctx, req)
	}
	return RetryWithPolicy(ctx, policy, call, ClassifyLLMError, onRetry)
}
