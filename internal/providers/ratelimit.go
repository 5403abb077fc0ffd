package providers

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
)

// RateLimited wraps an engine.LLMClient with a shared token bucket so all
// sessions together stay under the provider's request quota.
type RateLimited struct {
	next    engine.LLMClient
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of one
// tenth of that (at least 1).
func NewRateLimited(next engine.LLMClient, perMinute int) *RateLimited {
	burst := max(perMinute/10, 1)
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

// Chat waits for a token, then forwards the call. Waiting is bounded by ctx,
// so a model timeout also covers time spent queued.
func (r *RateLimited) Chat(ctx context.Context, req engine.ChatRequest) (engine.LLMResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return engine.LLMResponse{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Chat(ctx, req)
}
