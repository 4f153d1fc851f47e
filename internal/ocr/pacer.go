package ocr

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
)

// Pacer bounds concurrent OCR calls for one tier (spec §4.2/§5): a weighted
// semaphore acts as the concurrency ceiling for both tiers, and — for the
// restricted tier only — a token-bucket rate limiter additionally paces
// calls to the configured budget per window (default 14 per 60s). The
// unrestricted tier carries a nil limiter and is bounded by concurrency
// alone.
//
// The rate limiter is consulted once per screenshot call, in Acquire,
// before its first attempt; retries inside that call are not paced again.
// It refills one token every window/budget and holds at most budget
// tokens, so it counts calls started rather than completions, and a window
// that opens with a full bucket can admit up to twice the budget.
type Pacer struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewPacer builds a Pacer for the given tier. rateWindowSeconds/rateBudget
// are ignored for the unrestricted tier.
func NewPacer(tier domain.Tier, concurrency, rateWindowSeconds, rateBudget int) *Pacer {
	if concurrency < 1 {
		concurrency = 1
	}
	p := &Pacer{sem: semaphore.NewWeighted(int64(concurrency))}
	if tier == domain.TierRestricted && rateWindowSeconds > 0 && rateBudget > 0 {
		interval := time.Duration(rateWindowSeconds) * time.Second / time.Duration(rateBudget)
		p.limiter = rate.NewLimiter(rate.Every(interval), rateBudget)
	}
	return p
}

// Acquire blocks until a concurrency slot and (for the restricted tier) the
// rate budget admit one more call. It returns ctx.Err() if ctx is cancelled
// first — every queued acquire and pacing wait wakes immediately on
// cancellation (spec §8: cancellation during OCR-A fan-out). The returned
// release func must be called exactly once to free the concurrency slot.
func (p *Pacer) Acquire(ctx context.Context) (release func(), err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.sem.Release(1)
			return nil, err
		}
	}
	return func() { p.sem.Release(1) }, nil
}
