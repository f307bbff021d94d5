package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/dinnerconnect/notifier/internal/domain"
)

// KindLimiters holds one token bucket per message kind so a burst of one
// template cannot starve the SMTP relay for the others.
// Burst equals the rate: nothing is "saved up" beyond one second's worth.
type KindLimiters struct {
	limiters map[domain.Kind]*rate.Limiter
}

// New creates limiters granting ratePerSec sends per second per kind.
// A non-positive rate disables limiting.
func New(ratePerSec int) *KindLimiters {
	r, burst := rate.Limit(ratePerSec), ratePerSec
	if ratePerSec <= 0 {
		r, burst = rate.Inf, 0
	}

	limiters := make(map[domain.Kind]*rate.Limiter, len(domain.Kinds()))
	for _, k := range domain.Kinds() {
		limiters[k] = rate.NewLimiter(r, burst)
	}
	return &KindLimiters{limiters: limiters}
}

// Wait blocks until the kind's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (kl *KindLimiters) Wait(ctx context.Context, k domain.Kind) error {
	l, ok := kl.limiters[k]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
