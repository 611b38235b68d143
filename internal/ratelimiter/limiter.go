package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// ChannelLimiters holds one token bucket per delivery channel so a slow or
// strict provider on one channel never throttles the others.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New creates a limiter allowing ratePerSec sends per second on every
// channel, with burst equal to the rate. A non-positive rate disables limiting.
func New(ratePerSec int) *ChannelLimiters {
	r, burst := rate.Limit(ratePerSec), ratePerSec
	if ratePerSec <= 0 {
		r, burst = rate.Inf, 0
	}
	limiters := make(map[domain.Channel]*rate.Limiter, len(domain.AllChannels))
	for _, ch := range domain.AllChannels {
		limiters[ch] = rate.NewLimiter(r, burst)
	}
	return &ChannelLimiters{limiters: limiters}
}

// Wait blocks until the channel's limiter grants a token. It returns an
// error only if ctx is cancelled while waiting.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return ctx.Err()
	}
	return l.Wait(ctx)
}
