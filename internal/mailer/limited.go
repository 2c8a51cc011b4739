package mailer

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// RateLimited caps outgoing mail at a steady rate shared by every worker in
// the process. Burst equals the per-second rate so no capacity is saved up
// beyond one second's worth.
type RateLimited struct {
	next    Sender
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a limiter of perSecond messages per second.
// A non-positive rate disables limiting.
func NewRateLimited(next Sender, perSecond float64) *RateLimited {
	if perSecond <= 0 {
		return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := int(math.Ceil(perSecond))
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Send blocks until the limiter grants a token. It returns an error without
// sending only if ctx is done while waiting.
func (s *RateLimited) Send(ctx context.Context, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.next.Send(ctx, msg)
}
