// Package limiter paces outbound provider requests.
package limiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter blocks until the caller may issue one more request.
type Limiter interface {
	// Wait returns when a request is allowed or ctx is done.
	Wait(ctx context.Context) error
}

// New returns a token bucket limiter allowing rps requests per second with the given burst.
// A non-positive rps disables pacing.
func New(rps float64, burst int) Limiter {
	if rps <= 0 {
		return Unlimited{}
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Unlimited never blocks except on a cancelled context.
type Unlimited struct{}

// Wait implements Limiter.
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
