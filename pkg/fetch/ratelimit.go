package fetch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
)

// RateLimiter is the token bucket shared by every request of one site run.
// It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	log     *logrus.Entry
}

// NewRateLimiter creates a limiter refilling at cfg.RPS tokens per second with
// capacity cfg.Burst. RPS <= 0 disables throttling. A decoded config always has
// Burst >= 1; a zero Burst only comes from a literal and means "unset".
func NewRateLimiter(cfg config.RateLimitConfig, log *logrus.Entry) *RateLimiter {
	if cfg.RPS <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1), log: log}
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = max(1, int(cfg.RPS))
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst), log: log}
}

// Unlimited reports whether throttling is disabled.
func (rl *RateLimiter) Unlimited() bool {
	return rl.limiter.Limit() == rate.Inf
}

// Acquire blocks until one token is available and consumes it.
// If ctx ends first the reserved token is returned to the bucket.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := rl.limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	rl.log.WithField("sleep", delay).Debug("Rate limit reached; sleeping")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
