package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when code attempts arrive faster than allowed.
var ErrThrottled = errors.New("auth: too many authorization attempts")

// ThrottledValidator bounds how often codes may be tried, across all slots.
type ThrottledValidator struct {
	next CodeValidator
	lim  *rate.Limiter
}

// NewThrottledValidator allows burst attempts, refilled at one per interval.
func NewThrottledValidator(next CodeValidator, interval time.Duration, burst int) *ThrottledValidator {
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledValidator{next: next, lim: rate.NewLimiter(rate.Every(interval), burst)}
}

// ValidateToken implements CodeValidator.
func (v *ThrottledValidator) ValidateToken(ctx context.Context, slot, token string) (string, error) {
	if !v.lim.Allow() {
		return "", ErrThrottled
	}
	return v.next.ValidateToken(ctx, slot, token)
}
