// Package retry provides a retry policy object and a generic execute-with-retry
// helper used by the fetch stages.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Strategy selects how the delay grows between attempts.
type Strategy string

// Supported strategies.
const (
	Fixed       Strategy = "fixed"
	Exponential Strategy = "exponential"
)

// ParseStrategy maps a config value to a Strategy, defaulting to Fixed.
func ParseStrategy(s string) Strategy {
	if Strategy(s) == Exponential {
		return Exponential
	}
	return Fixed
}

// Policy describes how many times to retry and how long to wait.
// MaxAttempts counts retries, so an operation runs at most MaxAttempts+1 times.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Strategy    Strategy
	MaxDelay    time.Duration
	Jitter      bool
}

// Backoff returns the wait before retry number attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Delay
	if p.Strategy == Exponential {
		scaled := float64(p.Delay) * math.Pow(2, float64(attempt-1))
		if p.MaxDelay > 0 && scaled > float64(p.MaxDelay) {
			scaled = float64(p.MaxDelay)
		}
		delay = time.Duration(scaled)
	}
	if p.Jitter && delay > 0 {
		delay = delay/2 + randomJitter(delay/2)
	}
	return delay
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Sleeper pauses between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper waits on a timer and aborts when ctx is done.
type TimerSleeper struct{}

// Sleep blocks for d or until ctx is canceled.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
