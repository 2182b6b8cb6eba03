// Package retry implements the Retry Policy (spec.md §4.E): exponential
// backoff with a ceiling, and a closed allowlist of retryable failures. The
// delay curve is computed by replaying
// github.com/cenkalti/backoff/v5's ExponentialBackOff rather than
// hand-rolling exponentiation.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config carries the four knobs named in spec.md §4.E.
type Config struct {
	Base       time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		Base:       time.Second,
		Multiplier: 2,
		MaxDelay:   60 * time.Second,
		MaxRetries: 3,
	}
}

// retryableStatus is the closed allowlist of HTTP status codes eligible for
// retry.
var retryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryableStatus reports whether status belongs to the closed retryable
// allowlist.
func IsRetryableStatus(status int) bool {
	return retryableStatus[status]
}

// IsRetryableErr reports whether err represents a retryable transport
// failure: a network timeout. All other errors are terminal.
func IsRetryableErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Policy computes retry delays per Config.
type Policy struct {
	cfg Config
}

func New(cfg Config) *Policy {
	if cfg.Base <= 0 {
		cfg.Base = time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Policy{cfg: cfg}
}

// Delay returns delay(attempt) = min(base * multiplier^attempt, max_delay).
// delay(0) is exactly base, with no jitter, so retry timing stays testable
// and deterministic.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	eb := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.Base,
		RandomizationFactor: 0,
		Multiplier:          p.cfg.Multiplier,
		MaxInterval:         p.cfg.MaxDelay,
	}
	eb.Reset()

	var delay time.Duration
	for i := 0; i <= attempt; i++ {
		d := eb.NextBackOff()
		if d == backoff.Stop {
			delay = p.cfg.MaxDelay
			break
		}
		delay = d
	}
	if delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	return delay
}

// MaxRetries is the configured retry ceiling.
func (p *Policy) MaxRetries() int {
	return p.cfg.MaxRetries
}

// Do runs operation, retrying on a retryable failure up to MaxRetries times,
// sleeping Delay(attempt) between attempts, until ctx is cancelled.
// classify reports whether an error is retryable (callers compose
// IsRetryableStatus/IsRetryableErr as needed for their own error shapes).
func (p *Policy) Do(ctx context.Context, classify func(error) bool, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) || attempt == p.cfg.MaxRetries {
			return lastErr
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
