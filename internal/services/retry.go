// Package services – retry policy
//
// This file implements the bounded retry used around generation-agent calls.
// The policy is deliberately simple: a fixed number of attempts with a fixed
// delay between them, honoring context cancellation while waiting.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds repeated attempts of an operation.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// Delay is the fixed pause between consecutive attempts.
	Delay time.Duration
}

// Do runs fn up to MaxAttempts times, pausing Delay between attempts. It
// returns nil on the first success and the last error once the budget is
// spent. A canceled context aborts the wait and returns ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		retriesTotal.WithLabelValues(op).Inc()
		log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt).Int("max_attempts", attempts).
			Msg("attempt failed")
	}
	return lastErr
}
