// Package retry paces repeated checks of a long-running remote operation.
// It is used for status polling, never for re-issuing a failed request.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

type Backoff struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	Logger         *zap.Logger
}

func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     1.5,
		JitterFraction: 0.1,
		Logger:         zap.NewNop(),
	}
}

func (b Backoff) withDefaults() Backoff {
	if b.InitialDelay <= 0 {
		b.InitialDelay = 250 * time.Millisecond
	}
	if b.MaxDelay < b.InitialDelay {
		b.MaxDelay = b.InitialDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1.5
	}
	if b.Logger == nil {
		b.Logger = zap.NewNop()
	}
	return b
}

// Delay returns the pause after the given zero-based attempt, without jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	d := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt))
	return time.Duration(math.Min(d, float64(b.MaxDelay)))
}

// Until calls check until it reports done, returns an error, or ctx ends.
// An error from check stops polling immediately.
func Until(ctx context.Context, b Backoff, check func(ctx context.Context) (bool, error)) error {
	b = b.withDefaults()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			if attempt > 0 {
				b.Logger.Debug("Poll completed", zap.Int("checks", attempt+1))
			}
			return nil
		}

		delay := addJitter(b.Delay(attempt), b.JitterFraction)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}

	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	if rand.Intn(2) == 0 {
		return duration - jitter
	}
	return duration + jitter
}
