// Package backoff computes retry delays for transactions that lose an
// optimistic race and must be attempted again.
package backoff

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	mrand "math/rand/v2"
	"time"
)

const maxShift = 62

// Policy describes how a retried unit of work waits between attempts.
type Policy struct {
	// Base is the delay ceiling of the first retry. Zero retries immediately.
	Base time.Duration
	// Max caps every delay. Zero means uncapped.
	Max time.Duration
	// MaxAttempts bounds the total attempts, the first one included.
	MaxAttempts int
}

// Delay returns the jittered wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	ceiling := Exponential(p.Base, attempt)
	if p.Max > 0 && ceiling > p.Max {
		ceiling = p.Max
	}

	return FullJitter(ceiling)
}

// Allows reports whether another attempt may follow the given number of
// attempts already made.
func (p Policy) Allows(made int) bool {
	if p.MaxAttempts <= 0 {
		return made < 1
	}

	return made < p.MaxAttempts
}

// Exponential returns base * 2^attempt, saturating instead of overflowing.
// Negative attempts count as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	attempt = min(max(attempt, 0), maxShift)
	multiplier := int64(1) << attempt

	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return base * time.Duration(multiplier)
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return time.Duration(fallbackRand(int64(delay)))
	}

	return time.Duration(n.Int64())
}

// fallbackRand seeds a PRNG from crypto/rand, or settles on the midpoint
// when no entropy is available at all.
func fallbackRand(upper int64) int64 {
	var seed [8]byte

	if _, err := rand.Read(seed[:]); err != nil {
		return upper / 2
	}

	rng := mrand.New(mrand.NewPCG(binary.LittleEndian.Uint64(seed[:]), 0)) // #nosec G404 -- crypto/rand unavailable

	return rng.Int64N(upper)
}

// ExponentialWithJitter is FullJitter(Exponential(base, attempt)).
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	return FullJitter(Exponential(base, attempt))
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	}
}
