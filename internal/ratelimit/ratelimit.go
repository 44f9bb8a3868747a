// Package ratelimit provides leaky-bucket gates for the two upstream
// endpoint classes the tracking loop drives: server-listing pagination and
// avatar-thumbnail batches.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Bucket wraps golang.org/x/time/rate.Limiter to present the "refill N
// tokens every interval, capacity C, starts full" leaky-bucket shape used
// throughout the spec, rather than rate.Limiter's native tokens-per-second
// configuration.
type Bucket struct {
	limiter *rate.Limiter
}

// NewBucket builds a bucket that gains refill tokens every interval, holds
// at most capacity tokens, and starts full.
func NewBucket(interval time.Duration, refill, capacity int) *Bucket {
	perToken := interval / time.Duration(refill)
	limiter := rate.NewLimiter(rate.Every(perToken), capacity)
	// rate.NewLimiter starts full (tokens == burst), matching "initial(capacity)".
	return &Bucket{limiter: limiter}
}

// AcquireOne blocks until one token is available or ctx is done.
func (b *Bucket) AcquireOne(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Limiters bundles the two buckets the tracking loop acquires from.
type Limiters struct {
	Thumbnails *Bucket
	Servers    *Bucket
}

// NewLimiters builds the thumbnail and server buckets with the exact refill
// parameters the spec mandates.
func NewLimiters() *Limiters {
	return &Limiters{
		Thumbnails: NewBucket(1500*time.Millisecond, 50, 50),
		Servers:    NewBucket(3500*time.Millisecond, 10, 10),
	}
}
