// Package retry implements the four named backoff schedules the upstream
// facade and the send/edit state machine retry against: jittered Fibonacci
// backoff with a bounded attempt count, and an unbounded constant-delay
// schedule for reads the rest of the system cannot proceed without. Both
// schedules run on top of cenkalti/backoff/v4's BackOff/Retry machinery
// rather than a hand-rolled loop.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Predicate decides whether a failed attempt should be retried.
type Predicate func(err error) bool

// Always retries any non-nil error.
func Always(err error) bool { return err != nil }

// Policy is a backoff schedule: a sequence of delays between attempts and an
// optional cap on the number of attempts (0 means unbounded).
type Policy struct {
	min, max  time.Duration
	maxTimes  int
	jitter    bool
	unbounded bool
	fixed     time.Duration // used only when unbounded and not Fibonacci
}

// Roblox is the schedule used for upstream game-platform reads: fibonacci
// backoff, jittered, 100ms-3s, up to 15 attempts.
func Roblox() Policy {
	return Policy{min: 100 * time.Millisecond, max: 3000 * time.Millisecond, maxTimes: 15, jitter: true}
}

// Thumbnail is Roblox with one extra attempt, for known-transient thumbnail
// resolution failures.
func Thumbnail() Policy {
	return Policy{min: 100 * time.Millisecond, max: 3000 * time.Millisecond, maxTimes: 16, jitter: true}
}

// Discord is the schedule used around chat-platform send/edit/delete calls:
// fibonacci backoff, jittered, 100ms-500ms, up to 5 attempts.
func Discord() Policy {
	return Policy{min: 100 * time.Millisecond, max: 500 * time.Millisecond, maxTimes: 5, jitter: true}
}

// Infinite retries forever at a constant 1s delay; used only for reads
// whose absence would make a whole loop cycle meaningless.
func Infinite() Policy {
	return Policy{unbounded: true, fixed: 1 * time.Second}
}

// Do runs fn, retrying per the policy's schedule while retryable(err) is
// true, until success, ctx is done, or the attempt budget is exhausted. The
// last error is returned if attempts are exhausted without success.
func (p Policy) Do(ctx context.Context, retryable Predicate, fn func() error) error {
	var b backoff.BackOff
	if p.unbounded {
		b = backoff.NewConstantBackOff(p.fixed)
	} else {
		fib := &fibonacciBackOff{min: p.min, max: p.max, jitter: p.jitter}
		// maxTimes counts total attempts; WithMaxRetries counts retries
		// after the first, so the budget passed down is one less.
		b = backoff.WithMaxRetries(fib, uint64(p.maxTimes-1))
	}
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// fibonacciBackOff is a cenkalti/backoff/v4 BackOff implementing a jittered
// Fibonacci schedule clamped to [min, max].
type fibonacciBackOff struct {
	min, max time.Duration
	jitter   bool
	attempt  int
}

func (b *fibonacciBackOff) NextBackOff() time.Duration {
	d := fibonacciDelay(b.attempt, b.min, b.max)
	b.attempt++
	if b.jitter {
		// Full jitter in [0, d], matching backon's with_jitter() behavior of
		// randomizing within the computed delay rather than around it.
		d = time.Duration(rand.Int64N(int64(d) + 1))
	}
	if d < b.min {
		d = b.min
	}
	if d > b.max {
		d = b.max
	}
	return d
}

func (b *fibonacciBackOff) Reset() { b.attempt = 0 }

// fibonacciDelay returns min * fib(attempt+1), clamped to max. fib(1)=1,
// fib(2)=1, fib(3)=2, ... so the first retry waits ~min and the schedule
// grows sub-exponentially thereafter.
func fibonacciDelay(attempt int, min, max time.Duration) time.Duration {
	a, b := 1, 1
	for i := 0; i < attempt; i++ {
		a, b = b, a+b
	}
	d := min * time.Duration(a)
	if d > max {
		return max
	}
	return d
}
