// Package batch coalesces many concurrent callers keyed on a single input
// type into one upstream call per trigger, amortising per-request overhead
// the way the username and thumbnail upstream endpoints require.
package batch

import (
	"context"
	"sync"
	"time"
)

// Processor resolves a whole batch of inputs to positional outputs. It must
// never block past what's needed to make the call; any per-input failure
// should be encoded into V rather than returned as an error, since a
// batcher has no way to attribute a single upstream error to one caller.
type Processor[K comparable, V any] func(ctx context.Context, inputs []K) []V

// Batcher groups Add calls arriving within a time window (or until maxBatch
// inputs have queued, whichever comes first) into a single Processor call.
type Batcher[K comparable, V any] struct {
	maxBatch int
	window   time.Duration
	process  Processor[K, V]

	mu      sync.Mutex
	pending []entry[K, V]
	timer   *time.Timer
}

type entry[K comparable, V any] struct {
	input  K
	result chan V
}

// New constructs a batcher that flushes at maxBatch queued inputs or after
// window since the first input in the current batch was enqueued.
func New[K comparable, V any](maxBatch int, window time.Duration, process Processor[K, V]) *Batcher[K, V] {
	return &Batcher[K, V]{maxBatch: maxBatch, window: window, process: process}
}

// Add enqueues input and blocks until its batch has been processed or ctx is
// done. A context deadline only abandons this caller's wait — the batch
// this input joined still runs to completion and (if this is the last
// pending caller to abandon) still issues its upstream call.
func (b *Batcher[K, V]) Add(ctx context.Context, input K) (V, error) {
	e := entry[K, V]{input: input, result: make(chan V, 1)}

	b.mu.Lock()
	b.pending = append(b.pending, e)
	shouldFlushNow := len(b.pending) >= b.maxBatch
	if len(b.pending) == 1 && !shouldFlushNow {
		b.timer = time.AfterFunc(b.window, b.flush)
	}
	b.mu.Unlock()

	if shouldFlushNow {
		b.flush()
	}

	var zero V
	select {
	case v := <-e.result:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// flush takes whatever is currently pending and issues one Processor call
// for it. It is safe to call concurrently with Add and with itself; the
// lock only protects the hand-off of the pending slice.
func (b *Batcher[K, V]) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	inputs := make([]K, len(batch))
	for i, e := range batch {
		inputs[i] = e.input
	}

	results := b.process(context.Background(), inputs)
	for i, e := range batch {
		if i < len(results) {
			e.result <- results[i]
		} else {
			var zero V
			e.result <- zero
		}
	}
}
