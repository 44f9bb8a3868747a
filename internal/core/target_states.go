// Package core holds the two in-memory state tables shared between the
// tracking loop and the update loop: the global target→location map and the
// per-channel last-published view derived from it.
package core

import (
	"sync"

	"github.com/google/uuid"
)

// TargetState is the last known location of a tracked target: which game and
// which public server instance it was last seen in.
type TargetState struct {
	Game   uint64
	Server uuid.UUID
}

// TargetStates is the process-wide target→TargetState table. The tracking
// loop is its only writer, but many of its own sub-goroutines write
// concurrently for distinct targets while the update loop reads concurrently
// from a separate goroutine; a single RWMutex guards the whole map, mirroring
// how the teacher guards its own shared presence map with one lock per
// struct rather than per-key sharding.
type TargetStates struct {
	mu      sync.RWMutex
	states  map[uint64]TargetState
	missing map[uint64]int
}

// NewTargetStates constructs an empty table.
func NewTargetStates() *TargetStates {
	return &TargetStates{
		states:  make(map[uint64]TargetState),
		missing: make(map[uint64]int),
	}
}

// Set records target as last seen in the given game/server. Safe for
// concurrent calls on distinct targets.
func (t *TargetStates) Set(target uint64, state TargetState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[target] = state
}

// Get returns the last known state of target, if any.
func (t *TargetStates) Get(target uint64) (TargetState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.states[target]
	return state, ok
}

// Snapshot returns a shallow copy of the table, safe to range over without
// holding the lock.
func (t *TargetStates) Snapshot() map[uint64]TargetState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uint64]TargetState, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}

// Cleanup applies the end-of-cycle retention rule: a state entry for a
// target no longer in allTargets is evicted immediately; a state entry for a
// target still in allTargets but absent from found survives until it has
// been missing for more than tolerance consecutive cycles.
func (t *TargetStates) Cleanup(allTargets, found map[uint64]struct{}, tolerance int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for target := range t.states {
		if _, tracked := allTargets[target]; !tracked {
			delete(t.states, target)
			delete(t.missing, target)
		}
	}
	for target := range t.missing {
		if _, tracked := allTargets[target]; !tracked {
			delete(t.missing, target)
		}
	}

	for target := range allTargets {
		if _, ok := found[target]; ok {
			delete(t.missing, target)
			continue
		}
		t.missing[target]++
		if t.missing[target] > tolerance {
			delete(t.states, target)
			delete(t.missing, target)
		}
	}
}
