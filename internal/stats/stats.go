// Package stats tracks rolling cycle-duration averages and memoized
// watch-list counts for the tracking and update loops, in the same
// atomic-counter style the teacher uses for its own traffic metrics.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

const rollingWindow = 10

// samples is a fixed-size ring buffer used to compute a simple moving
// average of the last rollingWindow durations.
type samples struct {
	mu     sync.Mutex
	values [rollingWindow]time.Duration
	count  int
	next   int
}

func (s *samples) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[s.next] = d
	s.next = (s.next + 1) % rollingWindow
	if s.count < rollingWindow {
		s.count++
	}
}

func (s *samples) average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < s.count; i++ {
		total += s.values[i]
	}
	return total / time.Duration(s.count)
}

// Recorder accumulates cycle-duration samples for the tracking and update
// loops plus a running count of completed cycles, exposed the way the
// teacher's Room exposes its traffic counters for RunMetrics to read.
type Recorder struct {
	trackingDurations samples
	updateDurations   samples

	trackingCycles atomic.Uint64
	updateCycles   atomic.Uint64

	gameCount   atomic.Int64
	targetCount atomic.Int64
}

// New constructs an empty Recorder.
func New() *Recorder {
	return &Recorder{}
}

// RecordTrackingCycle records one tracking loop cycle's wall-clock duration.
func (r *Recorder) RecordTrackingCycle(d time.Duration) {
	r.trackingDurations.record(d)
	r.trackingCycles.Add(1)
}

// RecordUpdateCycle records one update loop cycle's wall-clock duration.
func (r *Recorder) RecordUpdateCycle(d time.Duration) {
	r.updateDurations.record(d)
	r.updateCycles.Add(1)
}

// SetWatchListSize records the current game/target counts for the next
// metrics tick; called once per tracking cycle after loading the watch
// list, avoiding a store round trip on every RunMetrics tick.
func (r *Recorder) SetWatchListSize(games, targets int) {
	r.gameCount.Store(int64(games))
	r.targetCount.Store(int64(targets))
}

// Snapshot is a point-in-time read of every recorded stat.
type Snapshot struct {
	TrackingCycles     uint64
	UpdateCycles       uint64
	AvgTrackingCycle   time.Duration
	AvgUpdateCycle     time.Duration
	WatchedGames       int64
	WatchedTargets     int64
}

// Snapshot reads every counter and rolling average without blocking writers
// for more than the brief per-sample-buffer lock.
func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		TrackingCycles:   r.trackingCycles.Load(),
		UpdateCycles:     r.updateCycles.Load(),
		AvgTrackingCycle: r.trackingDurations.average(),
		AvgUpdateCycle:   r.updateDurations.average(),
		WatchedGames:     r.gameCount.Load(),
		WatchedTargets:   r.targetCount.Load(),
	}
}
