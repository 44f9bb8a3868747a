package stats

import (
	"testing"
	"time"
)

func TestRecorderAveragesOverRollingWindow(t *testing.T) {
	r := New()
	for i := 1; i <= 3; i++ {
		r.RecordTrackingCycle(time.Duration(i) * time.Second)
	}
	snap := r.Snapshot()
	if snap.TrackingCycles != 3 {
		t.Fatalf("expected 3 cycles recorded, got %d", snap.TrackingCycles)
	}
	want := 2 * time.Second
	if snap.AvgTrackingCycle != want {
		t.Fatalf("expected average %v, got %v", want, snap.AvgTrackingCycle)
	}
}

func TestRecorderDropsOldestSampleBeyondWindow(t *testing.T) {
	r := New()
	for i := 0; i < rollingWindow; i++ {
		r.RecordTrackingCycle(10 * time.Second)
	}
	r.RecordTrackingCycle(0)

	snap := r.Snapshot()
	want := (9 * 10 * time.Second) / rollingWindow
	if snap.AvgTrackingCycle != want {
		t.Fatalf("expected average %v after window rollover, got %v", want, snap.AvgTrackingCycle)
	}
}

func TestSetWatchListSize(t *testing.T) {
	r := New()
	r.SetWatchListSize(4, 17)
	snap := r.Snapshot()
	if snap.WatchedGames != 4 || snap.WatchedTargets != 17 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
