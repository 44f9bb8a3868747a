package main

import (
	"context"
	"log/slog"
	"time"

	"tracker/bot/internal/stats"
)

// RunMetrics logs tracking/update cycle stats every interval until ctx is
// canceled.
func RunMetrics(ctx context.Context, recorder *stats.Recorder, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := recorder.Snapshot()
			if snap.TrackingCycles > 0 || snap.UpdateCycles > 0 {
				log.Info("metrics",
					"games", snap.WatchedGames, "targets", snap.WatchedTargets,
					"tracking_cycles", snap.TrackingCycles, "avg_tracking", snap.AvgTrackingCycle,
					"update_cycles", snap.UpdateCycles, "avg_update", snap.AvgUpdateCycle,
				)
			}
		}
	}
}
