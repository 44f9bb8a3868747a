package main

import (
	"context"
	"log/slog"
	"time"

	"tracker/bot/internal/discordutil"
	"tracker/bot/internal/roblox"
	"tracker/bot/internal/stats"
)

// runTrackingLoop drives the tracking loop forever: one RunCycle per
// iteration, floor-delayed to minTrackingDelay and timed into recorder.
func runTrackingLoop(ctx context.Context, tracker *roblox.Tracker, recorder *stats.Recorder, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		if err := tracker.RunCycle(ctx); err != nil {
			log.Error("tracking cycle failed", "error", err)
		}
		recorder.RecordTrackingCycle(time.Since(start))

		sleepRemainder(ctx, start, minTrackingDelay)
	}
}

// runUpdateLoop drives the update loop forever: one RunCycle per iteration,
// floor-delayed to minUpdateDelay and timed into recorder.
func runUpdateLoop(ctx context.Context, updater *discordutil.Updater, recorder *stats.Recorder, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		if err := updater.RunCycle(ctx); err != nil {
			log.Error("update cycle failed", "error", err)
		}
		recorder.RecordUpdateCycle(time.Since(start))

		sleepRemainder(ctx, start, minUpdateDelay)
	}
}

// sleepRemainder blocks until start+floor has elapsed, or ctx is done,
// whichever comes first. A cycle that already ran long returns immediately.
func sleepRemainder(ctx context.Context, start time.Time, floor time.Duration) {
	remaining := floor - time.Since(start)
	if remaining <= 0 {
		return
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
