package main

import "time"

// Operational limits and timing constants governing the tracking/update
// pipeline and the per-guild quotas enforced by the cached store.
const (
	// channelLimit is the maximum number of tracked channels per guild.
	channelLimit = 5

	// gameLimit is the maximum number of watched games per channel.
	gameLimit = 100

	// targetLimit is the maximum number of watched targets per channel.
	targetLimit = 100

	// descriptionMaxLength is the longest embed description the chat
	// platform accepts; the renderer truncates to stay under it.
	descriptionMaxLength = 4096

	// nameTimeout bounds how long a caller waits for a username/game-name
	// lookup before receiving the "<id> (id)" fallback. The underlying
	// request is not cancelled — it continues in the background to warm
	// the cache for later callers.
	nameTimeout = 2000 * time.Millisecond

	// nameBatchingWindow and thumbnailBatchingWindow are the coalescing
	// windows for the two request batchers.
	nameBatchingWindow      = 100 * time.Millisecond
	thumbnailBatchingWindow = 100 * time.Millisecond

	// minTrackingDelay and minUpdateDelay are the floor durations of a
	// single loop cycle; a cycle that finishes early sleeps out the
	// remainder instead of immediately starting the next one.
	minTrackingDelay = 1 * time.Second
	minUpdateDelay   = 1 * time.Second

	// maxTrackingTasks bounds the concurrent per-game fan-out in the
	// tracking loop. Per-page player fan-out is left unbounded; it is
	// gated instead by the thumbnail batcher and rate limiter.
	maxTrackingTasks = 3

	// missingTargetTolerance is the number of consecutive tracking cycles
	// a target may go unseen before its last-known state is evicted.
	missingTargetTolerance = 3

	// statsCacheTTL is how long the memoized game/target counts are
	// considered fresh before the next stats read recomputes them.
	statsCacheTTL = 60 * time.Second

	// userAgent is sent on every upstream HTTP request.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36"
)

// Discord embed colors used by the command surface's reply helpers.
const (
	successColor = 0x28a745
	failureColor = 0xe74c3c
	infoColor    = 0x237feb
)
