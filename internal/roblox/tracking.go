package roblox

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tracker/bot/internal/core"
	"tracker/bot/internal/ratelimit"
	"tracker/bot/internal/retry"
	"tracker/bot/internal/stats"
)

const maxTrackingTasks = 3

// TargetSource supplies the set of watched games and, per game, the target
// user IDs to look for. It is implemented by the store package; defined
// here so the tracking loop never imports store directly.
type TargetSource interface {
	LoadTargets(ctx context.Context) (map[uint64][]uint64, error)
}

// Tracker runs the periodic scan of every watched game's public servers,
// looking for watched targets and recording where each one was last seen.
type Tracker struct {
	facade   *Facade
	client   Client
	source   TargetSource
	states   *core.TargetStates
	limiters *ratelimit.Limiters
	stats    *stats.Recorder
	log      *slog.Logger

	tolerance int
}

// NewTracker wires a Tracker around an already-constructed Facade, Client
// and TargetStates. recorder receives the watch-list size after every
// LoadTargets call so /stats and the metrics ticker report live counts.
func NewTracker(facade *Facade, client Client, source TargetSource, states *core.TargetStates, limiters *ratelimit.Limiters, tolerance int, recorder *stats.Recorder, log *slog.Logger) *Tracker {
	return &Tracker{facade: facade, client: client, source: source, states: states, limiters: limiters, tolerance: tolerance, stats: recorder, log: log}
}

// RunCycle executes one full tracking cycle: flush stale thumbnail
// entries, load the current watch list, resolve each target's own
// thumbnail, fan out across games (bounded to maxTrackingTasks concurrent
// games) to scan public servers for a matching thumbnail, and fold the
// results into the shared TargetStates before evicting anything that's
// gone missing for too long.
func (t *Tracker) RunCycle(ctx context.Context) error {
	t.facade.FlushThumbnailCaches()

	var targetsByGame map[uint64][]uint64
	err := retry.Infinite().Do(ctx, retry.Always, func() error {
		loaded, err := t.source.LoadTargets(ctx)
		if err != nil {
			return err
		}
		targetsByGame = loaded
		return nil
	})
	if err != nil {
		return err
	}

	allTargets := make(map[uint64]struct{})
	for _, targets := range targetsByGame {
		for _, id := range targets {
			allTargets[id] = struct{}{}
		}
	}
	t.stats.SetWatchListSize(len(targetsByGame), len(allTargets))

	found := make(map[uint64]struct{})
	var foundMu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxTrackingTasks)

	for gameID, targets := range targetsByGame {
		gameID, targets := gameID, targets

		group.Go(func() error {
			targetThumbnails := t.resolveTargetThumbnails(gctx, targets)
			if len(targetThumbnails) == 0 {
				return nil
			}

			t.facade.GetGameName(gctx, gameID)

			sightings, err := t.scanGame(gctx, gameID, targetThumbnails)
			if err != nil {
				t.log.Warn("game scan failed", "game", gameID, "error", err)
				return nil
			}
			foundMu.Lock()
			for userID, serverID := range sightings {
				found[userID] = struct{}{}
				t.states.Set(userID, core.TargetState{Game: gameID, Server: serverID})
			}
			foundMu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	t.states.Cleanup(allTargets, found, t.tolerance)
	return nil
}

// resolveTargetThumbnails resolves each target's own avatar thumbnail
// concurrently, dropping any target whose thumbnail could not be
// resolved. The result maps thumbnail URL back to the target it belongs
// to, since a server's player tokens only reveal thumbnail URLs, never
// user IDs directly.
func (t *Tracker) resolveTargetThumbnails(ctx context.Context, targets []uint64) map[string]uint64 {
	out := make(map[string]uint64, len(targets))
	var mu sync.Mutex

	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			url, err := t.facade.GetThumbnailFromUserID(ctx, target)
			if err != nil || url == "" {
				return
			}
			mu.Lock()
			out[url] = target
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// scanGame pages through a single game's public servers (descending by
// population), resolving each observed player token's thumbnail and
// checking it against targetThumbnails. Pagination for this game stops at
// the first non-retryable error; rate-limit/transport errors are retried
// under the roblox policy before giving up the page.
func (t *Tracker) scanGame(ctx context.Context, gameID uint64, targetThumbnails map[string]uint64) (map[uint64]uuid.UUID, error) {
	found := make(map[uint64]uuid.UUID)
	var foundMu sync.Mutex

	cursor := ""
	for {
		if err := t.limiters.Servers.AcquireOne(ctx); err != nil {
			return found, err
		}

		var page ServerPage
		err := retry.Roblox().Do(ctx, RetryableAPIError, func() error {
			p, err := t.client.FetchPublicServers(ctx, gameID, cursor)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			// Non-retryable (or exhausted) error aborts this game's
			// pagination for the cycle without failing the whole scan.
			return found, nil
		}

		group, gctx := errgroup.WithContext(ctx)
		for _, server := range page.Servers {
			server := server
			for _, token := range server.PlayerTokens {
				token := token
				group.Go(func() error {
					url, err := t.facade.GetThumbnailFromToken(gctx, token)
					if err != nil || url == "" {
						return nil
					}
					userID, ok := targetThumbnails[url]
					if !ok {
						return nil
					}
					foundMu.Lock()
					found[userID] = server.ID
					foundMu.Unlock()
					return nil
				})
			}
		}
		if err := group.Wait(); err != nil {
			return found, err
		}

		if page.NextCursor == "" || len(found) == len(targetThumbnails) {
			break
		}
		cursor = page.NextCursor
	}
	return found, nil
}
