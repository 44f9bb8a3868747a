package roblox

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"tracker/bot/internal/batch"
	"tracker/bot/internal/ratelimit"
	"tracker/bot/internal/retry"
)

const (
	usernameCacheTTL       = 24 * time.Hour
	usernameCacheMaxItems  = 100000
	gameNameCacheTTL       = 24 * time.Hour
	gameNameCacheMaxItems  = 100000
	thumbnailCacheTTL      = 365 * 24 * time.Hour // effectively unbounded; flushed every tracking cycle instead
	thumbnailCacheMaxItems = 100000

	nameTimeout        = 2000 * time.Millisecond
	usernameBatchMax   = 200
	usernameBatchWait  = 100 * time.Millisecond
	thumbnailBatchMax  = 100
	thumbnailBatchWait = 100 * time.Millisecond
)

// Facade exposes the four memoized upstream accessors the tracking and
// update loops depend on. Every accessor checks its cache, otherwise joins
// (or starts) a singleflight-coalesced resolution. The two name accessors
// give up waiting after nameTimeout even though the resolution itself keeps
// running in the background to populate the cache for the next caller; the
// thumbnail accessors wait for the result or for ctx to be done.
type Facade struct {
	client    Client
	limiters  *ratelimit.Limiters
	log       *slog.Logger

	usernames  *ttlCache[uint64, string]
	gameNames  *ttlCache[uint64, string]
	thumbnails *ttlCache[string, string]

	usernameGroup  singleflight.Group
	gameNameGroup  singleflight.Group
	thumbnailGroup singleflight.Group

	usernameBatcher  *batch.Batcher[uint64, string]
	thumbnailBatcher *batch.Batcher[ThumbnailInput, BatchThumbnail]
}

// NewFacade wires the caches, batchers and rate limiters around client.
func NewFacade(client Client, limiters *ratelimit.Limiters, log *slog.Logger) *Facade {
	f := &Facade{
		client:     client,
		limiters:   limiters,
		log:        log,
		usernames:  newTTLCache[uint64, string](usernameCacheTTL, usernameCacheMaxItems),
		gameNames:  newTTLCache[uint64, string](gameNameCacheTTL, gameNameCacheMaxItems),
		thumbnails: newTTLCache[string, string](thumbnailCacheTTL, thumbnailCacheMaxItems),
	}
	f.usernameBatcher = batch.New(usernameBatchMax, usernameBatchWait, f.processUsernames)
	f.thumbnailBatcher = batch.New(thumbnailBatchMax, thumbnailBatchWait, f.processThumbnails)
	return f
}

// processUsernames is the username Batcher's Processor: it always returns
// one string per input, falling back to the "<id> (id)" placeholder for any
// id the upstream didn't resolve rather than surfacing a batch-wide error.
func (f *Facade) processUsernames(ctx context.Context, ids []uint64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = fallbackName(id)
	}

	resolved := make(map[uint64]string)
	err := retry.Roblox().Do(ctx, RetryableAPIError, func() error {
		r, err := f.client.FetchUsernames(ctx, ids)
		if err != nil {
			return err
		}
		resolved = r
		return nil
	})
	if err != nil {
		f.log.Warn("username batch lookup failed", "error", err, "count", len(ids))
		return out
	}
	for i, id := range ids {
		if name, ok := resolved[id]; ok {
			out[i] = name
			f.usernames.set(id, name)
		}
	}
	return out
}

// processThumbnails is the thumbnail Batcher's Processor. It acquires
// exactly one rate-limit token per batch call rather than one per input,
// since the upstream charges per request, not per item requested.
func (f *Facade) processThumbnails(ctx context.Context, inputs []ThumbnailInput) []BatchThumbnail {
	out := make([]BatchThumbnail, len(inputs))

	if err := f.limiters.Thumbnails.AcquireOne(ctx); err != nil {
		for i := range out {
			out[i] = BatchThumbnail{Err: err}
		}
		return out
	}

	err := retry.Thumbnail().Do(ctx, RetryableAPIError, func() error {
		results, err := f.client.FetchThumbnails(ctx, inputs)
		if err != nil {
			return err
		}
		out = results
		return nil
	})
	if err != nil {
		for i := range out {
			out[i] = BatchThumbnail{Err: err}
		}
		return out
	}

	for i, in := range inputs {
		if out[i].Err == nil && out[i].URL != "" {
			f.thumbnails.set(thumbnailKey(in), out[i].URL)
		}
	}
	return out
}

func thumbnailKey(in ThumbnailInput) string {
	if in.Kind == ThumbnailByToken {
		return "t:" + in.Token
	}
	return "u:" + strconv.FormatUint(in.UserID, 10)
}

// GetUsername resolves a user ID to its current display name, falling back
// to the "<id> (id)" placeholder if resolution doesn't complete within
// nameTimeout. The underlying batch call is never cancelled by the
// timeout — it keeps running so the cache is warm for the next caller.
func (f *Facade) GetUsername(ctx context.Context, userID uint64) string {
	if v, ok := f.usernames.get(userID); ok {
		return v
	}

	key := strconv.FormatUint(userID, 10)
	resultCh := f.usernameGroup.DoChan(key, func() (any, error) {
		return f.usernameBatcher.Add(context.Background(), userID)
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return fallbackName(userID)
		}
		return res.Val.(string)
	case <-time.After(nameTimeout):
		return fallbackName(userID)
	case <-ctx.Done():
		return fallbackName(userID)
	}
}

// GetGameName resolves a game ID to its current display name with the same
// timeout-with-background-fill contract as GetUsername. Game name lookups
// are not batched upstream, so each miss issues its own retried request.
func (f *Facade) GetGameName(ctx context.Context, gameID uint64) string {
	if v, ok := f.gameNames.get(gameID); ok {
		return v
	}

	key := strconv.FormatUint(gameID, 10)
	resultCh := f.gameNameGroup.DoChan(key, func() (any, error) {
		var name string
		err := retry.Roblox().Do(context.Background(), RetryableAPIError, func() error {
			n, err := f.client.FetchGameName(context.Background(), gameID)
			if err != nil {
				return err
			}
			name = n
			return nil
		})
		if err != nil {
			return "", err
		}
		f.gameNames.set(gameID, name)
		return name, nil
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return fallbackName(gameID)
		}
		return res.Val.(string)
	case <-time.After(nameTimeout):
		return fallbackName(gameID)
	case <-ctx.Done():
		return fallbackName(gameID)
	}
}

// GetThumbnailFromUserID resolves a target's avatar thumbnail by user ID.
func (f *Facade) GetThumbnailFromUserID(ctx context.Context, userID uint64) (string, error) {
	return f.getThumbnail(ctx, ThumbnailInput{Kind: ThumbnailByUserID, UserID: userID})
}

// GetThumbnailFromToken resolves a target's avatar thumbnail by the
// per-server player token observed while scanning a server's player list.
func (f *Facade) GetThumbnailFromToken(ctx context.Context, token string) (string, error) {
	return f.getThumbnail(ctx, ThumbnailInput{Kind: ThumbnailByToken, Token: token})
}

func (f *Facade) getThumbnail(ctx context.Context, in ThumbnailInput) (string, error) {
	key := thumbnailKey(in)
	if v, ok := f.thumbnails.get(key); ok {
		return v, nil
	}

	resultCh := f.thumbnailGroup.DoChan(key, func() (any, error) {
		return f.thumbnailBatcher.Add(context.Background(), in)
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return "", res.Err
		}
		bt := res.Val.(BatchThumbnail)
		return bt.URL, bt.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// FlushThumbnailCaches discards every cached thumbnail URL. The tracking
// loop calls this at the start of every cycle, since a server's player
// tokens are only valid for the lifetime of that server instance and a
// stale thumbnail URL is worse than re-resolving it.
func (f *Facade) FlushThumbnailCaches() {
	f.thumbnails.flush()
}
