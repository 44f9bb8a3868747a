// Package roblox implements the upstream facade (memoized username/game
// name/thumbnail accessors) and the tracking loop that scans public game
// servers for watched targets.
package roblox

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ThumbnailKind distinguishes the two ways a thumbnail can be requested:
// by the target's own user ID, or by a per-server player token observed
// while scanning a game's public server list.
type ThumbnailKind int

const (
	ThumbnailByUserID ThumbnailKind = iota
	ThumbnailByToken
)

// ThumbnailInput is one item in a thumbnail batch request.
type ThumbnailInput struct {
	Kind   ThumbnailKind
	UserID uint64
	Token  string
}

// BatchThumbnail is the per-input result of a thumbnail batch call: either a
// resolved image URL, or the error that input failed with.
type BatchThumbnail struct {
	URL string
	Err error
}

// ServerEntry is one public server instance returned by server pagination.
type ServerEntry struct {
	ID           uuid.UUID
	PlayerTokens []string
	Population   int
}

// ServerPage is one page of a game's public server listing.
type ServerPage struct {
	Servers    []ServerEntry
	NextCursor string
}

// ErrRateLimited and ErrTransport classify upstream failures as retryable.
// Any other error (typed semantic 4xx responses) is treated as
// non-retryable, matching the spec's "retry rate-limit and transport
// errors, never retry typed semantic errors" rule.
var (
	ErrRateLimited = errors.New("roblox: rate limited")
	ErrTransport   = errors.New("roblox: transport error")
)

// RetryableAPIError is the default retry predicate for upstream API calls.
func RetryableAPIError(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport)
}

// fallbackName is the deterministic placeholder used whenever a name lookup
// cannot be completed within its deadline or ultimately fails.
func fallbackName(id uint64) string {
	return fmt.Sprintf("%d (id)", id)
}
