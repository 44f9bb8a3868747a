package roblox

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"tracker/bot/internal/core"
	"tracker/bot/internal/ratelimit"
	"tracker/bot/internal/stats"
)

type fakeTargetSource struct {
	targets map[uint64][]uint64
}

func (f fakeTargetSource) LoadTargets(context.Context) (map[uint64][]uint64, error) {
	return f.targets, nil
}

type scanningClient struct {
	fakeClient
	serverID uuid.UUID
	token    string
}

func (c *scanningClient) FetchPublicServers(_ context.Context, _ uint64, cursor string) (ServerPage, error) {
	if cursor != "" {
		return ServerPage{}, nil
	}
	return ServerPage{
		Servers: []ServerEntry{{ID: c.serverID, PlayerTokens: []string{c.token}, Population: 1}},
	}, nil
}

func newTestTracker(client Client, source TargetSource, states *core.TargetStates) *Tracker {
	limiters := ratelimit.NewLimiters()
	facade := NewFacade(client, limiters, slog.New(slog.DiscardHandler))
	return NewTracker(facade, client, source, states, limiters, 3, stats.New(), slog.New(slog.DiscardHandler))
}

func TestTrackerRunCycleRecordsSighting(t *testing.T) {
	serverID := uuid.New()
	client := &scanningClient{fakeClient: *newFakeClient(), serverID: serverID, token: "tok-42"}
	client.userThumbs[42] = "https://thumbnails.example/abc"
	client.tokenThumbs["tok-42"] = "https://thumbnails.example/abc"

	source := fakeTargetSource{targets: map[uint64][]uint64{100: {42}}}
	states := core.NewTargetStates()

	tracker := newTestTracker(client, source, states)
	if err := tracker.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, ok := states.Get(42)
	if !ok {
		t.Fatalf("expected target 42 to be recorded as found")
	}
	if state.Game != 100 || state.Server != serverID {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestTrackerRunCycleSkipsGameWithNoResolvedThumbnails(t *testing.T) {
	serverID := uuid.New()
	client := &scanningClient{fakeClient: *newFakeClient(), serverID: serverID, token: "tok-42"}
	// Target 42 has no resolvable thumbnail, so the game's server scan
	// should never even run.
	source := fakeTargetSource{targets: map[uint64][]uint64{100: {42}}}
	states := core.NewTargetStates()

	tracker := newTestTracker(client, source, states)
	if err := tracker.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := states.Get(42); ok {
		t.Fatalf("expected no sighting recorded when the target's own thumbnail never resolved")
	}
}

func TestTrackerRunCycleEvictsUntrackedTargetsImmediately(t *testing.T) {
	client := &scanningClient{fakeClient: *newFakeClient()}
	states := core.NewTargetStates()
	states.Set(7, core.TargetState{Game: 1})

	source := fakeTargetSource{targets: map[uint64][]uint64{}}
	tracker := newTestTracker(client, source, states)

	if err := tracker.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := states.Get(7); ok {
		t.Fatalf("expected target 7 to be evicted once no longer in the watch list")
	}
}
