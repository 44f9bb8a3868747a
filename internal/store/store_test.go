package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracker.sqlite")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestInitializeAndGetChannel(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	cc, err := st.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	defer st.ReleaseChannel(cc)

	if cc.Guild != 1 {
		t.Fatalf("expected guild 1, got %d", cc.Guild)
	}
	if cc.HasMessage {
		t.Fatalf("expected no message set on a fresh channel")
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := st.Initialize(ctx, 100, 1); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializeEnforcesChannelLimit(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := uint64(0); i < channelLimit; i++ {
		if err := st.Initialize(ctx, 100+i, 1); err != nil {
			t.Fatalf("initialize channel %d: %v", i, err)
		}
	}

	err := st.Initialize(ctx, 999, 1)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitExceededError once the guild is at capacity, got %v", err)
	}
}

func TestGetChannelFailsWhenNotInitialized(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if _, err := st.GetChannel(context.Background(), 404); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestAddAndRemoveGames(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cc, err := st.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	defer st.ReleaseChannel(cc)

	n, err := st.AddGames(ctx, cc, []uint64{10, 20, 30})
	if err != nil {
		t.Fatalf("add games: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 games inserted, got %d", n)
	}

	games, err := st.Games(ctx, cc)
	if err != nil {
		t.Fatalf("games: %v", err)
	}
	if len(games) != 3 {
		t.Fatalf("expected 3 games cached, got %d", len(games))
	}

	if _, err := st.AddGames(ctx, cc, []uint64{10}); !errors.Is(err, ErrGamesNotInserted) {
		t.Fatalf("expected ErrGamesNotInserted re-adding an existing game, got %v", err)
	}

	if err := st.RemoveGames(ctx, cc, []uint64{10}); err != nil {
		t.Fatalf("remove games: %v", err)
	}
	games, err = st.Games(ctx, cc)
	if err != nil {
		t.Fatalf("games after remove: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("expected 2 games remaining, got %d", len(games))
	}

	if err := st.RemoveGames(ctx, cc, []uint64{999}); !errors.Is(err, ErrGamesNotDeleted) {
		t.Fatalf("expected ErrGamesNotDeleted removing a non-member, got %v", err)
	}
}

func TestAddGamesEnforcesLimit(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cc, err := st.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	defer st.ReleaseChannel(cc)

	ids := make([]uint64, gameLimit+1)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}
	_, err = st.AddGames(ctx, cc, ids)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitExceededError exceeding the game limit, got %v", err)
	}
}

func TestClearTargets(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cc, err := st.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	defer st.ReleaseChannel(cc)

	if _, err := st.AddTargets(ctx, cc, []uint64{1, 2}); err != nil {
		t.Fatalf("add targets: %v", err)
	}
	if err := st.ClearTargets(ctx, cc); err != nil {
		t.Fatalf("clear targets: %v", err)
	}
	targets, err := st.Targets(ctx, cc)
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(targets) != 0 {
		t.Fatalf("expected no targets after clear, got %d", len(targets))
	}
	if err := st.ClearTargets(ctx, cc); !errors.Is(err, ErrTargetsNotDeleted) {
		t.Fatalf("expected ErrTargetsNotDeleted clearing an already-empty set, got %v", err)
	}
}

func TestSetMessageUpdatesCacheAndStore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cc, err := st.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	st.ReleaseChannel(cc)

	if err := st.SetMessage(ctx, 100, 555, true); err != nil {
		t.Fatalf("set message: %v", err)
	}

	cc2, err := st.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("get channel again: %v", err)
	}
	defer st.ReleaseChannel(cc2)
	if !cc2.HasMessage || cc2.Message != 555 {
		t.Fatalf("expected cached message 555, got %+v", cc2)
	}
}

func TestDeleteChannelRemovesRowAndCascades(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cc, err := st.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if _, err := st.AddGames(ctx, cc, []uint64{10}); err != nil {
		t.Fatalf("add games: %v", err)
	}
	if _, err := st.AddTargets(ctx, cc, []uint64{1}); err != nil {
		t.Fatalf("add targets: %v", err)
	}
	st.ReleaseChannel(cc)

	if err := st.DeleteChannel(ctx, 100); err != nil {
		t.Fatalf("delete channel: %v", err)
	}

	if _, err := st.GetChannel(ctx, 100); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after delete, got %v", err)
	}

	all, err := st.GetAllGamesAndTargets(ctx)
	if err != nil {
		t.Fatalf("get all games and targets: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected the cascaded game and target rows to be gone, got %v", all)
	}
}

func TestDeleteChannelFailsWhileReferenced(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cc, err := st.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	defer st.ReleaseChannel(cc)

	if err := st.DeleteChannel(ctx, 100); !errors.Is(err, ErrOperationPending) {
		t.Fatalf("expected ErrOperationPending while a reference is outstanding, got %v", err)
	}
}

func TestGetAllGamesAndTargetsIsDistinctAcrossChannels(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize channel 100: %v", err)
	}
	if err := st.Initialize(ctx, 200, 1); err != nil {
		t.Fatalf("initialize channel 200: %v", err)
	}

	cc1, _ := st.GetChannel(ctx, 100)
	cc2, _ := st.GetChannel(ctx, 200)
	defer st.ReleaseChannel(cc1)
	defer st.ReleaseChannel(cc2)

	if _, err := st.AddGames(ctx, cc1, []uint64{10}); err != nil {
		t.Fatalf("add games cc1: %v", err)
	}
	if _, err := st.AddTargets(ctx, cc1, []uint64{1}); err != nil {
		t.Fatalf("add targets cc1: %v", err)
	}
	if _, err := st.AddGames(ctx, cc2, []uint64{10}); err != nil {
		t.Fatalf("add games cc2: %v", err)
	}
	if _, err := st.AddTargets(ctx, cc2, []uint64{1}); err != nil {
		t.Fatalf("add targets cc2: %v", err)
	}

	all, err := st.GetAllGamesAndTargets(ctx)
	if err != nil {
		t.Fatalf("get all games and targets: %v", err)
	}
	if len(all[10]) != 1 || all[10][0] != 1 {
		t.Fatalf("expected the (game=10, target=1) pair to be deduplicated once, got %v", all[10])
	}
}

func TestGameAndTargetCountsAreMemoized(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Initialize(ctx, 100, 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cc, err := st.GetChannel(ctx, 100)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	defer st.ReleaseChannel(cc)
	if _, err := st.AddGames(ctx, cc, []uint64{10, 20}); err != nil {
		t.Fatalf("add games: %v", err)
	}

	n, err := st.GetGameCount(ctx)
	if err != nil {
		t.Fatalf("get game count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 games, got %d", n)
	}

	if _, err := st.AddGames(ctx, cc, []uint64{30}); err != nil {
		t.Fatalf("add games: %v", err)
	}
	n, err = st.GetGameCount(ctx)
	if err != nil {
		t.Fatalf("get game count again: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected the memoized count to still read 2 before the TTL elapses, got %d", n)
	}
}
