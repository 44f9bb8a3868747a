package roblox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tracker/bot/internal/ratelimit"
)

var errGameNotFound = errors.New("game not found")

type fakeClient struct {
	mu            sync.Mutex
	usernameCalls int32
	names         map[uint64]string
	gameNames     map[uint64]string
	userThumbs    map[uint64]string
	tokenThumbs   map[string]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		names:       make(map[uint64]string),
		gameNames:   make(map[uint64]string),
		userThumbs:  make(map[uint64]string),
		tokenThumbs: make(map[string]string),
	}
}

func (f *fakeClient) FetchUsernames(_ context.Context, ids []uint64) (map[uint64]string, error) {
	atomic.AddInt32(&f.usernameCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]string)
	for _, id := range ids {
		if name, ok := f.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (f *fakeClient) FetchGameName(_ context.Context, gameID uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.gameNames[gameID]
	if !ok {
		return "", errGameNotFound
	}
	return name, nil
}

func (f *fakeClient) FetchThumbnails(_ context.Context, inputs []ThumbnailInput) ([]BatchThumbnail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]BatchThumbnail, len(inputs))
	for i, in := range inputs {
		if in.Kind == ThumbnailByToken {
			out[i] = BatchThumbnail{URL: f.tokenThumbs[in.Token]}
			continue
		}
		out[i] = BatchThumbnail{URL: f.userThumbs[in.UserID]}
	}
	return out, nil
}

func (f *fakeClient) FetchPublicServers(context.Context, uint64, string) (ServerPage, error) {
	return ServerPage{}, nil
}

func newTestFacade(client Client) *Facade {
	limiters := ratelimit.NewLimiters()
	return NewFacade(client, limiters, slog.New(slog.DiscardHandler))
}

func TestGetUsernameResolvesAndCaches(t *testing.T) {
	client := newFakeClient()
	client.names[1] = "alice"
	f := newTestFacade(client)

	got := f.GetUsername(context.Background(), 1)
	if got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}

	got = f.GetUsername(context.Background(), 1)
	if got != "alice" {
		t.Fatalf("expected cached alice, got %q", got)
	}
	if atomic.LoadInt32(&client.usernameCalls) != 1 {
		t.Fatalf("expected exactly one upstream call due to caching, got %d", client.usernameCalls)
	}
}

func TestGetUsernameFallsBackForUnknownID(t *testing.T) {
	client := newFakeClient()
	f := newTestFacade(client)

	got := f.GetUsername(context.Background(), 999)
	if got != "999 (id)" {
		t.Fatalf("expected fallback placeholder, got %q", got)
	}
}

func TestGetUsernameCoalescesConcurrentCallers(t *testing.T) {
	client := newFakeClient()
	client.names[1] = "alice"
	f := newTestFacade(client)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.GetUsername(context.Background(), 1)
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&client.usernameCalls) != 1 {
		t.Fatalf("expected concurrent callers for the same ID to coalesce, got %d calls", client.usernameCalls)
	}
}

func TestThumbnailsMatchByURLEquality(t *testing.T) {
	client := newFakeClient()
	client.userThumbs[42] = "https://thumbnails.example/abc"
	client.tokenThumbs["tok-1"] = "https://thumbnails.example/abc"
	client.tokenThumbs["tok-2"] = "https://thumbnails.example/other"
	f := newTestFacade(client)

	userURL, err := f.GetThumbnailFromUserID(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matchURL, err := f.GetThumbnailFromToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matchURL != userURL {
		t.Fatalf("expected matching token's thumbnail URL to equal the target's, got %q vs %q", matchURL, userURL)
	}

	otherURL, err := f.GetThumbnailFromToken(context.Background(), "tok-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otherURL == userURL {
		t.Fatalf("expected unrelated token's thumbnail URL not to match the target's")
	}
}

func TestFlushThumbnailCachesForcesReResolution(t *testing.T) {
	client := newFakeClient()
	client.tokenThumbs["tok-1"] = "https://thumbnails.example/abc"
	f := newTestFacade(client)

	first, _ := f.GetThumbnailFromToken(context.Background(), "tok-1")
	if first == "" {
		t.Fatalf("expected a resolved thumbnail URL")
	}

	f.FlushThumbnailCaches()
	client.tokenThumbs["tok-1"] = "https://thumbnails.example/changed"

	second, _ := f.GetThumbnailFromToken(context.Background(), "tok-1")
	if second != "https://thumbnails.example/changed" {
		t.Fatalf("expected flushed cache to re-resolve against the upstream, got %q", second)
	}
}

func TestGetGameNameResolvesWithinTimeout(t *testing.T) {
	client := newFakeClient()
	client.gameNames[5] = "Obby Tower"
	f := newTestFacade(client)

	start := time.Now()
	name := f.GetGameName(context.Background(), 5)
	if name != "Obby Tower" {
		t.Fatalf("expected resolved game name, got %q", name)
	}
	if time.Since(start) > nameTimeout {
		t.Fatalf("expected resolution well under the timeout for a responsive fake client")
	}
}

func TestGetGameNameFallsBackForUnknownID(t *testing.T) {
	client := newFakeClient()
	f := newTestFacade(client)

	name := f.GetGameName(context.Background(), 999)
	if name != "999 (id)" {
		t.Fatalf("expected fallback placeholder, got %q", name)
	}
}
