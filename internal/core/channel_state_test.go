package core

import (
	"testing"

	"github.com/google/uuid"
)

func set(ids ...uint64) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestProcessNewChannelWithNoSightingReportsChangeWithoutPing(t *testing.T) {
	cs := NewChannelStates()
	global := NewTargetStates()

	result := cs.Process(1, set(100), set(200), global)
	if !result.Changed {
		t.Fatalf("expected a brand-new channel state to report a change, got Changed=false")
	}
	if result.Ping {
		t.Fatalf("expected no ping for a channel with no sightings")
	}
	if len(result.States) != 0 {
		t.Fatalf("expected empty published state, got %v", result.States)
	}
}

func TestProcessTargetAppearsTriggersChangeAndPing(t *testing.T) {
	cs := NewChannelStates()
	global := NewTargetStates()

	server := uuid.New()
	global.Set(200, TargetState{Game: 100, Server: server})

	result := cs.Process(1, set(100), set(200), global)
	if !result.Changed || !result.Ping {
		t.Fatalf("expected change+ping on first sighting, got Changed=%v Ping=%v", result.Changed, result.Ping)
	}

	// A second cycle with the same location: no further change or ping.
	result = cs.Process(1, set(100), set(200), global)
	if result.Changed || result.Ping {
		t.Fatalf("expected no change/ping for a repeated sighting, got Changed=%v Ping=%v", result.Changed, result.Ping)
	}
}

func TestProcessTargetRelocatesTriggersChangeAndPing(t *testing.T) {
	cs := NewChannelStates()
	global := NewTargetStates()

	s1, s2 := uuid.New(), uuid.New()
	global.Set(200, TargetState{Game: 100, Server: s1})
	cs.Process(1, set(100), set(200), global)

	global.Set(200, TargetState{Game: 100, Server: s2})
	result := cs.Process(1, set(100), set(200), global)
	if !result.Changed || !result.Ping {
		t.Fatalf("expected change+ping on relocation, got Changed=%v Ping=%v", result.Changed, result.Ping)
	}
}

func TestProcessTargetOutsideTrackedGameIsTreatedAsAbsent(t *testing.T) {
	cs := NewChannelStates()
	global := NewTargetStates()

	// First pass creates the channel state, which always reports a change.
	cs.Process(1, set(100), set(200), global)

	global.Set(200, TargetState{Game: 999, Server: uuid.New()})

	result := cs.Process(1, set(100), set(200), global)
	if result.Changed || result.Ping {
		t.Fatalf("sighting in an untracked game should be invisible to the channel, got Changed=%v Ping=%v", result.Changed, result.Ping)
	}
}

func TestProcessDroppedTargetTriggersChangeWithoutPing(t *testing.T) {
	cs := NewChannelStates()
	global := NewTargetStates()

	global.Set(200, TargetState{Game: 100, Server: uuid.New()})
	cs.Process(1, set(100), set(200), global)

	// Target removed from the channel's watch list.
	result := cs.Process(1, set(100), set(), global)
	if !result.Changed {
		t.Fatalf("expected change when a published target drops out of the watch list")
	}
	if result.Ping {
		t.Fatalf("removal should never trigger a ping")
	}
	if len(result.States) != 0 {
		t.Fatalf("expected published state cleared, got %v", result.States)
	}
}

func TestEvictStaleRemovesChannelsNotInLiveSet(t *testing.T) {
	cs := NewChannelStates()
	global := NewTargetStates()
	cs.Process(1, set(100), set(), global)
	cs.Process(2, set(100), set(), global)

	cs.EvictStale(set(1))

	if _, ok := cs.channels[2]; ok {
		t.Fatalf("expected channel 2 to be evicted")
	}
	if _, ok := cs.channels[1]; !ok {
		t.Fatalf("expected channel 1 to remain")
	}
}
