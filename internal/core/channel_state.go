package core

import "sync"

// channelEntry is the last-published target→TargetState view for one
// channel, guarded by its own mutex so that concurrent processing of
// unrelated channels never contends on a shared lock.
type channelEntry struct {
	mu      sync.Mutex
	targets map[uint64]TargetState
}

// ChannelStates holds one channelEntry per tracked channel. Only the update
// loop's goroutine touches it; per-channel fan-out is unbounded, so the
// top-level map itself still needs its own lock to protect concurrent
// GetOrCreate calls for different channels.
type ChannelStates struct {
	mu       sync.Mutex
	channels map[uint64]*channelEntry
}

// NewChannelStates constructs an empty table.
func NewChannelStates() *ChannelStates {
	return &ChannelStates{channels: make(map[uint64]*channelEntry)}
}

// EvictStale drops every channel entry whose ID is not present in live,
// called once per update cycle after loading the current channel list.
func (c *ChannelStates) EvictStale(live map[uint64]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.channels {
		if _, ok := live[id]; !ok {
			delete(c.channels, id)
		}
	}
}

// getOrCreate returns the entry for channel, creating it if absent, and
// reports whether it was newly created this call.
func (c *ChannelStates) getOrCreate(channel uint64) (*channelEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.channels[channel]
	if ok {
		return entry, false
	}
	entry = &channelEntry{targets: make(map[uint64]TargetState)}
	c.channels[channel] = entry
	return entry, true
}

// ProcessResult reports whether the channel's rendered output changed and
// whether the change warrants a role ping.
type ProcessResult struct {
	Changed bool
	Ping    bool
	States  map[uint64]TargetState
}

// Process diffs one channel's tracked targets against the global target
// state table and updates the channel's last-published view in place. games
// and targets are the channel's current watch sets; a target whose current
// location is in a game the channel doesn't watch is treated as absent,
// exactly as if the target hadn't been found at all.
func (c *ChannelStates) Process(channel uint64, games, targets map[uint64]struct{}, global *TargetStates) ProcessResult {
	entry, isNew := c.getOrCreate(channel)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	changed := isNew

	for target := range entry.targets {
		if _, tracked := targets[target]; !tracked {
			delete(entry.targets, target)
			changed = true
		}
	}

	ping := false
	for target := range targets {
		current, ok := global.Get(target)
		if ok {
			if _, gameTracked := games[current.Game]; !gameTracked {
				ok = false
			}
		}
		old, hadOld := entry.targets[target]

		if isDifferent(hadOld, old, ok, current) {
			changed = true
		}
		if isPingTransition(hadOld, old, ok, current) {
			ping = true
		}

		if ok {
			entry.targets[target] = current
		} else if hadOld {
			delete(entry.targets, target)
		}
	}

	out := make(map[uint64]TargetState, len(entry.targets))
	for k, v := range entry.targets {
		out[k] = v
	}
	return ProcessResult{Changed: changed, Ping: ping, States: out}
}

// isDifferent is true unless both the old and current sightings are absent,
// or both are present in the same server.
func isDifferent(hadOld bool, old TargetState, hasCurrent bool, current TargetState) bool {
	if !hadOld && !hasCurrent {
		return false
	}
	if hadOld && hasCurrent && old.Server == current.Server {
		return false
	}
	return true
}

// isPingTransition is true when the target is newly present and either
// wasn't present before or has moved to a different server — a fresh
// sighting or a relocation, the two events worth a role mention.
func isPingTransition(hadOld bool, old TargetState, hasCurrent bool, current TargetState) bool {
	if !hasCurrent {
		return false
	}
	return !hadOld || old.Server != current.Server
}
