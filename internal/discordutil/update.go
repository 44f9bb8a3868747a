package discordutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tracker/bot/internal/core"
	"tracker/bot/internal/retry"
	"tracker/bot/internal/roblox"
)

const minUpdateDelay = 1 * time.Second

// CodeError is implemented by errors that carry the chat platform's typed
// API error code, letting the state machine below branch on 10003/10008/
// 50001/50005 without depending on the concrete client library.
type CodeError interface {
	error
	Code() int
}

func codeOf(err error) (int, bool) {
	if ce, ok := err.(CodeError); ok {
		return ce.Code(), true
	}
	return 0, false
}

const (
	codeUnknownChannel    = 10003
	codeUnknownMessage    = 10008
	codeMissingAccess     = 50001
	codeCannotEditMessage = 50005
)

func retryableEdit(err error) bool {
	if code, ok := codeOf(err); ok {
		switch code {
		case codeUnknownChannel, codeUnknownMessage, codeCannotEditMessage, codeMissingAccess:
			return false
		}
	}
	return true
}

func retryableSend(err error) bool {
	if code, ok := codeOf(err); ok {
		switch code {
		case codeUnknownChannel, codeMissingAccess:
			return false
		}
	}
	return true
}

func retryableDelete(err error) bool {
	if code, ok := codeOf(err); ok {
		switch code {
		case codeUnknownChannel, codeMissingAccess, codeUnknownMessage:
			return false
		}
	}
	return true
}

func shouldSendInstead(err error) bool {
	code, ok := codeOf(err)
	return ok && (code == codeUnknownMessage || code == codeCannotEditMessage)
}

// shouldDeleteChannel reports whether err means the channel itself is gone
// (10003) or the bot has lost access and the guild is no longer visible in
// cache (50001 with guildKnown == false).
func shouldDeleteChannel(err error, guildKnown bool) bool {
	code, ok := codeOf(err)
	if !ok {
		return false
	}
	if code == codeUnknownChannel {
		return true
	}
	return code == codeMissingAccess && !guildKnown
}

// ChatClient is the chat-platform surface the update loop drives: sending,
// editing and deleting the single pinned status message per channel.
type ChatClient interface {
	SendMessage(ctx context.Context, channelID uint64, rendered Rendered) (messageID uint64, err error)
	EditMessage(ctx context.Context, channelID, messageID uint64, rendered Rendered) error
	DeleteMessage(ctx context.Context, channelID, messageID uint64) error
	// GuildKnown reports whether guildID is currently visible to the bot
	// (present in cache, including guilds marked unavailable).
	GuildKnown(guildID uint64) bool
}

// Channel is the cached channel record the store exposes to the update
// loop: the channel's current configuration plus the mutations the
// send/edit state machine needs to perform.
type Channel struct {
	ID           uint64
	Guild        uint64
	Message      uint64
	HasMessage   bool
	NotifiedRole uint64
	HasRole      bool
	Games        map[uint64]struct{}
	Targets      map[uint64]struct{}
}

// ChannelStore is the subset of the cached store the update loop depends
// on; implemented by the store package.
type ChannelStore interface {
	LoadChannelIDs(ctx context.Context) ([]uint64, error)
	GetChannel(ctx context.Context, channelID uint64) (Channel, error)
	SetMessage(ctx context.Context, channelID uint64, messageID uint64, has bool) error
	DeleteChannel(ctx context.Context, channelID uint64) error
}

// Updater runs the periodic diff/render/publish cycle against every tracked
// chat channel.
type Updater struct {
	store  ChannelStore
	chat   ChatClient
	facade *roblox.Facade
	states *core.ChannelStates
	global *core.TargetStates
	log    *slog.Logger
}

// NewUpdater wires an Updater around its dependencies.
func NewUpdater(store ChannelStore, chat ChatClient, facade *roblox.Facade, states *core.ChannelStates, global *core.TargetStates, log *slog.Logger) *Updater {
	return &Updater{store: store, chat: chat, facade: facade, states: states, global: global, log: log}
}

// RunCycle executes one update cycle: refresh the live channel set, then
// process every channel concurrently (unbounded fan-out — the channel
// count is small and deployment-bounded).
func (u *Updater) RunCycle(ctx context.Context) error {
	var channelIDs []uint64
	err := retry.Infinite().Do(ctx, retry.Always, func() error {
		ids, err := u.store.LoadChannelIDs(ctx)
		if err != nil {
			return err
		}
		channelIDs = ids
		return nil
	})
	if err != nil {
		return err
	}

	live := make(map[uint64]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		live[id] = struct{}{}
	}
	u.states.EvictStale(live)

	var wg sync.WaitGroup
	for _, channelID := range channelIDs {
		channelID := channelID
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.processChannel(ctx, channelID)
		}()
	}
	wg.Wait()
	return nil
}

func (u *Updater) processChannel(ctx context.Context, channelID uint64) {
	var channel Channel
	err := retry.Discord().Do(ctx, retry.Always, func() error {
		c, err := u.store.GetChannel(ctx, channelID)
		if err != nil {
			return err
		}
		channel = c
		return nil
	})
	if err != nil {
		u.log.Debug("channel vanished before update", "channel", channelID, "error", err)
		return
	}

	result := u.states.Process(channelID, channel.Games, channel.Targets, u.global)
	if !result.Changed {
		return
	}

	messageID, hasMessage := channel.Message, channel.HasMessage
	if result.Ping && hasMessage {
		err := retry.Discord().Do(ctx, retryableDelete, func() error {
			return u.chat.DeleteMessage(ctx, channelID, messageID)
		})
		if err != nil {
			u.log.Warn("failed to delete prior message before ping", "channel", channelID, "error", err)
		}
		hasMessage = false
	}

	var notifiedRole uint64
	if result.Ping && channel.HasRole {
		notifiedRole = channel.NotifiedRole
	}
	rendered := u.renderOutput(ctx, channelID, result.States, notifiedRole, result.Ping && channel.HasRole)

	u.sendOutput(ctx, channel, rendered, messageID, hasMessage)
}

func (u *Updater) renderOutput(ctx context.Context, channelID uint64, states map[uint64]core.TargetState, notifiedRole uint64, ping bool) Rendered {
	lines := make([]string, 0, len(states))
	for target, state := range states {
		username := u.facade.GetUsername(ctx, target)
		gameName := u.facade.GetGameName(ctx, state.Game)
		lines = append(lines, fmt.Sprintf(
			"%s: [%s](http://www.roblox.com/home?placeId=%d&gameId=%s)",
			username, gameName, state.Game, state.Server,
		))
	}
	title := fmt.Sprintf("Tracking output for channel <#%d>:", channelID)
	content := ""
	if ping {
		content = fmt.Sprintf("<@&%d>", notifiedRole)
	}
	return RenderLines(content, lines, title)
}

func (u *Updater) sendOutput(ctx context.Context, channel Channel, rendered Rendered, messageID uint64, hasMessage bool) {
	shouldSend := !hasMessage
	shouldDelete := false

	if hasMessage {
		err := retry.Discord().Do(ctx, retryableEdit, func() error {
			return u.chat.EditMessage(ctx, channel.ID, messageID, rendered)
		})
		if err != nil {
			shouldSend = shouldSendInstead(err)
			shouldDelete = shouldDeleteChannel(err, u.chat.GuildKnown(channel.Guild))
		} else {
			return
		}
	}

	if shouldDelete {
		if err := u.store.DeleteChannel(ctx, channel.ID); err != nil {
			u.log.Debug("delete-channel after API failure did not complete", "channel", channel.ID, "error", err)
		}
		return
	}

	if !shouldSend {
		return
	}

	var newMessageID uint64
	err := retry.Discord().Do(ctx, retryableSend, func() error {
		id, err := u.chat.SendMessage(ctx, channel.ID, rendered)
		if err != nil {
			return err
		}
		newMessageID = id
		return nil
	})
	if err != nil {
		u.log.Warn("failed to send tracking output", "channel", channel.ID, "error", err)
		return
	}

	if err := u.store.SetMessage(ctx, channel.ID, newMessageID, true); err != nil {
		u.log.Warn("failed to persist new pinned message id", "channel", channel.ID, "error", err)
	}
}
