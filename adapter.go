package main

import (
	"context"

	"tracker/bot/internal/discordutil"
	"tracker/bot/internal/store"
)

// channelStoreAdapter exposes store.Store as a discordutil.ChannelStore,
// flattening a CachedChannel's lazily-loaded games/targets sets into the
// plain struct the update loop expects and releasing the store's internal
// reference count once the snapshot has been copied out.
type channelStoreAdapter struct {
	st *store.Store
}

func (a *channelStoreAdapter) LoadChannelIDs(ctx context.Context) ([]uint64, error) {
	return a.st.LoadChannelIDs(ctx)
}

func (a *channelStoreAdapter) GetChannel(ctx context.Context, channelID uint64) (discordutil.Channel, error) {
	cc, err := a.st.GetChannel(ctx, channelID)
	if err != nil {
		return discordutil.Channel{}, err
	}
	defer a.st.ReleaseChannel(cc)

	games, err := a.st.Games(ctx, cc)
	if err != nil {
		return discordutil.Channel{}, err
	}
	targets, err := a.st.Targets(ctx, cc)
	if err != nil {
		return discordutil.Channel{}, err
	}

	return discordutil.Channel{
		ID:           cc.ID,
		Guild:        cc.Guild,
		Message:      cc.Message,
		HasMessage:   cc.HasMessage,
		NotifiedRole: cc.NotifiedRole,
		HasRole:      cc.HasRole,
		Games:        games,
		Targets:      targets,
	}, nil
}

func (a *channelStoreAdapter) SetMessage(ctx context.Context, channelID, messageID uint64, has bool) error {
	return a.st.SetMessage(ctx, channelID, messageID, has)
}

func (a *channelStoreAdapter) DeleteChannel(ctx context.Context, channelID uint64) error {
	return a.st.DeleteChannel(ctx, channelID)
}
