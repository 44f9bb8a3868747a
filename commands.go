package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"tracker/bot/internal/stats"
	"tracker/bot/internal/store"
)

// manageChannelsPermission gates every command to callers who can manage the
// guild's channels; registerCommands sets it as each command's default
// member permission so Discord enforces it before the interaction ever
// reaches the handler below.
const manageChannelsPermission = discordgo.PermissionManageChannels

var guildOnly = false // DMPermission pointer target; false disables DM use.

// commandDefinitions is the full slash-command surface: channels, game
// {add,remove,view,clear}, target {add,remove,view,clear}, tracker
// {init,info,delete,notify}, stats, help, register. Each is guild-only and
// restricted to callers with Manage Channels.
var commandDefinitions = []*discordgo.ApplicationCommand{
	{
		Name:                     "channels",
		Description:              "List channels in this guild tracked for status updates",
		DefaultMemberPermissions: permPtr(manageChannelsPermission),
		DMPermission:             &guildOnly,
	},
	{
		Name:                     "game",
		Description:              "Manage the games watched by this channel",
		DefaultMemberPermissions: permPtr(manageChannelsPermission),
		DMPermission:             &guildOnly,
		Options: []*discordgo.ApplicationCommandOption{
			subcommandWithIDs("add", "Add one or more game IDs to watch"),
			subcommandWithIDs("remove", "Remove one or more watched game IDs"),
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "view", Description: "List watched game IDs"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "clear", Description: "Stop watching every game"},
		},
	},
	{
		Name:                     "target",
		Description:              "Manage the target user IDs tracked by this channel",
		DefaultMemberPermissions: permPtr(manageChannelsPermission),
		DMPermission:             &guildOnly,
		Options: []*discordgo.ApplicationCommandOption{
			subcommandWithIDs("add", "Add one or more target user IDs to track"),
			subcommandWithIDs("remove", "Remove one or more tracked target IDs"),
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "view", Description: "List tracked target IDs"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "clear", Description: "Stop tracking every target"},
		},
	},
	{
		Name:                     "tracker",
		Description:              "Manage this channel's tracking configuration",
		DefaultMemberPermissions: permPtr(manageChannelsPermission),
		DMPermission:             &guildOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "init", Description: "Initialize this channel for tracking"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "info", Description: "Show this channel's tracking configuration"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "delete", Description: "Stop tracking in this channel"},
			{
				Type: discordgo.ApplicationCommandOptionSubCommand, Name: "notify",
				Description: "Set or clear the role mentioned on a tracking update",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role to mention (omit to clear)", Required: false},
				},
			},
		},
	},
	{
		Name:                     "stats",
		Description:              "Show global tracking statistics",
		DefaultMemberPermissions: permPtr(manageChannelsPermission),
		DMPermission:             &guildOnly,
	},
	{
		Name:                     "help",
		Description:              "Show available commands",
		DefaultMemberPermissions: permPtr(manageChannelsPermission),
		DMPermission:             &guildOnly,
	},
	{
		Name:                     "register",
		Description:              "Re-register this bot's slash commands in this guild",
		DefaultMemberPermissions: permPtr(manageChannelsPermission),
		DMPermission:             &guildOnly,
	},
}

func permPtr(p int64) *int64 { return &p }

func subcommandWithIDs(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "ids",
				Description: "Space-separated numeric IDs",
				Required:    true,
			},
		},
	}
}

// CommandHandler dispatches slash-command interactions against the cached
// store, rendering every reply as an ephemeral embed.
type CommandHandler struct {
	store *store.Store
	stats *stats.Recorder
	log   *slog.Logger
}

func NewCommandHandler(st *store.Store, recorder *stats.Recorder, log *slog.Logger) *CommandHandler {
	return &CommandHandler{store: st, stats: recorder, log: log}
}

// registerCommands overwrites the bot's guild command set. Called once at
// startup and again by the /register command for operators who need to push
// a definition change without restarting.
func registerCommands(s *discordgo.Session, guildID string) error {
	_, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, commandDefinitions)
	return err
}

// HandleInteraction is the discordgo InteractionCreate callback.
func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" {
		h.reply(s, i, "This command can only be used in a server.", failureColor)
		return
	}

	data := i.ApplicationCommandData()
	ctx := context.Background()
	channelID, err := parseID(i.ChannelID)
	if err != nil {
		h.reply(s, i, "Invalid channel id.", failureColor)
		return
	}
	guildID, err := parseID(i.GuildID)
	if err != nil {
		h.reply(s, i, "Invalid guild id.", failureColor)
		return
	}

	var cmdErr error
	switch data.Name {
	case "channels":
		cmdErr = h.handleChannels(ctx, s, i, guildID)
	case "game":
		cmdErr = h.handleMemberCommand(ctx, s, i, channelID, data.Options[0], "game")
	case "target":
		cmdErr = h.handleMemberCommand(ctx, s, i, channelID, data.Options[0], "target")
	case "tracker":
		cmdErr = h.handleTracker(ctx, s, i, channelID, guildID, data.Options[0])
	case "stats":
		cmdErr = h.handleStats(ctx, s, i)
	case "help":
		h.handleHelp(s, i)
		return
	case "register":
		if err := registerCommands(s, i.GuildID); err != nil {
			cmdErr = UnexpectedError(err)
		} else {
			h.reply(s, i, "Commands re-registered for this guild.", successColor)
			return
		}
	default:
		return
	}

	if cmdErr != nil {
		h.replyError(s, i, cmdErr)
	}
}

func (h *CommandHandler) handleChannels(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, guildID uint64) error {
	ids, err := h.store.GetAllChannels(ctx)
	if err != nil {
		return UnexpectedError(err)
	}
	var lines []string
	for _, id := range ids {
		cc, err := h.store.GetChannel(ctx, id)
		if err != nil {
			continue
		}
		if cc.Guild == guildID {
			lines = append(lines, fmt.Sprintf("<#%d>", id))
		}
		h.store.ReleaseChannel(cc)
	}
	if len(lines) == 0 {
		h.reply(s, i, "No channels in this guild are tracked.", infoColor)
		return nil
	}
	h.reply(s, i, strings.Join(lines, "\n"), infoColor)
	return nil
}

func (h *CommandHandler) handleMemberCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, channelID uint64, sub *discordgo.ApplicationCommandInteractionDataOption, kind string) error {
	cc, err := h.store.GetChannel(ctx, channelID)
	if err != nil {
		return mapStoreError(err)
	}
	defer h.store.ReleaseChannel(cc)

	switch sub.Name {
	case "add":
		ids, err := parseIDList(sub.Options[0].StringValue())
		if err != nil {
			return ExpectedError("%v", err)
		}
		var n int
		if kind == "game" {
			n, err = h.store.AddGames(ctx, cc, ids)
		} else {
			n, err = h.store.AddTargets(ctx, cc, ids)
		}
		if err != nil {
			return mapStoreError(err)
		}
		h.reply(s, i, fmt.Sprintf("Added %d %s id(s).", n, kind), successColor)
		return nil
	case "remove":
		ids, err := parseIDList(sub.Options[0].StringValue())
		if err != nil {
			return ExpectedError("%v", err)
		}
		if kind == "game" {
			err = h.store.RemoveGames(ctx, cc, ids)
		} else {
			err = h.store.RemoveTargets(ctx, cc, ids)
		}
		if err != nil {
			return mapStoreError(err)
		}
		h.reply(s, i, fmt.Sprintf("Removed the requested %s id(s).", kind), successColor)
		return nil
	case "view":
		var set map[uint64]struct{}
		if kind == "game" {
			set, err = h.store.Games(ctx, cc)
		} else {
			set, err = h.store.Targets(ctx, cc)
		}
		if err != nil {
			return UnexpectedError(err)
		}
		if len(set) == 0 {
			h.reply(s, i, fmt.Sprintf("No %ss are watched in this channel.", kind), infoColor)
			return nil
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, fmt.Sprintf("%d", id))
		}
		h.reply(s, i, strings.Join(ids, ", "), infoColor)
		return nil
	case "clear":
		if kind == "game" {
			err = h.store.ClearGames(ctx, cc)
		} else {
			err = h.store.ClearTargets(ctx, cc)
		}
		if err != nil {
			return mapStoreError(err)
		}
		h.reply(s, i, fmt.Sprintf("Cleared all watched %ss.", kind), successColor)
		return nil
	default:
		return ExpectedError("unknown subcommand %q", sub.Name)
	}
}

func (h *CommandHandler) handleTracker(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, channelID, guildID uint64, sub *discordgo.ApplicationCommandInteractionDataOption) error {
	switch sub.Name {
	case "init":
		if err := h.store.Initialize(ctx, channelID, guildID); err != nil {
			return mapStoreError(err)
		}
		h.reply(s, i, "This channel is now tracked.", successColor)
		return nil
	case "info":
		cc, err := h.store.GetChannel(ctx, channelID)
		if err != nil {
			return mapStoreError(err)
		}
		defer h.store.ReleaseChannel(cc)
		games, _ := h.store.Games(ctx, cc)
		targets, _ := h.store.Targets(ctx, cc)
		role := "none"
		if cc.HasRole {
			role = fmt.Sprintf("<@&%d>", cc.NotifiedRole)
		}
		h.reply(s, i, fmt.Sprintf("Games watched: %d\nTargets tracked: %d\nNotified role: %s", len(games), len(targets), role), infoColor)
		return nil
	case "delete":
		if err := h.store.DeleteChannel(ctx, channelID); err != nil {
			return mapStoreError(err)
		}
		h.reply(s, i, "Tracking has been removed from this channel.", successColor)
		return nil
	case "notify":
		cc, err := h.store.GetChannel(ctx, channelID)
		if err != nil {
			return mapStoreError(err)
		}
		defer h.store.ReleaseChannel(cc)

		var roleID *uint64
		if len(sub.Options) > 0 {
			id, err := parseID(sub.Options[0].RoleValue(s, i.GuildID).ID)
			if err != nil {
				return ExpectedError("invalid role")
			}
			roleID = &id
		}
		if err := h.store.SetNotifiedRole(ctx, channelID, roleID); err != nil {
			return UnexpectedError(err)
		}
		if roleID != nil {
			h.reply(s, i, fmt.Sprintf("Updates will now mention <@&%d>.", *roleID), successColor)
		} else {
			h.reply(s, i, "Updates will no longer mention a role.", successColor)
		}
		return nil
	default:
		return ExpectedError("unknown subcommand %q", sub.Name)
	}
}

func (h *CommandHandler) handleStats(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	games, err := h.store.GetGameCount(ctx)
	if err != nil {
		return UnexpectedError(err)
	}
	targets, err := h.store.GetTargetCount(ctx)
	if err != nil {
		return UnexpectedError(err)
	}
	snap := h.stats.Snapshot()
	h.reply(s, i, fmt.Sprintf(
		"Games watched: %d\nTargets tracked: %d\nTracking cycles: %d (avg %s)\nUpdate cycles: %d (avg %s)",
		games, targets, snap.TrackingCycles, snap.AvgTrackingCycle, snap.UpdateCycles, snap.AvgUpdateCycle,
	), infoColor)
	return nil
}

func (h *CommandHandler) handleHelp(s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.reply(s, i, "`/channels` `/game add|remove|view|clear` `/target add|remove|view|clear` `/tracker init|info|delete|notify` `/stats` `/register`", infoColor)
}

func parseIDList(raw string) ([]uint64, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no IDs were provided")
	}
	ids := make([]uint64, 0, len(fields))
	for _, f := range fields {
		id, err := parseID(f)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// mapStoreError converts a store-layer sentinel error into the two-class
// CommandError taxonomy: every named store error is Expected, anything else
// is an Unexpected database failure.
func mapStoreError(err error) error {
	var limitErr *store.LimitExceededError
	if errors.As(err, &limitErr) {
		return LimitExceededError(limitErr.Kind, limitErr.Count, limitErr.Limit)
	}
	switch {
	case errors.Is(err, store.ErrNotInitialized):
		return ErrNotInitialized
	case errors.Is(err, store.ErrAlreadyInitialized):
		return ErrAlreadyInitialized
	case errors.Is(err, store.ErrGameListEmpty):
		return ErrGameListEmpty
	case errors.Is(err, store.ErrTargetListEmpty):
		return ErrTargetListEmpty
	case errors.Is(err, store.ErrGamesNotInserted):
		return ErrGamesNotInserted
	case errors.Is(err, store.ErrTargetsNotInserted):
		return ErrTargetsNotInserted
	case errors.Is(err, store.ErrGamesNotDeleted):
		return ErrGamesNotDeleted
	case errors.Is(err, store.ErrTargetsNotDeleted):
		return ErrTargetsNotDeleted
	case errors.Is(err, store.ErrOperationPending):
		return ErrOperationPending
	default:
		return UnexpectedError(err)
	}
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, description string, color int) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:  discordgo.MessageFlagsEphemeral,
			Embeds: []*discordgo.MessageEmbed{{Description: description, Color: color}},
		},
	})
	if err != nil {
		h.log.Warn("failed to respond to interaction", "command", i.ApplicationCommandData().Name, "error", err)
	}
}

func (h *CommandHandler) replyError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Expected() {
			h.reply(s, i, cmdErr.Error(), failureColor)
			return
		}
		h.log.Error("unexpected command failure", "command", i.ApplicationCommandData().Name, "error", cmdErr.Unwrap())
		h.reply(s, i, cmdErr.Error(), failureColor)
		return
	}
	h.log.Error("unclassified command failure", "command", i.ApplicationCommandData().Name, "error", err)
	h.reply(s, i, "an unexpected error occurred", failureColor)
}
