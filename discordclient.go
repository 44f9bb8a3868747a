package main

import (
	"context"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"tracker/bot/internal/discordutil"
)

// discordChatClient adapts a live discordgo.Session to discordutil.ChatClient,
// translating the platform's string snowflake IDs to the domain's uint64
// opaque identifiers and its *discordgo.RESTError into the CodeError
// interface the update loop's state machine branches on.
type discordChatClient struct {
	session *discordgo.Session
}

func newDiscordChatClient(session *discordgo.Session) *discordChatClient {
	return &discordChatClient{session: session}
}

func fmtID(id uint64) string { return strconv.FormatUint(id, 10) }

func parseID(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }

func toEmbeds(rendered discordutil.Rendered) []*discordgo.MessageEmbed {
	embeds := make([]*discordgo.MessageEmbed, 0, len(rendered.Embeds))
	for _, e := range rendered.Embeds {
		embeds = append(embeds, &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       infoColor,
		})
	}
	return embeds
}

func (c *discordChatClient) SendMessage(_ context.Context, channelID uint64, rendered discordutil.Rendered) (uint64, error) {
	msg, err := c.session.ChannelMessageSendComplex(fmtID(channelID), &discordgo.MessageSend{
		Content: rendered.Content,
		Embeds:  toEmbeds(rendered),
	})
	if err != nil {
		return 0, wrapDiscordError(err)
	}
	id, parseErr := parseID(msg.ID)
	if parseErr != nil {
		return 0, parseErr
	}
	return id, nil
}

func (c *discordChatClient) EditMessage(_ context.Context, channelID, messageID uint64, rendered discordutil.Rendered) error {
	edit := discordgo.NewMessageEdit(fmtID(channelID), fmtID(messageID))
	edit.SetContent(rendered.Content)
	embeds := toEmbeds(rendered)
	edit.Embeds = &embeds
	_, err := c.session.ChannelMessageEditComplex(edit)
	return wrapDiscordError(err)
}

func (c *discordChatClient) DeleteMessage(_ context.Context, channelID, messageID uint64) error {
	return wrapDiscordError(c.session.ChannelMessageDelete(fmtID(channelID), fmtID(messageID)))
}

func (c *discordChatClient) GuildKnown(guildID uint64) bool {
	_, err := c.session.State.Guild(fmtID(guildID))
	return err == nil
}

// codedDiscordError satisfies discordutil.CodeError, carrying the chat
// platform's typed JSON error code out of a *discordgo.RESTError without
// discordutil needing to import discordgo itself.
type codedDiscordError struct {
	code int
	err  error
}

func (e *codedDiscordError) Error() string { return e.err.Error() }
func (e *codedDiscordError) Unwrap() error { return e.err }
func (e *codedDiscordError) Code() int     { return e.code }

func wrapDiscordError(err error) error {
	if err == nil {
		return nil
	}
	if rest, ok := err.(*discordgo.RESTError); ok && rest.Message != nil {
		return &codedDiscordError{code: rest.Message.Code, err: err}
	}
	return err
}
