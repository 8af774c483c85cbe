package discordutils

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// Gateway is every platform operation the workflows rely on. All of them
// may fail; see IsTransient.
type Gateway interface {
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
	EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
	Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	// MessagesAfter lists up to limit messages posted after afterID, oldest
	// first.
	MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]*discordgo.Message, error)
	React(ctx context.Context, channelID, messageID, emoji string) error
	SetNickname(ctx context.Context, guildID, userID, nickname string) error
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	DirectMessage(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error
	// SelfID is the bot user's id.
	SelfID() string
}

// Session implements Gateway on top of a discordgo session.
type Session struct {
	s *discordgo.Session
}

// NewSession wraps an open discordgo session.
func NewSession(s *discordgo.Session) *Session {
	return &Session{s: s}
}

func (g *Session) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	return g.s.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
}

func (g *Session) EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	return g.s.ChannelMessageEditEmbed(channelID, messageID, embed, discordgo.WithContext(ctx))
}

func (g *Session) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	return g.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
}

func (g *Session) MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]*discordgo.Message, error) {
	messages, err := g.s.ChannelMessages(channelID, limit, "", afterID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool {
		return SnowflakeLess(messages[i].ID, messages[j].ID)
	})
	return messages, nil
}

func (g *Session) React(ctx context.Context, channelID, messageID, emoji string) error {
	return g.s.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

func (g *Session) SetNickname(ctx context.Context, guildID, userID, nickname string) error {
	return g.s.GuildMemberNickname(guildID, userID, nickname, discordgo.WithContext(ctx))
}

func (g *Session) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	return g.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

func (g *Session) DirectMessage(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error {
	channel, err := g.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open DM channel: %w", err)
	}
	_, err = g.s.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx))
	return err
}

func (g *Session) SelfID() string {
	if g.s.State == nil || g.s.State.User == nil {
		return ""
	}
	return g.s.State.User.ID
}
