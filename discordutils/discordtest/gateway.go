// Package discordtest provides an in-memory discordutils.Gateway.
package discordtest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	"loki/discordutils"
)

// ErrUnavailable is a transient-looking failure for injection.
var ErrUnavailable = &net503{}

type net503 struct{}

func (*net503) Error() string   { return "service unavailable" }
func (*net503) Timeout() bool   { return true }
func (*net503) Temporary() bool { return true }

// ErrNotFound is returned for unknown channels, messages and members.
var ErrNotFound = errors.New("not found")

// Operation names accepted by Fail.
const (
	OpSend     = "send"
	OpEdit     = "edit"
	OpMessage  = "message"
	OpList     = "list"
	OpReact    = "react"
	OpNickname = "nickname"
	OpMember   = "member"
	OpDM       = "dm"
)

type Reaction struct {
	ChannelID, MessageID, Emoji string
}

type NicknameChange struct {
	GuildID, UserID, Nickname string
}

type DM struct {
	UserID string
	Embed  *discordgo.MessageEmbed
}

type Edit struct {
	ChannelID, MessageID string
	Embed                *discordgo.MessageEmbed
}

// Gateway records everything sent through it and serves messages from
// in-memory channels.
type Gateway struct {
	mu        sync.Mutex
	self      string
	next      uint64
	channels  map[string][]*discordgo.Message
	members   map[string]map[string]*discordgo.Member
	failures  map[string][]error
	sent      []*discordgo.Message
	edits     []Edit
	reactions []Reaction
	nicknames []NicknameChange
	dms       []DM
	calls     map[string]int
}

func New(selfID string) *Gateway {
	return &Gateway{
		self:     selfID,
		next:     1_000_000,
		channels: make(map[string][]*discordgo.Message),
		members:  make(map[string]map[string]*discordgo.Member),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// Fail makes the next n calls of op return err.
func (g *Gateway) Fail(op string, err error, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for range n {
		g.failures[op] = append(g.failures[op], err)
	}
}

// Calls counts invocations of op, failed or not.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) enter(op string) error {
	g.calls[op]++
	queue := g.failures[op]
	if len(queue) == 0 {
		return nil
	}
	g.failures[op] = queue[1:]
	return queue[0]
}

func (g *Gateway) id() string {
	g.next++
	return strconv.FormatUint(g.next, 10)
}

// Post adds a message by author to a channel, with reactionCount votes on
// it, and returns its id.
func (g *Gateway) Post(channelID, authorID string, reactionCount int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := &discordgo.Message{
		ID:        g.id(),
		ChannelID: channelID,
		Author:    &discordgo.User{ID: authorID, Username: authorID},
	}
	if reactionCount > 0 {
		m.Reactions = []*discordgo.MessageReactions{{
			Count: reactionCount,
			Emoji: &discordgo.Emoji{Name: "👍"},
		}}
	}
	g.channels[channelID] = append(g.channels[channelID], m)
	return m.ID
}

// SetReactions replaces the vote count on a message.
func (g *Gateway) SetReactions(channelID, messageID string, count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m := g.find(channelID, messageID); m != nil {
		m.Reactions = []*discordgo.MessageReactions{{
			Count: count,
			Emoji: &discordgo.Emoji{Name: "👍"},
		}}
	}
}

// Delete removes a message.
func (g *Gateway) Delete(channelID, messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	messages := g.channels[channelID]
	for i, m := range messages {
		if m.ID == messageID {
			g.channels[channelID] = append(messages[:i:i], messages[i+1:]...)
			return
		}
	}
}

// AddMember registers a guild member.
func (g *Gateway) AddMember(guildID, userID, nickname string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.members[guildID] == nil {
		g.members[guildID] = make(map[string]*discordgo.Member)
	}
	g.members[guildID][userID] = &discordgo.Member{
		GuildID: guildID,
		Nick:    nickname,
		User:    &discordgo.User{ID: userID, Username: userID},
	}
}

// RemoveMember makes a member leave the guild.
func (g *Gateway) RemoveMember(guildID, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members[guildID], userID)
}

func (g *Gateway) Sent() []*discordgo.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*discordgo.Message(nil), g.sent...)
}

func (g *Gateway) Edits() []Edit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Edit(nil), g.edits...)
}

func (g *Gateway) Reactions() []Reaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Reaction(nil), g.reactions...)
}

func (g *Gateway) Nicknames() []NicknameChange {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]NicknameChange(nil), g.nicknames...)
}

func (g *Gateway) DMs() []DM {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]DM(nil), g.dms...)
}

func (g *Gateway) find(channelID, messageID string) *discordgo.Message {
	for _, m := range g.channels[channelID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func copyMessage(m *discordgo.Message) *discordgo.Message {
	c := *m
	c.Reactions = make([]*discordgo.MessageReactions, 0, len(m.Reactions))
	for _, r := range m.Reactions {
		rc := *r
		c.Reactions = append(c.Reactions, &rc)
	}
	c.Embeds = append([]*discordgo.MessageEmbed(nil), m.Embeds...)
	return &c
}

func (g *Gateway) SendEmbed(_ context.Context, channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpSend); err != nil {
		return nil, err
	}
	m := &discordgo.Message{
		ID:        g.id(),
		ChannelID: channelID,
		Author:    &discordgo.User{ID: g.self, Bot: true},
		Embeds:    []*discordgo.MessageEmbed{embed},
	}
	g.channels[channelID] = append(g.channels[channelID], m)
	g.sent = append(g.sent, copyMessage(m))
	return copyMessage(m), nil
}

func (g *Gateway) EditEmbed(_ context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpEdit); err != nil {
		return nil, err
	}
	m := g.find(channelID, messageID)
	if m == nil {
		return nil, ErrNotFound
	}
	m.Embeds = []*discordgo.MessageEmbed{embed}
	g.edits = append(g.edits, Edit{ChannelID: channelID, MessageID: messageID, Embed: embed})
	return copyMessage(m), nil
}

func (g *Gateway) Message(_ context.Context, channelID, messageID string) (*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpMessage); err != nil {
		return nil, err
	}
	m := g.find(channelID, messageID)
	if m == nil {
		return nil, ErrNotFound
	}
	return copyMessage(m), nil
}

func (g *Gateway) MessagesAfter(_ context.Context, channelID, afterID string, limit int) ([]*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpList); err != nil {
		return nil, err
	}
	var page []*discordgo.Message
	for _, m := range g.channels[channelID] {
		if afterID != "" && !discordutils.SnowflakeLess(afterID, m.ID) {
			continue
		}
		page = append(page, copyMessage(m))
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (g *Gateway) React(_ context.Context, channelID, messageID, emoji string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpReact); err != nil {
		return err
	}
	m := g.find(channelID, messageID)
	if m == nil {
		return ErrNotFound
	}
	m.Reactions = append(m.Reactions, &discordgo.MessageReactions{
		Count: 1,
		Me:    true,
		Emoji: &discordgo.Emoji{Name: emoji},
	})
	g.reactions = append(g.reactions, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

func (g *Gateway) SetNickname(_ context.Context, guildID, userID, nickname string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpNickname); err != nil {
		return err
	}
	member, ok := g.members[guildID][userID]
	if !ok {
		return ErrNotFound
	}
	member.Nick = nickname
	g.nicknames = append(g.nicknames, NicknameChange{GuildID: guildID, UserID: userID, Nickname: nickname})
	return nil
}

func (g *Gateway) Member(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpMember); err != nil {
		return nil, err
	}
	member, ok := g.members[guildID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *member
	return &c, nil
}

func (g *Gateway) DirectMessage(_ context.Context, userID string, embed *discordgo.MessageEmbed) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter(OpDM); err != nil {
		return err
	}
	g.dms = append(g.dms, DM{UserID: userID, Embed: embed})
	return nil
}

func (g *Gateway) SelfID() string {
	return g.self
}

var _ discordutils.Gateway = (*Gateway)(nil)
