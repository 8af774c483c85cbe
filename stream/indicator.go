// Package stream marks members who are live by prefixing their nickname,
// and unmarks them when they stop.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"loki/discordutils"
	"loki/models"
	"loki/notify"
)

// Prefix is put in front of the nickname of a member who is streaming.
const Prefix = "🔴 "

// Indicator keeps nicknames in line with members' streaming status.
type Indicator struct {
	gateway discordutils.Gateway
	sink    notify.Sink
	log     zerolog.Logger

	mu   sync.Mutex
	live map[string]bool
}

func New(gateway discordutils.Gateway, sink notify.Sink, log zerolog.Logger) *Indicator {
	return &Indicator{
		gateway: gateway,
		sink:    sink,
		log:     log.With().Str("component", "stream").Logger(),
		live:    make(map[string]bool),
	}
}

// Streaming returns the presence's streaming activity, or nil.
func Streaming(p *discordgo.Presence) *discordgo.Activity {
	for _, a := range p.Activities {
		if a != nil && a.Type == discordgo.ActivityTypeStreaming {
			return a
		}
	}
	return nil
}

// truncate shortens name to at most n characters.
func truncate(name string, n int) string {
	runes := []rune(name)
	if len(runes) <= n {
		return name
	}
	return string(runes[:n])
}

// setLive records whether the user is streaming and reports whether that
// changed.
func (ind *Indicator) setLive(userID string, live bool) bool {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	if ind.live[userID] == live {
		return false
	}
	if live {
		ind.live[userID] = true
	} else {
		delete(ind.live, userID)
	}
	return true
}

// PresenceUpdate marks or unmarks the member in the given guild. Subscribers
// hear about a member going live once, and only if they weren't already
// marked.
func (ind *Indicator) PresenceUpdate(ctx context.Context, guildID string, p *discordgo.Presence) error {
	if p == nil || p.User == nil || p.User.ID == "" || p.User.ID == ind.gateway.SelfID() {
		return nil
	}
	userID := p.User.ID

	activity := Streaming(p)
	if activity == nil {
		ind.setLive(userID, false)
		return ind.unmark(ctx, guildID, userID)
	}

	name, marked, err := ind.mark(ctx, guildID, userID)
	if marked && ind.setLive(userID, true) {
		who := name
		if activity.URL != "" {
			who = fmt.Sprintf("[%s](%s)", name, activity.URL)
		}
		ind.sink.Notify(ctx, notify.EventStream, fmt.Sprintf("**%s is now live!**", who))
	}
	return err
}

// mark prefixes the member's nickname. It returns the name shown before,
// and whether the prefix was missing.
func (ind *Indicator) mark(ctx context.Context, guildID, userID string) (string, bool, error) {
	member, err := ind.gateway.Member(ctx, guildID, userID)
	if err != nil {
		return "", false, fmt.Errorf("resolve member %s: %w", userID, err)
	}
	name := discordutils.DisplayName(member)
	if strings.HasPrefix(name, Prefix) {
		return name, false, nil
	}

	nickname := Prefix + truncate(name, models.MaxNicknameLength)
	if err := ind.gateway.SetNickname(ctx, guildID, userID, nickname); err != nil {
		return name, true, fmt.Errorf("nickname update failed: %s -> %s: %w", name, nickname, err)
	}
	ind.log.Info().Str("guild", guildID).Str("user", userID).Msg("Marked member as live.")
	return name, true, nil
}

func (ind *Indicator) unmark(ctx context.Context, guildID, userID string) error {
	member, err := ind.gateway.Member(ctx, guildID, userID)
	if err != nil {
		return fmt.Errorf("resolve member %s: %w", userID, err)
	}
	if !strings.HasPrefix(member.Nick, Prefix) {
		return nil
	}

	nickname := strings.TrimPrefix(member.Nick, Prefix)
	if err := ind.gateway.SetNickname(ctx, guildID, userID, nickname); err != nil {
		return fmt.Errorf("nickname update failed: %s -> %s: %w", member.Nick, nickname, err)
	}
	ind.log.Info().Str("guild", guildID).Str("user", userID).Msg("Member is no longer live.")
	return nil
}
