// Package memes runs each guild's weekly meme contest: it tracks entries
// posted to the contest channel, reminds the guild when nothing has been
// posted, and crowns the most reacted entry when the week is up.
package memes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"loki/clock"
	"loki/discordutils"
	"loki/models"
	"loki/notify"
	"loki/rng"
	"loki/state"
	"loki/workflow"
)

// ErrNotConfigured is returned when the guild has no contest channel.
var ErrNotConfigured = errors.New("no memes channel configured")

// DateFormat renders contest deadlines.
const DateFormat = "3:04pm on Monday 2 January 2006 (MST)"

const (
	pingLead = 2 * 24 * time.Hour
	pageSize = 100
)

const noMemesGIF = "https://media.tenor.com/ve60xH3hKrcAAAAC/no.gif"

// Config tunes the contest.
type Config struct {
	ReactionEmoji  string
	ReactionChance float64
	// RetryDelay separates attempts at posting or editing results.
	RetryDelay time.Duration
	// ErrorDelay separates restarts of a failed workflow.
	ErrorDelay time.Duration
	// DisabledPoll is how often a guild without a contest is rechecked.
	DisabledPoll time.Duration
	// CatchUpRate limits history fetches, in pages per second.
	CatchUpRate float64
}

// DefaultConfig returns the stock contest settings.
func DefaultConfig() Config {
	return Config{
		ReactionEmoji:  "🤖",
		ReactionChance: 0.1,
		RetryDelay:     5 * time.Minute,
		ErrorDelay:     time.Minute,
		DisabledPoll:   time.Hour,
		CatchUpRate:    2,
	}
}

// Voting runs the contest for every guild.
type Voting struct {
	store   *state.Store
	gateway discordutils.Gateway
	sink    notify.Sink
	clock   clock.Clock
	rng     rng.Source
	cfg     Config
	log     zerolog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	reactions map[string]*sync.Mutex
}

// New returns a contest runner.
func New(
	store *state.Store,
	gateway discordutils.Gateway,
	sink notify.Sink,
	clk clock.Clock,
	src rng.Source,
	cfg Config,
	log zerolog.Logger,
) *Voting {
	limit := rate.Inf
	if cfg.CatchUpRate > 0 {
		limit = rate.Limit(cfg.CatchUpRate)
	}
	return &Voting{
		store:     store,
		gateway:   gateway,
		sink:      sink,
		clock:     clk,
		rng:       src,
		cfg:       cfg,
		log:       log.With().Stringer("workflow", workflow.KindMemes).Logger(),
		limiter:   rate.NewLimiter(limit, 1),
		reactions: make(map[string]*sync.Mutex),
	}
}

// reactionLock serialises self-reaction attempts within a guild.
func (v *Voting) reactionLock(guildID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.reactions[guildID]
	if !ok {
		l = &sync.Mutex{}
		v.reactions[guildID] = l
	}
	return l
}

func (v *Voting) guildLog(guildID string) zerolog.Logger {
	return v.log.With().Str("guild", guildID).Logger()
}

func (v *Voting) retry(guildID string, delay time.Duration) workflow.Retry {
	return workflow.Retry{
		Log:   v.guildLog(guildID),
		Sink:  v.sink,
		Clock: v.clock,
		Delay: delay,
		What:  fmt.Sprintf("Meme contest in guild %s", guildID),
	}
}

func (v *Voting) cycle(guildID string) (models.MemeCycle, bool) {
	g, ok := v.store.Snapshot(guildID)
	if !ok || g.Memes == nil {
		return models.MemeCycle{}, false
	}
	return *g.Memes, true
}

func (v *Voting) deadline(t time.Time) string {
	return t.In(v.clock.Now().Location()).Format(DateFormat)
}

// SetChannel starts a fresh contest in the given channel and announces it
// there. Past victories are kept.
func (v *Voting) SetChannel(ctx context.Context, guildID, channelID string) (time.Time, error) {
	now := v.clock.Now()
	var nextReset time.Time
	err := v.store.Update(ctx, guildID, func(g *models.Guild) error {
		cycle := models.NewMemeCycle(channelID, now)
		if g.Memes != nil && g.Memes.Victories != nil {
			cycle.Victories = g.Memes.Victories
		}
		g.Memes = cycle
		nextReset = cycle.NextReset()
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	msg, err := v.gateway.SendEmbed(ctx, channelID, discordutils.Embed(fmt.Sprintf(
		"**Post your best memes!**\n"+
			"Vote by reacting to your favourite memes.\n"+
			"The post with the most total reactions by %s wins!",
		v.deadline(nextReset),
	)))
	if err != nil {
		return nextReset, fmt.Errorf("announce contest: %w", err)
	}

	err = v.store.Update(ctx, guildID, func(g *models.Guild) error {
		if g.Memes != nil && g.Memes.ChannelID == channelID && g.Memes.AnchorMessageID == "" {
			g.Memes.AnchorMessageID = msg.ID
		}
		return nil
	})
	log := v.guildLog(guildID)
	log.Info().Str("channel", channelID).Time("next_reset", nextReset).Msg("Memes channel set.")
	return nextReset, err
}

// UnsetChannel ends the guild's contest and forgets everything about it.
func (v *Voting) UnsetChannel(ctx context.Context, guildID string) error {
	var channelID string
	err := v.store.Update(ctx, guildID, func(g *models.Guild) error {
		if g.Memes == nil {
			return ErrNotConfigured
		}
		channelID = g.Memes.ChannelID
		g.Memes = nil
		return nil
	})
	if err != nil {
		return err
	}

	log := v.guildLog(guildID)
	log.Info().Str("channel", channelID).Msg("Memes channel unset.")
	_, err = v.gateway.SendEmbed(ctx, channelID, discordutils.Embed(
		"**Halt your memes!**\nI won't see them anymore. :(",
	))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to say goodbye in the old memes channel.")
	}
	return nil
}

// Standing is one row of the leaderboard.
type Standing struct {
	UserID string
	Wins   int
}

// Leaderboard ranks every past winner by wins, then user id.
func (v *Voting) Leaderboard(guildID string) ([]Standing, error) {
	cycle, ok := v.cycle(guildID)
	if !ok {
		return nil, ErrNotConfigured
	}
	standings := make([]Standing, 0, len(cycle.Victories))
	for user, wins := range cycle.Victories {
		standings = append(standings, Standing{UserID: user, Wins: wins})
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Wins != standings[j].Wins {
			return standings[i].Wins > standings[j].Wins
		}
		return standings[i].UserID < standings[j].UserID
	})
	return standings, nil
}

// NextReset returns when the current contest ends.
func (v *Voting) NextReset(guildID string) (time.Time, error) {
	cycle, ok := v.cycle(guildID)
	if !ok {
		return time.Time{}, ErrNotConfigured
	}
	return cycle.NextReset(), nil
}

// Entries returns how many messages are entered in the current contest.
func (v *Voting) Entries(guildID string) (int, error) {
	cycle, ok := v.cycle(guildID)
	if !ok {
		return 0, ErrNotConfigured
	}
	return len(cycle.TrackedMessages), nil
}

// Intake enters a freshly posted message into the guild's contest, and
// occasionally reacts to it if the bot hasn't reacted to anything yet this
// cycle.
func (v *Voting) Intake(ctx context.Context, m *discordgo.Message) error {
	if m.GuildID == "" || m.Author == nil || m.Author.ID == v.gateway.SelfID() || discordutils.IsEphemeral(m) {
		return nil
	}

	watched := false
	err := v.store.View(m.GuildID, func(g *models.Guild) {
		watched = g.Memes != nil && g.Memes.ChannelID == m.ChannelID
	})
	if err != nil || !watched {
		return nil
	}

	var added, reacted bool
	err = v.store.Update(ctx, m.GuildID, func(g *models.Guild) error {
		if g.Memes == nil || g.Memes.ChannelID != m.ChannelID {
			return nil
		}
		added = g.Memes.Track(m.ID)
		reacted = g.Memes.SelfReacted
		return nil
	})
	if err != nil {
		return err
	}
	if !added || reacted || !rng.Chance(v.rng, v.cfg.ReactionChance) {
		return nil
	}

	// a reset in progress owns the reaction for this cycle
	lock := v.reactionLock(m.GuildID)
	if !lock.TryLock() {
		return nil
	}
	defer lock.Unlock()

	_, err = v.selfReact(ctx, m.GuildID, m.ChannelID, m.ID)
	return err
}

// selfReact reacts to the message unless the bot already has this cycle,
// and reports whether it did. The caller must hold the guild's reaction
// lock.
func (v *Voting) selfReact(ctx context.Context, guildID, channelID, messageID string) (bool, error) {
	reacted := true
	_ = v.store.View(guildID, func(g *models.Guild) {
		reacted = g.Memes == nil || g.Memes.SelfReacted
	})
	if reacted {
		return false, nil
	}

	log := v.guildLog(guildID)
	if err := v.gateway.React(ctx, channelID, messageID, v.cfg.ReactionEmoji); err != nil {
		log.Warn().Err(err).Str("message", messageID).Msg("Failed to react to meme.")
		return false, nil
	}
	log.Debug().Str("message", messageID).Msg("Reacted to meme.")
	err := v.store.Update(ctx, guildID, func(g *models.Guild) error {
		if g.Memes != nil && g.Memes.ChannelID == channelID {
			g.Memes.SelfReacted = true
		}
		return nil
	})
	return true, err
}
