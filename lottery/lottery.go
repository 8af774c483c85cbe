// Package lottery periodically renames a random guild member to one of the
// nicknames their guild has picked out for them.
package lottery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"loki/clock"
	"loki/discordutils"
	"loki/models"
	"loki/notify"
	"loki/rng"
	"loki/state"
	"loki/stream"
	"loki/workflow"
)

// StreamingPrefix marks members who are live. It belongs to them, not to
// the lottery, so it survives renames.
const StreamingPrefix = stream.Prefix

// DefaultInterval is the range of seconds between draws when a guild hasn't
// picked its own.
var DefaultInterval = models.Interval{Min: 1_800, Max: 432_000}

// Config tunes the lottery.
type Config struct {
	Interval     models.Interval
	OverrideDate Date
	// ErrorDelay separates restarts of a failed workflow.
	ErrorDelay time.Duration
	// Once runs a single draw immediately instead of looping.
	Once bool
}

// DefaultConfig returns the stock lottery settings.
func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		OverrideDate: Date{Month: time.April, Day: 1},
		ErrorDelay:   time.Minute,
	}
}

// Outcome is what a single draw did.
type Outcome int

const (
	NoCandidates Outcome = iota
	MemberGone
	Unchanged
	Changed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case NoCandidates:
		return "no candidates"
	case MemberGone:
		return "member gone"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Lottery runs the nickname lottery for every guild.
type Lottery struct {
	store   *state.Store
	gateway discordutils.Gateway
	sink    notify.Sink
	clock   clock.Clock
	rng     rng.Source
	cfg     Config
	log     zerolog.Logger
}

// New returns a lottery runner.
func New(
	store *state.Store,
	gateway discordutils.Gateway,
	sink notify.Sink,
	clk clock.Clock,
	src rng.Source,
	cfg Config,
	log zerolog.Logger,
) *Lottery {
	return &Lottery{
		store:   store,
		gateway: gateway,
		sink:    sink,
		clock:   clk,
		rng:     src,
		cfg:     cfg,
		log:     log.With().Stringer("workflow", workflow.KindNicknameLottery).Logger(),
	}
}

func (l *Lottery) guildLog(guildID string) zerolog.Logger {
	return l.log.With().Str("guild", guildID).Logger()
}

func (l *Lottery) data(guildID string) (models.NicknameLottery, bool) {
	g, ok := l.store.Snapshot(guildID)
	if !ok || g.NicknameLottery == nil {
		return models.NicknameLottery{}, false
	}
	return *g.NicknameLottery, true
}

// interval returns the guild's draw interval and whether it's an override.
func (l *Lottery) interval(guildID string) (models.Interval, bool) {
	data, ok := l.data(guildID)
	if ok && data.RefreshInterval != nil && data.RefreshInterval.Valid() {
		return *data.RefreshInterval, true
	}
	return l.cfg.Interval, false
}

// Run draws for the guild at random intervals until ctx is done.
func (l *Lottery) Run(ctx context.Context, guildID string) error {
	log := l.guildLog(guildID)
	retry := workflow.Retry{
		Log:   log,
		Sink:  l.sink,
		Clock: l.clock,
		Delay: l.cfg.ErrorDelay,
		What:  fmt.Sprintf("Nickname lottery in guild %s", guildID),
	}
	return retry.Loop(ctx, func(ctx context.Context) error {
		for {
			if l.cfg.Once {
				log.Info().Msg("Running nickname lottery immediately once.")
			} else {
				interval, _ := l.interval(guildID)
				now := l.clock.Now()
				wait := SampleWait(l.rng, interval, now, l.cfg.OverrideDate)
				log.Info().
					Dur("wait", wait).
					Str("at", humanize.RelTime(now.Add(wait), now, "ago", "from now")).
					Msg("Next nickname change scheduled.")
				if err := l.clock.Sleep(ctx, wait); err != nil {
					return err
				}
			}

			outcome, err := l.Draw(ctx, guildID)
			if err != nil {
				return err
			}
			log.Debug().Stringer("outcome", outcome).Msg("Draw finished.")

			if l.cfg.Once {
				return nil
			}
		}
	})
}

// Draw picks a random registered member and renames them to a random one
// of their nicknames.
func (l *Lottery) Draw(ctx context.Context, guildID string) (Outcome, error) {
	log := l.guildLog(guildID)

	data, ok := l.data(guildID)
	if !ok {
		return NoCandidates, nil
	}
	users := data.Users()
	if len(users) == 0 {
		return NoCandidates, nil
	}
	userID := users[l.rng.IntN(len(users))]
	entries := data.Nicknames[userID]
	entry := entries[l.rng.IntN(len(entries))]

	member, err := l.gateway.Member(ctx, guildID, userID)
	if discordutils.IsTransient(err) {
		return Failed, fmt.Errorf("resolve member %s: %w", userID, err)
	}
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Drawn user is no longer a member, skipping.")
		return MemberGone, nil
	}

	current := discordutils.DisplayName(member)
	nickname := entry.Text
	if strings.HasPrefix(current, StreamingPrefix) {
		nickname = StreamingPrefix + nickname
	}
	if nickname == current {
		log.Info().Str("user", userID).Str("nickname", nickname).Msg("Drew the current nickname, skipping.")
		return Unchanged, nil
	}

	log.Info().
		Str("user", userID).
		Str("nickname", nickname).
		Str("current", current).
		Msg("Updating nickname.")

	outcome := Changed
	announce := l.cfg.OverrideDate.Is(l.clock.Now())
	if err := l.gateway.SetNickname(ctx, guildID, userID, nickname); err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Failed to change nickname.")
		outcome = Failed
		announce = true
	}
	if announce {
		l.announce(ctx, guildID, data, userID, nickname)
	}
	return outcome, nil
}

func (l *Lottery) announce(
	ctx context.Context,
	guildID string,
	data models.NicknameLottery,
	userID string,
	nickname string,
) {
	message := fmt.Sprintf(
		"**%s**\n<@%s> won/lost the lottery! From now on, they are to be named: `%s`",
		data.Title(),
		userID,
		nickname,
	)

	if data.AnnouncementChannelID == "" {
		l.sink.Notify(ctx, notify.EventLottery, fmt.Sprintf("[Guild: %s] %s", guildID, message))
		return
	}

	_, err := l.gateway.SendEmbed(ctx, data.AnnouncementChannelID, discordutils.Embed(message))
	if err != nil {
		log := l.guildLog(guildID)
		log.Error().Err(err).Msg("Invalid announcement channel.")
		l.sink.Notify(ctx, notify.EventError, fmt.Sprintf(
			"**[Guild: %s] Invalid announcement channel.**\n%s",
			guildID,
			message,
		))
	}
}
