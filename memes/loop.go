package memes

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"loki/clock"
	"loki/discordutils"
	"loki/models"
)

var errChannelChanged = errors.New("memes channel changed")

// Run catches up on missed messages, then runs the guild's contest until
// ctx is done.
func (v *Voting) Run(ctx context.Context, guildID string) error {
	return v.retry(guildID, v.cfg.ErrorDelay).Loop(ctx, func(ctx context.Context) error {
		if _, err := v.CatchUp(ctx, guildID); err != nil {
			return err
		}
		for {
			if err := v.step(ctx, guildID); err != nil {
				return err
			}
		}
	})
}

// step waits for the next thing to do in the contest and does it.
func (v *Voting) step(ctx context.Context, guildID string) error {
	log := v.guildLog(guildID)

	cycle, ok := v.cycle(guildID)
	if !ok {
		log.Debug().Dur("poll", v.cfg.DisabledPoll).Msg("No memes channel, checking again later.")
		return v.clock.Sleep(ctx, v.cfg.DisabledPoll)
	}

	nextReset := cycle.NextReset()
	log.Debug().Time("next_reset", nextReset).Msg("Computed next reset.")

	if ping := nextReset.Add(-pingLead); v.clock.Now().Before(ping) {
		log.Debug().Time("ping", ping).Msg("Sleeping until it's time to ping.")
		if err := clock.SleepUntil(ctx, v.clock, ping); err != nil {
			return err
		}
		v.remind(ctx, guildID)
	}

	if until := nextReset.Sub(v.clock.Now()); until > 0 {
		log.Debug().Dur("until_reset", until).Msg("Sleeping until it's time to reset.")
		// settings may change during the sleep, so start over afterwards
		return v.clock.Sleep(ctx, until)
	}

	_, err := v.Reset(ctx, guildID)
	if errors.Is(err, ErrNotConfigured) {
		return nil
	}
	return err
}

// remind nudges the guild if nothing has been entered yet. Failures are
// only logged.
func (v *Voting) remind(ctx context.Context, guildID string) {
	log := v.guildLog(guildID)

	cycle, ok := v.cycle(guildID)
	if !ok {
		log.Debug().Msg("Memes channel unset during sleep, skipping reminder.")
		return
	}
	if len(cycle.TrackedMessages) > 0 {
		return
	}

	embed := discordutils.Embed(fmt.Sprintf(
		"**No memes?**\nVoting closes %s! Perhaps time to post some?",
		humanize.RelTime(cycle.NextReset(), v.clock.Now(), "ago", "from now"),
	))
	embed.Image = &discordgo.MessageEmbedImage{URL: noMemesGIF}
	if _, err := v.gateway.SendEmbed(ctx, cycle.ChannelID, embed); err != nil {
		log.Warn().Err(err).Msg("Failed to send reminder.")
		return
	}
	log.Info().Msg("Sent reminder.")
}

// CatchUp enters every message posted since the last one seen, and returns
// how many were added. Running it again with no new traffic adds nothing.
func (v *Voting) CatchUp(ctx context.Context, guildID string) (int, error) {
	log := v.guildLog(guildID)

	cycle, ok := v.cycle(guildID)
	if !ok {
		return 0, nil
	}
	after := cycle.LastSeen()
	if after == "" {
		log.Debug().Msg("Nothing to resume from, skipping catch-up.")
		return 0, nil
	}

	log.Info().Str("after", after).Msg("Catching up with messages.")
	self := v.gateway.SelfID()
	total := 0
	for {
		if err := v.limiter.Wait(ctx); err != nil {
			return total, err
		}
		page, err := v.gateway.MessagesAfter(ctx, cycle.ChannelID, after, pageSize)
		if err != nil {
			return total, fmt.Errorf("retrieve missed messages: %w", err)
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].ID

		var ids []string
		for _, m := range page {
			if m.Author != nil && m.Author.ID == self {
				continue
			}
			ids = append(ids, m.ID)
		}
		if len(ids) == 0 {
			continue
		}

		added := 0
		err = v.store.Update(ctx, guildID, func(g *models.Guild) error {
			if g.Memes == nil || g.Memes.ChannelID != cycle.ChannelID {
				return errChannelChanged
			}
			for _, id := range ids {
				if g.Memes.Track(id) {
					added++
				}
			}
			return nil
		})
		if errors.Is(err, errChannelChanged) {
			log.Info().Msg("Memes channel changed during catch-up, stopping.")
			return total, nil
		}
		total += added
		if err != nil {
			return total, err
		}
	}

	log.Info().Int("added", total).Msg("Finished catching up with messages.")
	return total, nil
}
