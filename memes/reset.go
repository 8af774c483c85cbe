package memes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"loki/discordutils"
	"loki/models"
)

type candidate struct {
	message *discordgo.Message
	total   int
}

// Outcome is how a contest ended.
type Outcome int

const (
	NoEntries Outcome = iota
	NoVotes
	Victory
)

func (o Outcome) String() string {
	switch o {
	case NoEntries:
		return "no entries"
	case NoVotes:
		return "no votes"
	default:
		return "victory"
	}
}

// Result summarises a finished contest.
type Result struct {
	Outcome   Outcome
	Entries   int
	WinnerID  string
	MessageID string
	Votes     int
}

// pickVictor returns the candidate with strictly the most reactions, the
// earliest one on ties.
func pickVictor(candidates []candidate) (candidate, bool) {
	var best candidate
	found := false
	for _, c := range candidates {
		if !found || c.total > best.total {
			best = c
			found = true
		}
	}
	return best, found
}

// Reset closes the current contest, announces its result and starts the
// next one.
//
// Entries are moved out of the tracked list before any of them are
// fetched, so messages arriving during a reset belong to the next contest.
// The moved entries and the result message are persisted until the reset
// completes, so a reset interrupted by a restart is picked up where it left
// off.
func (v *Voting) Reset(ctx context.Context, guildID string) (Result, error) {
	log := v.guildLog(guildID)

	lock := v.reactionLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	var (
		channelID   string
		drained     []string
		selfReacted bool
		resultID    string
	)
	err := v.store.Update(ctx, guildID, func(g *models.Guild) error {
		if g.Memes == nil {
			return ErrNotConfigured
		}
		m := g.Memes
		// an interrupted reset already owns its entries; anything tracked
		// since belongs to the next contest
		if len(m.Draining) == 0 && m.ResultMessageID == "" {
			m.Draining = m.TrackedMessages
			m.TrackedMessages = nil
		}
		channelID = m.ChannelID
		drained = append([]string(nil), m.Draining...)
		selfReacted = m.SelfReacted
		resultID = m.ResultMessageID
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	log.Info().Int("entries", len(drained)).Msg("Performing reset.")

	self := v.gateway.SelfID()
	var candidates []candidate
	for _, id := range drained {
		msg, err := v.gateway.Message(ctx, channelID, id)
		if err != nil {
			log.Debug().Err(err).Str("message", id).Msg("Discarding unfetchable entry.")
			continue
		}
		if msg.Author != nil && msg.Author.ID == self {
			continue
		}
		candidates = append(candidates, candidate{message: msg, total: discordutils.TotalReactions(msg)})
	}

	if !selfReacted && len(candidates) > 0 {
		pick := &candidates[v.rng.IntN(len(candidates))]
		ok, err := v.selfReact(ctx, guildID, channelID, pick.message.ID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to save self reaction.")
		}
		if ok {
			pick.total++
		}
	}

	result := Result{Outcome: NoEntries, Entries: len(candidates)}
	if victor, ok := pickVictor(candidates); ok {
		result.Outcome = NoVotes
		if victor.total > 0 {
			result.Outcome = Victory
			result.MessageID = victor.message.ID
			result.Votes = victor.total
			if victor.message.Author != nil {
				result.WinnerID = victor.message.Author.ID
			}
		}
	}

	retry := v.retry(guildID, v.cfg.RetryDelay)
	if resultID == "" {
		err = retry.Until(ctx, "post results", func(ctx context.Context) error {
			msg, err := v.gateway.SendEmbed(ctx, channelID, discordutils.Embed("Counting votes…"))
			if err != nil {
				return err
			}
			resultID = msg.ID
			return nil
		})
		if err != nil {
			return result, err
		}
		err = v.store.Update(ctx, guildID, func(g *models.Guild) error {
			if g.Memes != nil {
				g.Memes.ResultMessageID = resultID
			}
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to save result message.")
		}
	}

	now := v.clock.Now()
	embed := discordutils.Embed(v.resultText(guildID, channelID, result, now.Add(models.CycleLength)))
	err = retry.Until(ctx, "edit results", func(ctx context.Context) error {
		_, err := v.gateway.EditEmbed(ctx, channelID, resultID, embed)
		return err
	})
	if err != nil {
		return result, err
	}

	err = v.store.Update(ctx, guildID, func(g *models.Guild) error {
		m := g.Memes
		if m == nil || m.ChannelID != channelID {
			return errChannelChanged
		}
		if result.Outcome == Victory && result.WinnerID != "" {
			m.AddVictory(result.WinnerID)
		}
		m.AnchorMessageID = resultID
		m.CycleStart = now
		m.SelfReacted = false
		m.Draining = nil
		m.ResultMessageID = ""
		return nil
	})
	if errors.Is(err, errChannelChanged) {
		log.Info().Msg("Memes channel changed during reset, not starting a new cycle.")
		return result, nil
	}
	if err != nil {
		return result, err
	}

	log.Info().
		Stringer("outcome", result.Outcome).
		Str("winner", result.WinnerID).
		Int("votes", result.Votes).
		Msg("Reset complete.")
	return result, nil
}

func (v *Voting) resultText(guildID, channelID string, result Result, nextReset time.Time) string {
	deadline := v.deadline(nextReset)
	switch result.Outcome {
	case Victory:
		return fmt.Sprintf(
			"**Voting results**\n"+
				"Congratulations <@%s> for winning this week's meme contest, with their entry [here](%s)!\n\n"+
				"It won with a resounding %d votes.\n\n"+
				"I've reset the entries, so post your best memes and perhaps next week you'll win? 😉\n\n"+
				"You've got until %s.",
			result.WinnerID,
			discordutils.MessageURL(guildID, channelID, result.MessageID),
			result.Votes,
			deadline,
		)
	case NoVotes:
		return fmt.Sprintf(
			"**No votes**\n"+
				"There weren't any votes (reactions), so there's no winner. Sadge.\n\n"+
				"I've reset the entries, so can you, like, _do something_ this week?\n\n"+
				"You've got until %s.",
			deadline,
		)
	default:
		return fmt.Sprintf(
			"**No entries**\n"+
				"Nobody posted a single meme this week, so there's no winner.\n\n"+
				"Post your best memes and you might win the next one!\n\n"+
				"You've got until %s.",
			deadline,
		)
	}
}
