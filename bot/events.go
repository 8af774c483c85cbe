package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"loki/discordutils"
	"loki/notify"
)

func (bot *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	bot.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Bot is up!")
	bot.startupOnce.Do(func() {
		bot.services.Sink.Notify(bot.ctx, notify.EventStartup, fmt.Sprintf(
			"**Bot started**\nLogged in as %s, serving %d guilds.",
			r.User.Username,
			len(r.Guilds),
		))
	})
}

// onGuildCreate fires for every guild once the session is ready, and when
// the bot joins a new one.
func (bot *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Unavailable {
		return
	}
	started, err := bot.services.Supervisor.GuildObserved(bot.ctx, g.ID)
	if err != nil {
		bot.log.Warn().Err(err).Str("guild", g.ID).Msg("Problem starting workflows.")
	}
	if started {
		bot.log.Info().Str("guild", g.ID).Str("name", g.Name).Msg("Started workflows.")
	}
}

func (bot *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if err := bot.services.Memes.Intake(bot.ctx, m.Message); err != nil {
		bot.log.Error().Err(err).Str("guild", m.GuildID).Str("message", m.ID).Msg("Failed to take in message.")
	}
}

func (bot *Bot) onPresenceUpdate(_ *discordgo.Session, p *discordgo.PresenceUpdate) {
	if bot.services.Stream == nil {
		return
	}
	if err := bot.services.Stream.PresenceUpdate(bot.ctx, p.GuildID, &p.Presence); err != nil {
		bot.log.Warn().Err(err).Str("guild", p.GuildID).Msg("Failed to update stream indicator.")
	}
}

func (bot *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || i.Member == nil {
		return
	}

	name := commandName(i)
	handler, ok := bot.commandHandlers[name]
	if !ok {
		return
	}
	log := bot.log.With().Str("guild", i.GuildID).Str("command", name).Str("user", i.Member.User.ID).Logger()

	if err := discordutils.AckInteraction(i.Interaction, s, true); err != nil {
		log.Warn().Err(err).Msg("Failed to acknowledge interaction.")
		return
	}

	var reply string
	if !bot.allowed(s, i, name) {
		reply = "You don't have permission to do that."
	} else {
		var err error
		reply, err = handler(bot.ctx, i)
		if err != nil {
			reply = bot.errorReply(err)
			log.Debug().Err(err).Msg("Command failed.")
		}
	}

	if err := discordutils.SendFollowup(reply, i.Interaction, s); err != nil {
		log.Warn().Err(err).Msg("Failed to send followup.")
	}
}

// allowed reports whether the invoking member may run the command.
func (bot *Bot) allowed(s *discordgo.Session, i *discordgo.InteractionCreate, name string) bool {
	required, ok := commandPermissions[name]
	if !ok {
		return true
	}
	guild, err := s.State.Guild(i.GuildID)
	if err != nil {
		// no cached guild, fall back to what the interaction says
		p := i.Member.Permissions
		return p&discordgo.PermissionAdministrator != 0 || p&required == required
	}
	return discordutils.MemberHasPermissions(guild, i.Member, required)
}
