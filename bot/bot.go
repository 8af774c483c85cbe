package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"loki/clock"
	"loki/lottery"
	"loki/memes"
	"loki/notify"
	"loki/stream"
	"loki/workflow"
)

type commandHandler = func(
	context.Context,
	*discordgo.InteractionCreate,
) (string, error)

// Services are the workflows the bot drives.
type Services struct {
	Supervisor *workflow.Supervisor
	Memes      *memes.Voting
	Lottery    *lottery.Lottery
	// Stream is nil when live members aren't marked.
	Stream *stream.Indicator
	Sink   notify.Sink
	Clock  clock.Clock
}

// Bot represents an instance of the Loki discord bot.
type Bot struct {
	ctx                context.Context
	session            *discordgo.Session
	guildID            string
	log                zerolog.Logger
	services           Services
	registeredCommands []*discordgo.ApplicationCommand
	commandHandlers    map[string]commandHandler

	// Ready fires again on every reconnect.
	startupOnce sync.Once
}

func newBot(ctx context.Context, guildID string, services Services, log zerolog.Logger) *Bot {
	bot := &Bot{
		ctx:      ctx,
		guildID:  guildID,
		log:      log.With().Str("component", "bot").Logger(),
		services: services,
	}

	bot.commandHandlers = map[string]commandHandler{
		"memes set_channel":                        bot.MemesSetChannel,
		"memes unset_channel":                      bot.MemesUnsetChannel,
		"memes leaderboard":                        bot.MemesLeaderboard,
		"memes next":                               bot.MemesNext,
		"nickname_lottery add":                     bot.LotteryAdd,
		"nickname_lottery remove":                  bot.LotteryRemove,
		"nickname_lottery list":                    bot.LotteryList,
		"nickname_lottery info":                    bot.LotteryInfo,
		"nickname_lottery set_context":             bot.LotterySetContext,
		"nickname_lottery interval_set":            bot.LotteryIntervalSet,
		"nickname_lottery interval_reset":          bot.LotteryIntervalReset,
		"nickname_lottery announcements_configure": bot.LotteryAnnouncementsConfigure,
		"nickname_lottery announcements_stop":      bot.LotteryAnnouncementsStop,
	}
	return bot
}

func (bot *Bot) initSession(session *discordgo.Session) error {
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences |
		discordgo.IntentMessageContent

	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onGuildCreate)
	session.AddHandler(bot.onMessageCreate)
	session.AddHandler(bot.onPresenceUpdate)
	session.AddHandler(bot.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	bot.session = session
	return nil
}

func (bot *Bot) registerCommands() error {
	for _, command := range botCommands {
		newCommand, err := bot.session.ApplicationCommandCreate(
			bot.session.State.User.ID,
			bot.guildID,
			command,
		)
		if err != nil {
			return fmt.Errorf("create %v command: %w", command.Name, err)
		}
		bot.registeredCommands = append(bot.registeredCommands, newCommand)
		bot.log.Info().Str("command", command.Name).Msg("Created command.")
	}
	return nil
}

// New connects the session and registers the slash commands, either in the
// given guild or globally if guildID is empty. Workflows started by the bot
// run until ctx is done.
func New(
	ctx context.Context,
	session *discordgo.Session,
	guildID string,
	services Services,
	log zerolog.Logger,
) (*Bot, error) {
	bot := newBot(ctx, guildID, services, log)

	if err := bot.initSession(session); err != nil {
		return nil, err
	}
	if err := bot.registerCommands(); err != nil {
		bot.Shutdown()
		return nil, err
	}

	return bot, nil
}

// Shutdown shuts down the bot cleanly.
func (bot *Bot) Shutdown() {
	bot.log.Info().Msg("Shutting down.")

	for _, command := range bot.registeredCommands {
		err := bot.session.ApplicationCommandDelete(
			bot.session.State.User.ID,
			bot.guildID,
			command.ID,
		)
		if err != nil {
			bot.log.Warn().Err(err).Str("command", command.Name).Msg("Failed to delete command.")
		} else {
			bot.log.Info().Str("command", command.Name).Msg("Deleted command.")
		}
	}

	if err := bot.session.Close(); err != nil {
		bot.log.Warn().Err(err).Msg("Failed to close session.")
	}
}
