package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"loki/lottery"
	"loki/memes"
	"loki/models"
)

const prettyDateFormat = "2006-01-02"

var (
	manageChannels  int64 = discordgo.PermissionManageChannels
	manageNicknames int64 = discordgo.PermissionManageNicknames
	guildOnly             = false
	minInterval           = 1.0
	minPosition           = 1.0
	maxInterval           = float64(models.MaxIntervalSeconds)
	minNickLength         = 1
)

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: description,
		Required:    true,
	}
}

func positionOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "n",
		Description: "The nickname's number, as shown by list.",
		Required:    true,
		MinValue:    &minPosition,
	}
}

var botCommands = []*discordgo.ApplicationCommand{
	{
		Name:                     "memes",
		Description:              "Configuration commands for the meme-voting system.",
		DefaultMemberPermissions: &manageChannels,
		DMPermission:             &guildOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set_channel",
				Description: "Sets the memes channel for this server and starts a contest.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "channel",
						Description:  "The channel which is to be used for memes.",
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
						Required:     true,
					},
				},
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "unset_channel",
				Description: "Unsets the memes channel for this server, resetting the meme contest.",
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "leaderboard",
				Description: "Shows who has won the most meme contests.",
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "next",
				Description: "Shows when the current meme contest ends.",
			},
		},
	}, {
		Name:         "nickname_lottery",
		Description:  "Controls for the nickname lottery.",
		DMPermission: &guildOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Add a new nickname for a user.",
				Options: []*discordgo.ApplicationCommandOption{
					userOption("The user to add a nickname for."),
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "nickname",
						Description: "The nickname to add.",
						Required:    true,
						MinLength:   &minNickLength,
						MaxLength:   models.MaxNicknameLength,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "context",
						Description: "Any context about this nickname to offset future forgetfulness.",
					},
				},
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Remove a nickname from a user.",
				Options: []*discordgo.ApplicationCommandOption{
					userOption("The user to remove a nickname from."),
					positionOption(),
				},
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List a user's nicknames.",
				Options: []*discordgo.ApplicationCommandOption{
					userOption("The user whose nicknames to list."),
				},
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "info",
				Description: "Show everything known about one of a user's nicknames.",
				Options: []*discordgo.ApplicationCommandOption{
					userOption("The user the nickname belongs to."),
					positionOption(),
				},
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set_context",
				Description: "Set the context of one of a user's nicknames.",
				Options: []*discordgo.ApplicationCommandOption{
					userOption("The user the nickname belongs to."),
					positionOption(),
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "context",
						Description: "The new context.",
						Required:    true,
					},
				},
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "interval_set",
				Description: "Set a custom interval range for this server. Does not affect the override date.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "min",
						Description: "Minimum seconds between nickname changes.",
						Required:    true,
						MinValue:    &minInterval,
						MaxValue:    maxInterval,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "max",
						Description: "Maximum seconds between nickname changes.",
						Required:    true,
						MinValue:    &minInterval,
						MaxValue:    maxInterval,
					},
				},
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "interval_reset",
				Description: "Go back to the default interval range.",
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "announcements_configure",
				Description: "Configure announcements when the bot fails to change a user's nickname.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "channel",
						Description:  "The channel to announce in.",
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "title_override",
						Description: "The title of the announcement.",
					},
				},
			}, {
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "announcements_stop",
				Description: "Stop all announcements. Unsets all configuration values.",
			},
		},
	},
}

// commandPermissions lists what each restricted command requires beyond
// being able to use application commands.
var commandPermissions = map[string]int64{
	"memes set_channel":                        manageChannels,
	"memes unset_channel":                      manageChannels,
	"nickname_lottery add":                     manageNicknames,
	"nickname_lottery remove":                  manageNicknames,
	"nickname_lottery set_context":             manageNicknames,
	"nickname_lottery interval_set":            manageNicknames,
	"nickname_lottery interval_reset":          manageNicknames,
	"nickname_lottery announcements_configure": manageChannels,
	"nickname_lottery announcements_stop":      manageChannels,
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

// commandName returns "command subcommand".
func commandName(i *discordgo.InteractionCreate) string {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 || data.Options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return data.Name
	}
	return data.Name + " " + data.Options[0].Name
}

func subcommandOptions(i *discordgo.InteractionCreate) options {
	opts := make(options)
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return opts
	}
	for _, o := range data.Options[0].Options {
		opts[o.Name] = o
	}
	return opts
}

func (o options) user(name string) string {
	if opt, ok := o[name]; ok {
		return opt.UserValue(nil).ID
	}
	return ""
}

func (o options) channel(name string) string {
	if opt, ok := o[name]; ok {
		return opt.ChannelValue(nil).ID
	}
	return ""
}

func (o options) str(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o options) integer(name string) int64 {
	if opt, ok := o[name]; ok {
		return opt.IntValue()
	}
	return 0
}

func invoker(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func timestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}

func (bot *Bot) errorReply(err error) string {
	switch {
	case errors.Is(err, memes.ErrNotConfigured):
		return "There's no memes channel set up in this server."
	case errors.Is(err, lottery.ErrNoSuchNickname):
		return "There's no nickname with that number. Check the list and try again."
	case errors.Is(err, lottery.ErrDuplicateNickname):
		return "That nickname is already registered for them."
	case errors.Is(err, lottery.ErrNicknameTooLong):
		return fmt.Sprintf("Nicknames can be at most %d characters long.", models.MaxNicknameLength)
	case errors.Is(err, lottery.ErrEmptyNickname):
		return "Nicknames can't be empty."
	case errors.Is(err, lottery.ErrInvalidInterval):
		return fmt.Sprintf(
			"The minimum must be at least one second and no greater than the maximum, which can be at most %s seconds.",
			humanize.Comma(models.MaxIntervalSeconds),
		)
	default:
		bot.log.Error().Err(err).Msg("Command failed unexpectedly.")
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}

// MemesSetChannel sets the contest channel and starts a contest in it.
func (bot *Bot) MemesSetChannel(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	channelID := subcommandOptions(i).channel("channel")
	next, err := bot.services.Memes.SetChannel(ctx, i.GuildID, channelID)
	if err != nil && next.IsZero() {
		return "", err
	}
	reply := fmt.Sprintf(
		"Memes channel set to <#%s>. The contest ends %s.",
		channelID,
		timestamp(next),
	)
	if err != nil {
		bot.log.Warn().Err(err).Str("guild", i.GuildID).Msg("Contest set without announcement.")
		reply += fmt.Sprintf("\nI couldn't announce it there though: %v", err)
	}
	return reply, nil
}

// MemesUnsetChannel stops the contest.
func (bot *Bot) MemesUnsetChannel(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	if err := bot.services.Memes.UnsetChannel(ctx, i.GuildID); err != nil {
		return "", err
	}
	return "Memes channel unset.", nil
}

// MemesLeaderboard lists past winners.
func (bot *Bot) MemesLeaderboard(_ context.Context, i *discordgo.InteractionCreate) (string, error) {
	standings, err := bot.services.Memes.Leaderboard(i.GuildID)
	if err != nil {
		return "", err
	}
	if len(standings) == 0 {
		return "Nobody has won a meme contest yet.", nil
	}

	var b strings.Builder
	b.WriteString("**Meme contest leaderboard**\n")
	for n, s := range standings {
		wins := "wins"
		if s.Wins == 1 {
			wins = "win"
		}
		fmt.Fprintf(&b, "%s. <@%s>: %d %s\n", humanize.Ordinal(n+1), s.UserID, s.Wins, wins)
	}
	return b.String(), nil
}

// MemesNext says when the current contest ends.
func (bot *Bot) MemesNext(_ context.Context, i *discordgo.InteractionCreate) (string, error) {
	next, err := bot.services.Memes.NextReset(i.GuildID)
	if err != nil {
		return "", err
	}
	entries, err := bot.services.Memes.Entries(i.GuildID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"The current contest ends %s, %s. There are %s so far.",
		timestamp(next),
		humanize.RelTime(next, bot.services.Clock.Now(), "ago", "from now"),
		pluralEntries(entries),
	), nil
}

func pluralEntries(n int) string {
	if n == 1 {
		return "1 entry"
	}
	return humanize.Comma(int64(n)) + " entries"
}

// LotteryAdd registers a nickname for a user.
func (bot *Bot) LotteryAdd(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := subcommandOptions(i)
	user, nickname := opts.user("user"), opts.str("nickname")

	n, err := bot.services.Lottery.AddNickname(ctx, i.GuildID, user, nickname, invoker(i))
	if err != nil {
		return "", err
	}
	if note := opts.str("context"); note != "" {
		if err := bot.services.Lottery.SetNicknameContext(ctx, i.GuildID, user, n, note); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("Added nickname #%d for <@%s>: `%s`", n, user, strings.TrimSpace(nickname)), nil
}

// LotteryRemove removes one of a user's nicknames.
func (bot *Bot) LotteryRemove(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := subcommandOptions(i)
	user, n := opts.user("user"), int(opts.integer("n"))

	removed, err := bot.services.Lottery.RemoveNickname(ctx, i.GuildID, user, n)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed nickname #%d for <@%s>: `%s`", n, user, removed.Text), nil
}

// LotteryList lists a user's nicknames.
func (bot *Bot) LotteryList(_ context.Context, i *discordgo.InteractionCreate) (string, error) {
	user := subcommandOptions(i).user("user")
	entries := bot.services.Lottery.Nicknames(i.GuildID, user)
	if len(entries) == 0 {
		return fmt.Sprintf("<@%s> has no nicknames.", user), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Nicknames for <@%s>**\n", user)
	for n, entry := range entries {
		fmt.Fprintf(&b, "%d. `%s`", n+1, entry.Text)
		if entry.Context != "" {
			b.WriteString(" 📝")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// LotteryInfo describes one of a user's nicknames.
func (bot *Bot) LotteryInfo(_ context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := subcommandOptions(i)
	user, n := opts.user("user"), int(opts.integer("n"))

	entry, err := bot.services.Lottery.Nickname(i.GuildID, user, n)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Nickname #%d for <@%s>**\n`%s`\n", n, user, entry.Text)
	if entry.Author != "" {
		fmt.Fprintf(&b, "Added by <@%s>", entry.Author)
		if !entry.CreatedAt.IsZero() {
			fmt.Fprintf(&b, " on %s", entry.CreatedAt.Format(prettyDateFormat))
		}
		b.WriteString(".\n")
	}
	if entry.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", entry.Context)
	}
	return b.String(), nil
}

// LotterySetContext attaches context to one of a user's nicknames.
func (bot *Bot) LotterySetContext(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := subcommandOptions(i)
	user, n := opts.user("user"), int(opts.integer("n"))

	if err := bot.services.Lottery.SetNicknameContext(ctx, i.GuildID, user, n, opts.str("context")); err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated the context of nickname #%d for <@%s>.", n, user), nil
}

func describeInterval(iv models.Interval) string {
	hi := time.Duration(iv.Max) * time.Second
	return fmt.Sprintf("between %s and %s", iv.MinDuration(), hi)
}

// LotteryIntervalSet overrides the draw interval.
func (bot *Bot) LotteryIntervalSet(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := subcommandOptions(i)
	iv := models.Interval{Min: opts.integer("min"), Max: opts.integer("max")}

	if err := bot.services.Lottery.SetRefreshInterval(ctx, i.GuildID, iv.Min, iv.Max); err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"Nicknames will now change %s apart, starting after the next change.",
		describeInterval(iv),
	), nil
}

// LotteryIntervalReset restores the default draw interval.
func (bot *Bot) LotteryIntervalReset(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	if err := bot.services.Lottery.ResetRefreshInterval(ctx, i.GuildID); err != nil {
		return "", err
	}
	iv, _ := bot.services.Lottery.Interval(i.GuildID)
	return fmt.Sprintf("Nicknames will change %s apart again.", describeInterval(iv)), nil
}

// LotteryAnnouncementsConfigure sets where and how changes are announced.
func (bot *Bot) LotteryAnnouncementsConfigure(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := subcommandOptions(i)
	channel, title, err := bot.services.Lottery.ConfigureAnnouncements(
		ctx,
		i.GuildID,
		opts.channel("channel"),
		opts.str("title_override"),
	)
	if err != nil {
		return "", err
	}
	if channel == "" {
		return fmt.Sprintf("Announcements will be titled **%s**, but no channel is set yet.", title), nil
	}
	return fmt.Sprintf("Announcements will go to <#%s>, titled **%s**.", channel, title), nil
}

// LotteryAnnouncementsStop turns announcements off.
func (bot *Bot) LotteryAnnouncementsStop(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	if err := bot.services.Lottery.StopAnnouncements(ctx, i.GuildID); err != nil {
		return "", err
	}
	return "Announcements stopped.", nil
}
