package discordutils

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
)

// Colour used for every embed the bot sends.
const Colour = 0x0099ff

// Embed builds a description-only embed in the bot's colour.
func Embed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: description,
		Color:       Colour,
	}
}

// MessageURL links to a message.
func MessageURL(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// DisplayName returns the name a member is shown as in their guild.
func DisplayName(member *discordgo.Member) string {
	if member.Nick != "" {
		return member.Nick
	}
	if member.User == nil {
		return ""
	}
	if member.User.GlobalName != "" {
		return member.User.GlobalName
	}
	return member.User.Username
}

// SnowflakeLess orders ids by creation time.
func SnowflakeLess(a, b string) bool {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	}
	return x < y
}

// TotalReactions sums every reaction count on a message.
func TotalReactions(m *discordgo.Message) int {
	total := 0
	for _, r := range m.Reactions {
		total += r.Count
	}
	return total
}

// IsEphemeral returns true if only the invoking user can see the message.
func IsEphemeral(m *discordgo.Message) bool {
	return m.Flags&discordgo.MessageFlagsEphemeral != 0
}

// MemberHasPermissions returns true if the given member has every given
// permission, or is an administrator.
func MemberHasPermissions(guild *discordgo.Guild, member *discordgo.Member, permissions int64) bool {
	if guild.OwnerID != "" && member.User != nil && guild.OwnerID == member.User.ID {
		return true
	}

	guildRoles := make(map[string]*discordgo.Role)
	for _, role := range guild.Roles {
		guildRoles[role.ID] = role
	}

	var granted int64
	// @everyone shares its id with the guild
	if everyone, ok := guildRoles[guild.ID]; ok {
		granted |= everyone.Permissions
	}
	for _, roleID := range member.Roles {
		if role, ok := guildRoles[roleID]; ok {
			granted |= role.Permissions
		}
	}

	if granted&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return granted&permissions == permissions
}

// AckInteraction sends a deferred response for the given interaction.
func AckInteraction(
	interaction *discordgo.Interaction,
	session *discordgo.Session,
	ephemeral bool,
) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	})
}

// SendFollowup creates a followup embed with the given content.
func SendFollowup(
	content string,
	interaction *discordgo.Interaction,
	session *discordgo.Session,
) error {
	_, err := session.FollowupMessageCreate(
		interaction,
		true,
		&discordgo.WebhookParams{
			Embeds: []*discordgo.MessageEmbed{Embed(content)},
		},
	)
	return err
}
