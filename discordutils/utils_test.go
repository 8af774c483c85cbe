package discordutils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestSnowflakeLess(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"1", "2", true},
		{"2", "1", false},
		{"99", "100", true},
		{"1", "1", false},
		{"x", "yy", true},
	}
	for _, c := range cases {
		if got := SnowflakeLess(c.a, c.b); got != c.want {
			t.Errorf("SnowflakeLess(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	user := &discordgo.User{Username: "loki", GlobalName: "Loki"}
	if got := DisplayName(&discordgo.Member{User: user, Nick: "trickster"}); got != "trickster" {
		t.Errorf("nick should win, got %q", got)
	}
	if got := DisplayName(&discordgo.Member{User: user}); got != "Loki" {
		t.Errorf("global name should win over username, got %q", got)
	}
	if got := DisplayName(&discordgo.Member{User: &discordgo.User{Username: "loki"}}); got != "loki" {
		t.Errorf("got %q", got)
	}
}

func TestTotalReactions(t *testing.T) {
	m := &discordgo.Message{Reactions: []*discordgo.MessageReactions{{Count: 2}, {Count: 3}}}
	if got := TotalReactions(m); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}

func TestMemberHasPermissions(t *testing.T) {
	guild := &discordgo.Guild{
		ID:      "g",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g", Permissions: discordgo.PermissionSendMessages},
			{ID: "mods", Permissions: discordgo.PermissionManageChannels},
			{ID: "admins", Permissions: discordgo.PermissionAdministrator},
		},
	}
	member := func(id string, roles ...string) *discordgo.Member {
		return &discordgo.Member{User: &discordgo.User{ID: id}, Roles: roles}
	}

	if !MemberHasPermissions(guild, member("owner"), discordgo.PermissionManageChannels) {
		t.Error("owner should have every permission")
	}
	if !MemberHasPermissions(guild, member("a", "mods"), discordgo.PermissionManageChannels) {
		t.Error("mods should manage channels")
	}
	if MemberHasPermissions(guild, member("b"), discordgo.PermissionManageChannels) {
		t.Error("plain members should not manage channels")
	}
	if !MemberHasPermissions(guild, member("c", "admins"), discordgo.PermissionManageNicknames) {
		t.Error("administrators should have every permission")
	}
}

func TestIsTransient(t *testing.T) {
	rest := func(code int) error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
	}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true},
		{"rate limited", &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{TooManyRequests: &discordgo.TooManyRequests{}}}, true},
		{"429", rest(http.StatusTooManyRequests), true},
		{"502", rest(http.StatusBadGateway), true},
		{"403", rest(http.StatusForbidden), false},
		{"other", errors.New("boom"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsTransient(c.err); got != c.want {
				t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
