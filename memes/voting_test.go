package memes

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"loki/clock"
	"loki/discordutils"
	"loki/discordutils/discordtest"
	"loki/models"
	"loki/notify"
	"loki/rng"
	"loki/state"
)

const (
	guildID   = "g1"
	channelID = "memes"
	botID     = "bot"
)

var start = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type fixture struct {
	persist *state.Memory
	store   *state.Store
	gateway *discordtest.Gateway
	sink    *notify.Recorder
	clock   *clock.Fake
	rng     *rng.Script
	voting  *Voting
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		persist: state.NewMemory(),
		gateway: discordtest.New(botID),
		sink:    &notify.Recorder{},
		clock:   clock.NewFake(start),
		rng:     &rng.Script{Floats: []float64{0.99}},
	}
	f.store = state.New(f.persist, zerolog.Nop())
	f.rebuild()
	return f
}

// rebuild replaces the runner, as a process restart would.
func (f *fixture) rebuild() {
	cfg := DefaultConfig()
	cfg.CatchUpRate = 0
	f.voting = New(f.store, f.gateway, f.sink, f.clock, f.rng, cfg, zerolog.Nop())
}

func (f *fixture) setChannel(t *testing.T) {
	t.Helper()
	if _, err := f.voting.SetChannel(context.Background(), guildID, channelID); err != nil {
		t.Fatal(err)
	}
}

// post publishes a message from author and feeds it to intake.
func (f *fixture) post(t *testing.T, author string, reactions int) string {
	t.Helper()
	id := f.gateway.Post(channelID, author, reactions)
	err := f.voting.Intake(context.Background(), &discordgo.Message{
		ID:        id,
		GuildID:   guildID,
		ChannelID: channelID,
		Author:    &discordgo.User{ID: author},
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (f *fixture) memes(t *testing.T) models.MemeCycle {
	t.Helper()
	g, ok := f.store.Snapshot(guildID)
	if !ok || g.Memes == nil {
		t.Fatal("no meme cycle")
	}
	return *g.Memes
}

func lastEdit(t *testing.T, g *discordtest.Gateway) string {
	t.Helper()
	edits := g.Edits()
	if len(edits) == 0 {
		t.Fatal("no result was published")
	}
	return edits[len(edits)-1].Embed.Description
}

func TestResetPicksEarliestOfTiedWinners(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	first := f.post(t, "alice", 5)
	f.post(t, "bob", 5)
	low := f.post(t, "carol", 2)
	f.rng.Ints = []int{2}

	result, err := f.voting.Reset(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}

	reactions := f.gateway.Reactions()
	if len(reactions) != 1 || reactions[0].MessageID != low {
		t.Fatalf("self reaction should land on the low scoring entry, got %v", reactions)
	}
	if result.Outcome != Victory || result.MessageID != first || result.WinnerID != "alice" || result.Votes != 5 {
		t.Errorf("unexpected result %+v", result)
	}

	m := f.memes(t)
	if m.Victories["alice"] != 1 || m.Victories["bob"] != 0 {
		t.Errorf("victories = %v", m.Victories)
	}
	if len(m.TrackedMessages) != 0 || m.SelfReacted {
		t.Errorf("cycle not reset: tracked=%v reacted=%v", m.TrackedMessages, m.SelfReacted)
	}
	if !m.CycleStart.Equal(start) || m.AnchorMessageID != f.gateway.Edits()[0].MessageID {
		t.Errorf("cycle start %v, anchor %q", m.CycleStart, m.AnchorMessageID)
	}
	if len(m.Draining) != 0 || m.ResultMessageID != "" {
		t.Errorf("reset left state behind: %+v", m)
	}

	text := lastEdit(t, f.gateway)
	if !strings.Contains(text, "<@alice>") ||
		!strings.Contains(text, discordutils.MessageURL(guildID, channelID, first)) {
		t.Errorf("unexpected result text %q", text)
	}
}

func TestResetCountsForcedReaction(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	f.post(t, "alice", 3)
	underdog := f.post(t, "bob", 3)
	f.rng.Ints = []int{1}

	result, err := f.voting.Reset(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}
	if result.MessageID != underdog || result.Votes != 4 {
		t.Errorf("the bot's vote should break the tie, got %+v", result)
	}
}

func TestResetWithoutEntries(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)

	result, err := f.voting.Reset(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != NoEntries {
		t.Errorf("outcome = %v, want no entries", result.Outcome)
	}
	if len(f.memes(t).Victories) != 0 {
		t.Error("no entries should not award a victory")
	}
	if !strings.Contains(lastEdit(t, f.gateway), "No entries") {
		t.Errorf("unexpected text %q", lastEdit(t, f.gateway))
	}
	if len(f.gateway.Reactions()) != 0 {
		t.Error("nothing to react to")
	}
}

func TestResetWithoutVotes(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	f.post(t, "alice", 0)
	err := f.store.Update(context.Background(), guildID, func(g *models.Guild) error {
		g.Memes.SelfReacted = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := f.voting.Reset(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != NoVotes {
		t.Errorf("outcome = %v, want no votes", result.Outcome)
	}
	if len(f.gateway.Reactions()) != 0 {
		t.Error("already reacted this cycle, should not react again")
	}
	if !strings.Contains(lastEdit(t, f.gateway), "No votes") {
		t.Errorf("unexpected text %q", lastEdit(t, f.gateway))
	}
}

func TestResetDiscardsBotAndMissingEntries(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	gone := f.post(t, "alice", 9)
	f.post(t, "bob", 1)
	f.gateway.Delete(channelID, gone)
	f.rng.Floats = []float64{0.99}
	err := f.store.Update(context.Background(), guildID, func(g *models.Guild) error {
		g.Memes.SelfReacted = true
		g.Memes.TrackedMessages = append(g.Memes.TrackedMessages, g.Memes.AnchorMessageID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := f.voting.Reset(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Entries != 1 || result.WinnerID != "bob" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestResetRetriesPosting(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	f.gateway.Fail(discordtest.OpSend, discordtest.ErrUnavailable, 2)

	if _, err := f.voting.Reset(context.Background(), guildID); err != nil {
		t.Fatal(err)
	}
	sleeps := f.clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 5*time.Minute {
		t.Errorf("sleeps = %v, want two 5m retries", sleeps)
	}
	if len(f.sink.Notes()) != 0 {
		t.Error("transient failures should not be escalated")
	}
}

func TestResetResumesAfterRestart(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	entry := f.gateway.Post(channelID, "alice", 2)
	placeholder, err := f.gateway.SendEmbed(context.Background(), channelID, discordutils.Embed("Counting votes…"))
	if err != nil {
		t.Fatal(err)
	}
	err = f.store.Update(context.Background(), guildID, func(g *models.Guild) error {
		g.Memes.Draining = []string{entry}
		g.Memes.ResultMessageID = placeholder.ID
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sent := len(f.gateway.Sent())
	f.rebuild()

	result, err := f.voting.Reset(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.gateway.Sent()) != sent {
		t.Error("resumed reset posted a second result message")
	}
	if result.WinnerID != "alice" {
		t.Errorf("drained entries were lost: %+v", result)
	}
	if m := f.memes(t); m.AnchorMessageID != placeholder.ID || len(m.Draining) != 0 {
		t.Errorf("unexpected cycle %+v", m)
	}
}

func TestResumedResetLeavesNewEntries(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	old := f.gateway.Post(channelID, "alice", 2)
	placeholder, err := f.gateway.SendEmbed(context.Background(), channelID, discordutils.Embed("Counting votes…"))
	if err != nil {
		t.Fatal(err)
	}
	err = f.store.Update(context.Background(), guildID, func(g *models.Guild) error {
		g.Memes.Draining = []string{old}
		g.Memes.ResultMessageID = placeholder.ID
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	f.rebuild()
	fresh := f.post(t, "bob", 5)

	result, err := f.voting.Reset(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}
	if result.WinnerID != "alice" || result.Entries != 1 {
		t.Errorf("entry from the next contest was judged: %+v", result)
	}
	if m := f.memes(t); len(m.TrackedMessages) != 1 || m.TrackedMessages[0] != fresh {
		t.Errorf("tracked = %v, want [%s]", m.TrackedMessages, fresh)
	}
}

func TestIntakeReactsAtMostOnce(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	f.rng.Floats = []float64{0}

	for range 5 {
		f.post(t, "alice", 0)
	}

	if got := len(f.gateway.Reactions()); got != 1 {
		t.Errorf("reacted %d times, want 1", got)
	}
	m := f.memes(t)
	if !m.SelfReacted || len(m.TrackedMessages) != 5 {
		t.Errorf("reacted=%v tracked=%d", m.SelfReacted, len(m.TrackedMessages))
	}
}

func TestIntakeReactionFailureLeavesFlag(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	f.rng.Floats = []float64{0}
	f.gateway.Fail(discordtest.OpReact, errors.New("missing access"), 1)

	f.post(t, "alice", 0)
	if f.memes(t).SelfReacted {
		t.Error("a failed reaction must not count")
	}
	f.post(t, "bob", 0)
	if !f.memes(t).SelfReacted || len(f.gateway.Reactions()) != 1 {
		t.Error("next message should get the reaction")
	}
}

func TestIntakeIgnoresUnwatchedMessages(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	ctx := context.Background()

	messages := []*discordgo.Message{
		{ID: "1", GuildID: guildID, ChannelID: channelID, Author: &discordgo.User{ID: botID}},
		{ID: "2", GuildID: guildID, ChannelID: "general", Author: &discordgo.User{ID: "alice"}},
		{ID: "3", GuildID: guildID, ChannelID: channelID, Author: &discordgo.User{ID: "alice"}, Flags: discordgo.MessageFlagsEphemeral},
		{ID: "4", ChannelID: channelID, Author: &discordgo.User{ID: "alice"}},
		{ID: "5", GuildID: "elsewhere", ChannelID: channelID, Author: &discordgo.User{ID: "alice"}},
	}
	for _, m := range messages {
		if err := f.voting.Intake(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	if tracked := f.memes(t).TrackedMessages; len(tracked) != 0 {
		t.Errorf("tracked %v", tracked)
	}
	if guilds := f.store.Guilds(); len(guilds) != 1 {
		t.Errorf("intake created records for %v", guilds)
	}
}

func TestDrainIsAtomicWithIntake(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	f.rng.Floats = []float64{0.99}

	const n = 200
	ids := make([]string, n)
	for i := range ids {
		ids[i] = f.gateway.Post(channelID, "alice", 1)
	}

	var wg sync.WaitGroup
	var result Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		result, err = f.voting.Reset(context.Background(), guildID)
		if err != nil {
			t.Error(err)
		}
	}()
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.voting.Intake(context.Background(), &discordgo.Message{
				ID:        id,
				GuildID:   guildID,
				ChannelID: channelID,
				Author:    &discordgo.User{ID: "alice"},
			})
		}()
	}
	wg.Wait()

	tracked := f.memes(t).TrackedMessages
	seen := make(map[string]bool)
	for _, id := range tracked {
		if seen[id] {
			t.Fatalf("id %s tracked twice", id)
		}
		seen[id] = true
	}
	if result.Entries+len(tracked) != n {
		t.Errorf("drained %d + tracked %d != %d", result.Entries, len(tracked), n)
	}
}

func TestCatchUpAfterRestart(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	f.post(t, "alice", 0)
	f.post(t, "bob", 0)

	// the bot goes down, traffic continues
	missed := []string{
		f.gateway.Post(channelID, "carol", 0),
		f.gateway.Post(channelID, "dave", 0),
	}
	if _, err := f.gateway.SendEmbed(context.Background(), channelID, discordutils.Embed("beep")); err != nil {
		t.Fatal(err)
	}

	store, err := state.Load(context.Background(), f.persist, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	f.store = store
	f.rebuild()

	added, err := f.voting.CatchUp(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 {
		t.Fatalf("added %d, want 2", added)
	}
	tracked := f.memes(t).TrackedMessages
	if len(tracked) != 4 || tracked[2] != missed[0] || tracked[3] != missed[1] {
		t.Errorf("tracked = %v", tracked)
	}

	added, err = f.voting.CatchUp(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 || len(f.memes(t).TrackedMessages) != 4 {
		t.Errorf("second catch-up added %d", added)
	}
}

func TestCatchUpPagesThroughHistory(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	for range 250 {
		f.gateway.Post(channelID, "alice", 0)
	}

	added, err := f.voting.CatchUp(context.Background(), guildID)
	if err != nil {
		t.Fatal(err)
	}
	if added != 250 {
		t.Errorf("added %d, want 250", added)
	}
	if calls := f.gateway.Calls(discordtest.OpList); calls != 4 {
		t.Errorf("listed %d pages, want 4", calls)
	}
}

func TestCatchUpFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	f.gateway.Fail(discordtest.OpList, errors.New("missing access"), 1)

	if _, err := f.voting.CatchUp(context.Background(), guildID); err == nil {
		t.Fatal("expected an error")
	}
}

func TestRunRemindsThenResets(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.OnSleep = func(time.Duration) {
		if len(f.clock.Sleeps()) == 3 {
			cancel()
		}
	}

	err := f.voting.Run(ctx, guildID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	sleeps := f.clock.Sleeps()
	want := []time.Duration{5 * 24 * time.Hour, 2 * 24 * time.Hour, 5 * 24 * time.Hour}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, sleeps[i], want[i])
		}
	}

	sent := f.gateway.Sent()
	var reminded bool
	for _, m := range sent {
		if strings.Contains(m.Embeds[0].Description, "No memes?") {
			reminded = true
			if m.Embeds[0].Image == nil {
				t.Error("reminder should carry an image")
			}
		}
	}
	if !reminded {
		t.Error("no reminder was sent")
	}
	if m := f.memes(t); !m.CycleStart.Equal(start.Add(models.CycleLength)) {
		t.Errorf("cycle start = %v", m.CycleStart)
	}
}

func TestRunSkipsReminderWithEntries(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	f.post(t, "alice", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.OnSleep = func(time.Duration) {
		if len(f.clock.Sleeps()) == 2 {
			cancel()
		}
	}
	_ = f.voting.Run(ctx, guildID)

	for _, m := range f.gateway.Sent() {
		if strings.Contains(m.Embeds[0].Description, "No memes?") {
			t.Error("reminder sent despite entries")
		}
	}
}

func TestRunPollsWhileDisabled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.OnSleep = func(time.Duration) { cancel() }

	_ = f.voting.Run(ctx, guildID)
	if sleeps := f.clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != time.Hour {
		t.Errorf("sleeps = %v", sleeps)
	}
}

func TestChannelManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	next, err := f.voting.SetChannel(ctx, guildID, channelID)
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(start.Add(models.CycleLength)) {
		t.Errorf("next reset = %v", next)
	}
	sent := f.gateway.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Embeds[0].Description, "Post your best memes!") {
		t.Fatalf("unexpected announcement %v", sent)
	}
	if f.memes(t).AnchorMessageID != sent[0].ID {
		t.Error("announcement should become the anchor")
	}

	err = f.store.Update(ctx, guildID, func(g *models.Guild) error {
		g.Memes.AddVictory("alice")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.voting.SetChannel(ctx, guildID, "other"); err != nil {
		t.Fatal(err)
	}
	if m := f.memes(t); m.Victories["alice"] != 1 || m.ChannelID != "other" {
		t.Errorf("moving channels should keep victories: %+v", m)
	}

	if err := f.voting.UnsetChannel(ctx, guildID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.voting.NextReset(guildID); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if err := f.voting.UnsetChannel(ctx, guildID); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	last := f.gateway.Sent()
	if !strings.Contains(last[len(last)-1].Embeds[0].Description, "Halt your memes!") {
		t.Error("missing goodbye message")
	}
}

func TestLeaderboardOrder(t *testing.T) {
	f := newFixture(t)
	f.setChannel(t)
	err := f.store.Update(context.Background(), guildID, func(g *models.Guild) error {
		g.Memes.Victories = map[string]int{"carol": 1, "bob": 3, "alice": 1}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	standings, err := f.voting.Leaderboard(guildID)
	if err != nil {
		t.Fatal(err)
	}
	want := []Standing{{"bob", 3}, {"alice", 1}, {"carol", 1}}
	if len(standings) != len(want) {
		t.Fatalf("got %v", standings)
	}
	for i := range want {
		if standings[i] != want[i] {
			t.Errorf("standing %d = %v, want %v", i, standings[i], want[i])
		}
	}
}

func TestPickVictor(t *testing.T) {
	mk := func(id string, total int) candidate {
		return candidate{message: &discordgo.Message{ID: id}, total: total}
	}
	cases := []struct {
		name       string
		candidates []candidate
		want       string
	}{
		{"empty", nil, ""},
		{"single", []candidate{mk("a", 0)}, "a"},
		{"tie keeps first", []candidate{mk("a", 2), mk("b", 2)}, "a"},
		{"strictly higher wins", []candidate{mk("a", 2), mk("b", 3), mk("c", 3)}, "b"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := pickVictor(c.candidates)
			if c.want == "" {
				if ok {
					t.Errorf("got %v", got.message.ID)
				}
				return
			}
			if !ok || got.message.ID != c.want {
				t.Errorf("got %v, want %s", got, c.want)
			}
		})
	}
}
