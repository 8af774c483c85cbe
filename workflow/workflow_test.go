package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"loki/models"
	"loki/state"
)

type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) runner(name string) Runner {
	return func(_ context.Context, guildID string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.calls == nil {
			c.calls = make(map[string]int)
		}
		c.calls[name+"/"+guildID]++
		return nil
	}
}

func (c *counter) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

func TestGuildObservedStartsOnce(t *testing.T) {
	store := state.New(state.NewMemory(), zerolog.Nop())
	var c counter
	sup, err := NewSupervisor(store, Runners{
		KindMemes:           c.runner("memes"),
		KindNicknameLottery: c.runner("lottery"),
	}, map[Kind]bool{KindMemes: true, KindNicknameLottery: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for range 3 {
		if _, err := sup.GuildObserved(ctx, "g1"); err != nil {
			t.Fatal(err)
		}
	}
	sup.Wait()

	if got := c.get("memes/g1"); got != 1 {
		t.Errorf("memes started %d times, want 1", got)
	}
	if got := c.get("lottery/g1"); got != 1 {
		t.Errorf("lottery started %d times, want 1", got)
	}

	g, _ := store.Snapshot("g1")
	if g.StartedBy != sup.Instance() {
		t.Errorf("StartedBy = %q, want %q", g.StartedBy, sup.Instance())
	}
}

func TestGuildObservedSkipsDisabledKinds(t *testing.T) {
	store := state.New(nil, zerolog.Nop())
	var c counter
	sup, err := NewSupervisor(store, Runners{
		KindMemes:           c.runner("memes"),
		KindNicknameLottery: c.runner("lottery"),
	}, map[Kind]bool{KindMemes: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sup.GuildObserved(context.Background(), "g1"); err != nil {
		t.Fatal(err)
	}
	sup.Wait()

	if c.get("lottery/g1") != 0 {
		t.Error("disabled workflow was started")
	}
	if c.get("memes/g1") != 1 {
		t.Error("enabled workflow was not started")
	}
}

func TestGuildObservedAfterRestart(t *testing.T) {
	persist := state.NewMemory(models.Guild{ID: "g1", StartedBy: "previous-process"})
	store, err := state.Load(context.Background(), persist, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	var c counter
	sup, err := NewSupervisor(store, Runners{
		KindMemes:           c.runner("memes"),
		KindNicknameLottery: c.runner("lottery"),
	}, map[Kind]bool{KindMemes: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	started, err := sup.GuildObserved(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	sup.Wait()

	if !started || c.get("memes/g1") != 1 {
		t.Error("workflows marked by a previous process should start again")
	}
	saved, _ := persist.Saved("g1")
	if saved.StartedBy != sup.Instance() {
		t.Errorf("persisted StartedBy = %q", saved.StartedBy)
	}
}

func TestGuildObservedSaveFailureDoesNotDuplicate(t *testing.T) {
	persist := state.NewMemory()
	persist.Err = errors.New("disk full")
	store := state.New(persist, zerolog.Nop())
	var c counter
	sup, err := NewSupervisor(store, Runners{
		KindMemes:           c.runner("memes"),
		KindNicknameLottery: c.runner("lottery"),
	}, map[Kind]bool{KindMemes: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	started, err := sup.GuildObserved(context.Background(), "g1")
	if !started || err == nil {
		t.Fatalf("started = %v, err = %v", started, err)
	}
	started, _ = sup.GuildObserved(context.Background(), "g1")
	sup.Wait()

	if started || c.get("memes/g1") != 1 {
		t.Error("workflow started twice")
	}
}

func TestNewSupervisorRequiresEveryRunner(t *testing.T) {
	var c counter
	_, err := NewSupervisor(state.New(nil, zerolog.Nop()), Runners{
		KindMemes: c.runner("memes"),
	}, nil, zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error for the missing lottery runner")
	}
}

func TestKindString(t *testing.T) {
	if KindMemes.String() != "memes" || KindNicknameLottery.String() != "nickname_lottery" {
		t.Error("unexpected kind names")
	}
	if Kind(7).String() != "Kind(7)" {
		t.Errorf("got %q", Kind(7).String())
	}
}
