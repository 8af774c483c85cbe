// Package workflow starts and keeps alive the long-running, guild-scoped
// background loops.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"loki/models"
	"loki/state"
)

// Kind names one of the background workflows.
type Kind int

const (
	KindMemes Kind = iota
	KindNicknameLottery
)

// Kinds lists every workflow, in start order.
var Kinds = []Kind{KindMemes, KindNicknameLottery}

func (k Kind) String() string {
	switch k {
	case KindMemes:
		return "memes"
	case KindNicknameLottery:
		return "nickname_lottery"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Runner runs one guild's workflow until ctx is done.
type Runner func(ctx context.Context, guildID string) error

// Runners maps every kind to the function running it.
type Runners map[Kind]Runner

var errAlreadyStarted = errors.New("already started")

// Supervisor spawns one goroutine per guild and enabled workflow the first
// time the guild is observed.
type Supervisor struct {
	store    *state.Store
	runners  Runners
	enabled  map[Kind]bool
	instance string
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewSupervisor checks that every kind has a runner and returns a
// supervisor with a fresh instance id.
func NewSupervisor(
	store *state.Store,
	runners Runners,
	enabled map[Kind]bool,
	log zerolog.Logger,
) (*Supervisor, error) {
	for _, kind := range Kinds {
		if runners[kind] == nil {
			return nil, fmt.Errorf("no runner for %s workflow", kind)
		}
	}
	instance := uuid.NewString()
	return &Supervisor{
		store:    store,
		runners:  runners,
		enabled:  enabled,
		instance: instance,
		log:      log.With().Str("instance", instance).Logger(),
	}, nil
}

// Instance is the id this process marks started guilds with.
func (s *Supervisor) Instance() string {
	return s.instance
}

// GuildObserved starts the guild's workflows unless this process already
// has. It reports whether anything was started. The workflows run until ctx
// is done.
func (s *Supervisor) GuildObserved(ctx context.Context, guildID string) (bool, error) {
	log := s.log.With().Str("guild", guildID).Logger()

	err := s.store.Update(ctx, guildID, func(g *models.Guild) error {
		if g.StartedBy == s.instance {
			return errAlreadyStarted
		}
		g.StartedBy = s.instance
		return nil
	})
	if errors.Is(err, errAlreadyStarted) {
		log.Debug().Msg("Workflows already running.")
		return false, nil
	}
	if err != nil {
		// the flag is set in memory, so a failed save can't cause duplicates
		log.Warn().Err(err).Msg("Failed to persist started flag.")
	}

	for _, kind := range Kinds {
		if !s.enabled[kind] {
			continue
		}
		run := s.runners[kind]
		wlog := log.With().Stringer("workflow", kind).Logger()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			wlog.Info().Msg("Starting workflow.")
			if err := run(ctx, guildID); err != nil && !errors.Is(err, context.Canceled) {
				wlog.Error().Err(err).Msg("Workflow stopped.")
				return
			}
			wlog.Info().Msg("Workflow stopped.")
		}()
	}
	return true, err
}

// Wait blocks until every started workflow has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
