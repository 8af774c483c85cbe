// Package state keeps every guild's workflow records in memory and writes
// them through to persistent storage after each mutation.
//
// Each guild is guarded by its own lock: reads share it, a mutation holds it
// exclusively only for the in-memory change and the save that follows.
// Callers must never perform network calls inside View or Update.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"loki/models"

	"github.com/rs/zerolog"
)

// ErrUnknownGuild is returned when viewing a guild the store has never seen.
var ErrUnknownGuild = errors.New("unknown guild")

// Persister loads and saves whole guild documents.
type Persister interface {
	SaveGuild(ctx context.Context, guild *models.Guild) error
	LoadGuilds(ctx context.Context) ([]models.Guild, error)
}

type entry struct {
	mu    sync.RWMutex
	guild models.Guild
}

// Store is the process-wide set of guild records.
type Store struct {
	mu      sync.Mutex
	guilds  map[string]*entry
	persist Persister
	log     zerolog.Logger
}

// New returns an empty store writing through to persist.
func New(persist Persister, log zerolog.Logger) *Store {
	return &Store{
		guilds:  make(map[string]*entry),
		persist: persist,
		log:     log,
	}
}

// Load returns a store populated with every guild persist knows about.
func Load(ctx context.Context, persist Persister, log zerolog.Logger) (*Store, error) {
	s := New(persist, log)
	guilds, err := persist.LoadGuilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load guilds: %w", err)
	}
	for _, g := range guilds {
		s.guilds[g.ID] = &entry{guild: g}
	}
	log.Info().Int("guilds", len(guilds)).Msg("Loaded guild state.")
	return s, nil
}

func (s *Store) lookup(guildID string, create bool) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.guilds[guildID]
	if !ok && create {
		e = &entry{guild: models.Guild{ID: guildID}}
		s.guilds[guildID] = e
	}
	return e
}

// View runs fn with shared access to the guild's record. fn must not keep
// references into the record after it returns.
func (s *Store) View(guildID string, fn func(g *models.Guild)) error {
	e := s.lookup(guildID, false)
	if e == nil {
		return ErrUnknownGuild
	}
	s.log.Trace().Str("guild", guildID).Msg("Acquiring read handle.")
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(&e.guild)
	return nil
}

// Snapshot returns a deep copy of the guild's record.
func (s *Store) Snapshot(guildID string) (models.Guild, bool) {
	var out models.Guild
	err := s.View(guildID, func(g *models.Guild) {
		out = g.Clone()
	})
	return out, err == nil
}

// Update runs fn with exclusive access to the guild's record, creating the
// record if needed, and saves the result. If fn returns an error nothing is
// saved. A failed save leaves the in-memory change applied.
func (s *Store) Update(ctx context.Context, guildID string, fn func(g *models.Guild) error) error {
	e := s.lookup(guildID, true)
	s.log.Trace().Str("guild", guildID).Msg("Acquiring write handle.")
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(&e.guild); err != nil {
		return err
	}
	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveGuild(ctx, &e.guild); err != nil {
		s.log.Error().Err(err).Str("guild", guildID).Msg("Failed to save guild state.")
		return fmt.Errorf("save guild %s: %w", guildID, err)
	}
	return nil
}

// Guilds returns the ids of every known guild, sorted.
func (s *Store) Guilds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Memory is a Persister that keeps saved documents in memory.
type Memory struct {
	mu     sync.Mutex
	guilds map[string]models.Guild
	saves  int

	// Err, if set, is returned from every save.
	Err error
}

// NewMemory returns an empty in-memory persister.
func NewMemory(guilds ...models.Guild) *Memory {
	m := &Memory{guilds: make(map[string]models.Guild)}
	for _, g := range guilds {
		m.guilds[g.ID] = g.Clone()
	}
	return m
}

func (m *Memory) SaveGuild(_ context.Context, guild *models.Guild) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.guilds[guild.ID] = guild.Clone()
	m.saves++
	return nil
}

func (m *Memory) LoadGuilds(context.Context) ([]models.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Guild, 0, len(m.guilds))
	for _, g := range m.guilds {
		out = append(out, g.Clone())
	}
	return out, nil
}

// Saved returns the last saved copy of a guild.
func (m *Memory) Saved(guildID string) (models.Guild, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	return g.Clone(), ok
}

// Saves returns the number of successful saves.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
