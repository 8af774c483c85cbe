// Package notify delivers operator-facing events to subscribed users.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"loki/discordutils"
)

// Event identifies what happened.
type Event string

const (
	EventStartup Event = "startup"
	EventError   Event = "error"
	EventLottery Event = "lottery"
	EventStream  Event = "stream"
)

// Events lists every event users can subscribe to.
var Events = []Event{EventStartup, EventError, EventLottery, EventStream}

// ParseEvent returns the event with the given name.
func ParseEvent(name string) (Event, error) {
	for _, e := range Events {
		if string(e) == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown event %q", name)
}

// Sink accepts events for asynchronous delivery. Delivery failures are the
// sink's problem, never the caller's.
type Sink interface {
	Notify(ctx context.Context, event Event, message string)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event, string) {}

const deliveryTimeout = 30 * time.Second

// Subscribers direct messages each event to the users subscribed to it.
type Subscribers struct {
	gateway     discordutils.Gateway
	subscribers map[Event][]string
	log         zerolog.Logger
	wg          sync.WaitGroup
}

// NewSubscribers returns a sink delivering through gateway.
func NewSubscribers(
	gateway discordutils.Gateway,
	subscribers map[Event][]string,
	log zerolog.Logger,
) *Subscribers {
	return &Subscribers{
		gateway:     gateway,
		subscribers: subscribers,
		log:         log.With().Str("component", "notify").Logger(),
	}
}

func (s *Subscribers) Notify(ctx context.Context, event Event, message string) {
	users := s.subscribers[event]
	if len(users) == 0 {
		s.log.Debug().Str("event", string(event)).Msg("No subscribers for event.")
		return
	}

	embed := discordutils.Embed(fmt.Sprintf(
		"%s\n\n_You're receiving this message because you're subscribed to the `%s` event._",
		message,
		event,
	))

	// delivery outlives the caller
	ctx = context.WithoutCancel(ctx)
	for _, user := range users {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
			defer cancel()
			if err := s.gateway.DirectMessage(ctx, user, embed); err != nil {
				s.log.Error().
					Err(err).
					Str("event", string(event)).
					Str("user", user).
					Msg("Could not DM subscriber.")
			}
		}()
	}
}

// Wait blocks until every delivery started so far has finished.
func (s *Subscribers) Wait() {
	s.wg.Wait()
}

// Note is a single recorded event.
type Note struct {
	Event   Event
	Message string
}

// Recorder keeps every event it's given.
type Recorder struct {
	mu    sync.Mutex
	notes []Note
}

func (r *Recorder) Notify(_ context.Context, event Event, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, Note{Event: event, Message: message})
}

// Notes returns the events recorded so far.
func (r *Recorder) Notes() []Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Note(nil), r.notes...)
}
