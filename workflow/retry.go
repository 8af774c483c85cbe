package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"loki/clock"
	"loki/discordutils"
	"loki/notify"
)

// Retry is the error policy shared by every workflow: transient failures
// are logged and retried, anything else is also escalated to the sink.
// Nothing short of ctx ending stops a loop.
type Retry struct {
	Log   zerolog.Logger
	Sink  notify.Sink
	Clock clock.Clock
	Delay time.Duration
	// What describes the loop in notifications.
	What string
}

// Loop runs body until it returns nil or ctx is done, waiting Delay after
// every failure. Panics count as failures.
func (r Retry) Loop(ctx context.Context, body func(ctx context.Context) error) error {
	for {
		err := r.attempt(ctx, body)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		r.report(ctx, err)
		if err := r.Clock.Sleep(ctx, r.Delay); err != nil {
			return err
		}
	}
}

// Until runs op until it succeeds, waiting Delay between attempts. Only the
// first non-transient failure is escalated.
func (r Retry) Until(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	escalated := false
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if escalated || discordutils.IsTransient(err) {
			r.Log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", r.Delay).Msgf("Failed to %s.", op)
		} else {
			r.report(ctx, fmt.Errorf("%s: %w", op, err))
			escalated = true
		}
		if err := r.Clock.Sleep(ctx, r.Delay); err != nil {
			return err
		}
	}
}

func (r Retry) attempt(ctx context.Context, body func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return body(ctx)
}

func (r Retry) report(ctx context.Context, err error) {
	if discordutils.IsTransient(err) {
		r.Log.Warn().Err(err).Dur("retry_in", r.Delay).Msg("Transient failure, retrying.")
		return
	}
	r.Log.Error().Err(err).Dur("retry_in", r.Delay).Msg("Unexpected failure.")
	if r.Sink != nil {
		r.Sink.Notify(ctx, notify.EventError, fmt.Sprintf("**%s failed**\n```\n%v\n```", r.What, err))
	}
}
