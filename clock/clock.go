// Package clock abstracts wall-clock time and sleeping so workflows can be
// driven deterministically in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock tells the time and suspends the calling goroutine.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

type system struct {
	loc *time.Location
}

// Real returns the process clock, reporting times in loc.
func Real(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return system{loc: loc}
}

func (r system) Now() time.Time { return time.Now().In(r.loc) }

func (r system) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SleepUntil sleeps until the given instant.
func SleepUntil(ctx context.Context, c Clock, at time.Time) error {
	return c.Sleep(ctx, at.Sub(c.Now()))
}

// Fake is a manually driven clock. Sleeping advances the clock instantly.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// OnSleep, if set, runs after every sleep with the requested duration.
	OnSleep func(d time.Duration)
}

// NewFake returns a fake clock set to now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	if d > 0 {
		f.now = f.now.Add(d)
	}
	hook := f.OnSleep
	f.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

// Sleeps returns every duration passed to Sleep so far.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}
