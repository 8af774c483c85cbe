// Package rng provides injectable sources of randomness.
package rng

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source is the subset of a random generator the workflows draw from.
type Source interface {
	// IntN returns a uniform value in [0, n). n must be positive.
	IntN(n int) int
	// Int64N returns a uniform value in [0, n). n must be positive.
	Int64N(n int64) int64
	// Float64 returns a uniform value in [0.0, 1.0).
	Float64() float64
}

type locked struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a goroutine-safe source seeded with seed.
func New(seed uint64) Source {
	return &locked{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Seeded returns a goroutine-safe source seeded from the current time.
func Seeded() Source {
	return New(uint64(time.Now().UnixNano()))
}

func (l *locked) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *locked) Int64N(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int64N(n)
}

func (l *locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Chance reports true with probability p.
func Chance(src Source, p float64) bool {
	return src.Float64() < p
}

// Script replays fixed values, cycling through each list. Values out of
// range for a call are clamped to it.
type Script struct {
	mu      sync.Mutex
	Ints    []int
	Int64s  []int64
	Floats  []float64
	i, j, k int
}

func (s *Script) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Ints) == 0 {
		return 0
	}
	v := s.Ints[s.i%len(s.Ints)]
	s.i++
	return min(max(v, 0), n-1)
}

func (s *Script) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Int64s) == 0 {
		return 0
	}
	v := s.Int64s[s.j%len(s.Int64s)]
	s.j++
	return min(max(v, 0), n-1)
}

func (s *Script) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Floats) == 0 {
		return 0
	}
	v := s.Floats[s.k%len(s.Floats)]
	s.k++
	return v
}
