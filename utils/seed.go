package utils

import (
	"fmt"
	"math"
	"sync"
)

// Seed hands out program seeds. Values are seed*divisor + remainder, so
// workers configured with Modulo(p, rank) never draw the same value.
// A State build takes Get as its SEED macro and the caller then skips the
// number of draws the build reports.
type Seed struct {
	mu        sync.Mutex
	seed      uint64
	divisor   uint64
	remainder uint64
}

// NewSeed starts a generator at seed
func NewSeed(seed uint64) *Seed {
	s := &Seed{divisor: 1}
	s.Set(seed)
	return s
}

// Get returns the current value without advancing
func (s *Seed) Get() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed*s.divisor + s.remainder
}

// Skip advances by steps, wrapping at the largest representable seed
func (s *Seed) Skip(steps uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := s.maxSeed()
	if steps > limit-s.seed {
		s.seed = steps - (limit - s.seed) - 1
		return
	}
	s.seed += steps
}

// Set restarts the generator at seed, wrapped into range
func (s *Seed) Set(seed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = wrap(seed, s.maxSeed())
}

// Modulo partitions the value space. Panics if div is zero or rem >= div.
func (s *Seed) Modulo(div, rem uint64) {
	if div == 0 || rem >= div {
		panic(fmt.Sprintf("Seed.Modulo: invalid divisor %d and remainder %d", div, rem))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.divisor = div
	s.remainder = rem
	s.seed = wrap(s.seed, s.maxSeed())
}

// maxSeed is the largest seed whose value does not overflow
func (s *Seed) maxSeed() uint64 {
	if s.divisor <= 1 {
		return math.MaxUint64 - s.remainder
	}
	return (math.MaxUint64 - s.remainder) / s.divisor
}

func wrap(seed, limit uint64) uint64 {
	if seed <= limit {
		return seed
	}
	return seed % (limit + 1)
}
