// Package cache stores compiled template artifacts with a lifetime. Expired
// entries read as absent; physically removing them is left to a sweep that
// runs on a random fraction of calls.
package cache

import (
	"log/slog"
	"math/rand/v2"
	"time"
)

// Cache is a key to artifact store. Implementations are safe for concurrent
// use and a reader never observes a partially written entry.
type Cache interface {
	// Get returns the artifact for key, or false when it is missing or
	// expired.
	Get(key string) (string, bool, error)
	// Set stores an artifact. A lifetime <= 0 stores nothing.
	Set(key, artifact string, lifetime time.Duration) error
	Has(key string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	Flush() error
}

// Collector is implemented by caches that can sweep expired entries.
type Collector interface {
	GC() (int, error)
}

// Default GC odds: one sweep per hundred calls.
const (
	DefaultGCChance = 1
	DefaultGCTotal  = 100
)

// Entry is a stored artifact.
type Entry struct {
	Key       string        `json:"key"`
	Artifact  string        `json:"artifact"`
	CreatedAt time.Time     `json:"created_at"`
	Lifetime  time.Duration `json:"lifetime_ns"`
}

// Expired reports whether more than Lifetime has passed since CreatedAt.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.Lifetime
}

type Option func(*settings)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithGC sets the odds chance/total of a sweep on each call. A zero chance
// disables sweeping.
func WithGC(chance, total int) Option {
	return func(s *settings) { s.chance, s.total = chance, total }
}

// WithRand replaces the random source used for GC rolls. intn(n) must
// return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(s *settings) { s.intn = intn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

type settings struct {
	now    func() time.Time
	intn   func(int) int
	chance int
	total  int
	logger *slog.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		now:    time.Now,
		intn:   rand.IntN,
		chance: DefaultGCChance,
		total:  DefaultGCTotal,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func (s *settings) roll() bool {
	return s.chance > 0 && s.total > 0 && s.intn(s.total) < s.chance
}

// maybeCollect runs gc on a random fraction of calls. Sweep failures are
// logged, never returned to the caller.
func (s *settings) maybeCollect(gc func() (int, error)) {
	if !s.roll() {
		return
	}
	n, err := gc()
	if err != nil {
		s.logger.Warn("cache gc failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("cache gc", "removed", n)
	}
}
