package compiler

import (
	"sync"
	"time"
)

// Observer is told about every pipeline stage and cache lookup.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveStage(template string, stage Stage, elapsed time.Duration, err error)
	ObserveCache(template string, hit bool)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, Stage, time.Duration, error) {}
func (nopObserver) ObserveCache(string, bool)                        {}

// Counters is an Observer that counts stage runs and cache outcomes.
type Counters struct {
	mu     sync.Mutex
	stages map[Stage]int
	failed map[Stage]int
	hits   int
	misses int
}

func NewCounters() *Counters {
	return &Counters{stages: map[Stage]int{}, failed: map[Stage]int{}}
}

func (c *Counters) ObserveStage(_ string, stage Stage, _ time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages[stage]++
	if err != nil {
		c.failed[stage]++
	}
}

func (c *Counters) ObserveCache(_ string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

// Runs returns how many times stage ran.
func (c *Counters) Runs(stage Stage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stages[stage]
}

// Failures returns how many runs of stage failed.
func (c *Counters) Failures(stage Stage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed[stage]
}

func (c *Counters) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

func (c *Counters) Misses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}
