package clock

import "sync/atomic"

// Lamport is a Lamport logical clock.
//
// Thread-safety: Lamport is safe for concurrent use. Tick and Receive are
// linearizable, so two calls never return the same time.
type Lamport struct {
	ts atomic.Int64
}

// NewLamport creates a clock starting at 0.
func NewLamport() *Lamport {
	return &Lamport{}
}

// NewLamportAt creates a clock resuming at a persisted value.
func NewLamportAt(start int64) *Lamport {
	c := &Lamport{}
	c.ts.Store(start)
	return c
}

// Tick increments the clock before a local event and returns the new time.
func (c *Lamport) Tick() int64 {
	return c.ts.Add(1)
}

// Receive sets the clock to max(own, received) + 1 and returns the new time.
func (c *Lamport) Receive(received int64) int64 {
	for {
		cur := c.ts.Load()
		next := max(cur, received) + 1
		if c.ts.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Observe raises the clock to at least seen without consuming a tick.
// Used when restoring state so later local stamps dominate everything held.
func (c *Lamport) Observe(seen int64) {
	for {
		cur := c.ts.Load()
		if seen <= cur || c.ts.CompareAndSwap(cur, seen) {
			return
		}
	}
}

// Value returns the current time without advancing it.
func (c *Lamport) Value() int64 { return c.ts.Load() }

// Set seeds the clock, for example from storage at startup.
func (c *Lamport) Set(v int64) { c.ts.Store(v) }
