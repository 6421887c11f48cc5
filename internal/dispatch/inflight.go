package dispatch

import (
	"context"
	"sync"

	"monitoring/internal/metrics"
)

// InFlight counts handler dispatches that have started but not finished.
// Params: counter plus a channel closed whenever the count is zero.
// Returns: counter awaited by shutdown.
type InFlight struct {
	mu    sync.Mutex
	count int
	zero  chan struct{}
}

// NewInFlight creates a zero counter.
func NewInFlight() *InFlight {
	zero := make(chan struct{})
	close(zero)
	return &InFlight{zero: zero}
}

// Add increments the counter.
func (c *InFlight) Add(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		c.zero = make(chan struct{})
	}
	c.count += n
	metrics.HandlersInFlight.Add(float64(n))
}

// Done decrements the counter; it never goes below zero.
func (c *InFlight) Done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		return
	}
	c.count--
	metrics.HandlersInFlight.Dec()
	if c.count == 0 {
		close(c.zero)
	}
}

// Count returns the current value.
func (c *InFlight) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Wait blocks until the counter reaches zero.
// Params: context bounding the wait.
// Returns: context error when cancelled first.
func (c *InFlight) Wait(ctx context.Context) error {
	c.mu.Lock()
	zero := c.zero
	c.mu.Unlock()
	select {
	case <-zero:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
