// Package shutdown provides the process-wide stop latch and bounded joins of
// the relay's long-running goroutines.
package shutdown

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Coordinator is a one-way stop latch. Once stopped it stays stopped.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu      sync.Mutex
	running map[string]int
	wg      sync.WaitGroup
}

// New returns a coordinator that also stops when parent is cancelled.
func New(parent context.Context) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{ctx: ctx, cancel: cancel, running: make(map[string]int)}
}

// Stop sets the latch. Safe to call any number of times from any goroutine.
func (c *Coordinator) Stop() {
	c.once.Do(func() {
		slog.Debug("stop requested")
		c.cancel()
	})
}

// Stopped reports whether the latch is set.
func (c *Coordinator) Stopped() bool {
	return c.ctx.Err() != nil
}

// Done is closed once the latch is set.
func (c *Coordinator) Done() <-chan struct{} { return c.ctx.Done() }

// Context is cancelled once the latch is set.
func (c *Coordinator) Context() context.Context { return c.ctx }

// Sleep waits for d or until the latch is set. It returns false when the wait
// was cut short by a stop.
func (c *Coordinator) Sleep(d time.Duration) bool {
	if d <= 0 {
		return !c.Stopped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return !c.Stopped()
	}
}

// Go runs fn in a tracked goroutine. fn should return promptly once ctx is done.
func (c *Coordinator) Go(name string, fn func(ctx context.Context)) {
	c.mu.Lock()
	c.running[name]++
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer func() {
			c.mu.Lock()
			if c.running[name]--; c.running[name] <= 0 {
				delete(c.running, name)
			}
			c.mu.Unlock()
			c.wg.Done()
		}()
		fn(c.ctx)
	}()
}

// Join waits up to timeout for tracked goroutines to return and reports the
// names of those still running afterwards.
func (c *Coordinator) Join(timeout time.Duration) []string {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.running))
	for name := range c.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
