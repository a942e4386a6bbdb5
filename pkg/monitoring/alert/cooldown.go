package alert

import (
	"context"
	"sync"
	"time"
)

// RecentAlertSource lists the alert signatures raised since a point in time
type RecentAlertSource interface {
	LastRaisedSince(ctx context.Context, since time.Time) (map[string]time.Time, error)
}

// Cooldown remembers when each alert signature was last raised. Rules running in
// the same tick share it, so every access is locked.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

// NewCooldown creates an empty cooldown cache
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Seed loads signatures raised within the window so a restart does not re-raise them
func (c *Cooldown) Seed(ctx context.Context, src RecentAlertSource, now time.Time) error {
	recent, err := src.LastRaisedSince(ctx, now.Add(-c.window))
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, at := range recent {
		if prev, ok := c.last[key]; !ok || at.After(prev) {
			c.last[key] = at
		}
	}
	return nil
}

// Active reports whether key was raised less than one window before now
func (c *Cooldown) Active(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.last[key]
	return ok && now.Sub(at) < c.window
}

// Mark records that key was raised at the given time
func (c *Cooldown) Mark(key string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = at
}

// LastRaised returns when key was last raised
func (c *Cooldown) LastRaised(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.last[key]
	return at, ok
}

// Prune forgets signatures whose window has elapsed and returns how many remain
func (c *Cooldown) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, at := range c.last {
		if now.Sub(at) >= c.window {
			delete(c.last, key)
		}
	}
	return len(c.last)
}
