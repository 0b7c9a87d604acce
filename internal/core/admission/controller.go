// Package admission decides whether a client may issue another request,
// using a per-client sliding-window log of recent request times.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/tollgate/tollgate/internal/metrics"
)

// Limits configures the sliding window.
type Limits struct {
	// Requests is the number of requests admitted per window.
	Requests int
	// Period is the window length.
	Period time.Duration
	// CleanupInterval is how long a client may stay idle before its window
	// is dropped from the table. Values below Period are raised to Period.
	CleanupInterval time.Duration
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	// RetryAfter is set on denial: the time until the oldest retained
	// request leaves the window.
	RetryAfter time.Duration
}

// clientWindow holds the admitted request times of one client.
type clientWindow struct {
	stamps []time.Time
	last   time.Time
}

// Controller is the process-wide admission table. The zero value is not
// usable; construct with New.
type Controller struct {
	limits Limits

	mu          sync.Mutex
	clients     map[string]*clientWindow
	lastCleanup time.Time
}

// New creates a controller. Requests and Period must be positive; the
// config layer validates them before this is reached.
func New(limits Limits) *Controller {
	if limits.Requests < 1 {
		limits.Requests = 1
	}
	if limits.Period <= 0 {
		limits.Period = time.Second
	}
	if limits.CleanupInterval < limits.Period {
		limits.CleanupInterval = limits.Period
	}
	return &Controller{
		limits:  limits,
		clients: make(map[string]*clientWindow),
	}
}

// Limits returns the effective limits after normalization.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Admit reports whether clientID may issue a request at now. An admitted
// request is recorded; a denied one is not.
func (c *Controller) Admit(clientID string, now time.Time) bool {
	return c.Check(clientID, now).Allowed
}

// Check is Admit with the retry hint for denied requests.
func (c *Controller) Check(clientID string, now time.Time) Decision {
	c.mu.Lock()
	decision := c.checkLocked(clientID, now)
	tracked := len(c.clients)
	c.mu.Unlock()

	metrics.RecordAdmission(decision.Allowed)
	metrics.SetAdmissionClients(tracked)
	return decision
}

func (c *Controller) checkLocked(clientID string, now time.Time) Decision {
	if c.lastCleanup.IsZero() {
		c.lastCleanup = now
	} else if now.Sub(c.lastCleanup) >= c.limits.CleanupInterval {
		c.sweepLocked(now)
		c.lastCleanup = now
	}

	window, ok := c.clients[clientID]
	if !ok {
		window = &clientWindow{stamps: make([]time.Time, 0, c.limits.Requests)}
		c.clients[clientID] = window
	}
	window.last = now

	// Callers may race on now, so the log is not assumed sorted.
	cutoff := now.Add(-c.limits.Period)
	kept := window.stamps[:0]
	for _, ts := range window.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	window.stamps = kept

	if len(window.stamps) < c.limits.Requests {
		window.stamps = append(window.stamps, now)
		return Decision{Allowed: true}
	}

	oldest := window.stamps[0]
	for _, ts := range window.stamps[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	retry := oldest.Add(c.limits.Period).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return Decision{Allowed: false, RetryAfter: retry}
}

// Sweep drops every client idle for longer than the cleanup interval and
// returns how many were removed.
func (c *Controller) Sweep(now time.Time) int {
	c.mu.Lock()
	removed := c.sweepLocked(now)
	c.lastCleanup = now
	tracked := len(c.clients)
	c.mu.Unlock()

	metrics.SetAdmissionClients(tracked)
	return removed
}

func (c *Controller) sweepLocked(now time.Time) int {
	stale := now.Add(-c.limits.CleanupInterval)
	removed := 0
	for id, window := range c.clients {
		if window.last.Before(stale) {
			delete(c.clients, id)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients.
func (c *Controller) Clients() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Run sweeps idle clients every cleanup interval until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.limits.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}
