package admission

import (
	"context"
	"sync"
	"time"

	"github.com/nguyentantai21042004/voicebrief/internal/logger"
)

type ledgerEntry struct {
	// lastAdmitted is the arrival time of the last admitted request.
	// The throttle window is measured from this stamp only: pipeline
	// completion never extends it.
	lastAdmitted time.Time
	// lastSeen drives expiry. Touched on admission and completion.
	lastSeen time.Time
}

type implController struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
	window  time.Duration
	logger  logger.Logger
}

// New creates a Controller with the given throttle window. Entries idle
// for 2x the window are removed by the janitor, bounding memory to
// recently active users.
func New(window time.Duration, log logger.Logger) *implController {
	return &implController{
		entries: make(map[string]*ledgerEntry),
		window:  window,
		logger:  log,
	}
}

// TryAdmit checks and stamps under one mutex hold, so two requests for
// the same user arriving microseconds apart cannot both pass.
func (c *implController) TryAdmit(id string, now time.Time) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[id]
	if ok {
		elapsed := now.Sub(ent.lastAdmitted)
		if elapsed < c.window {
			return Decision{Admitted: false, RetryAfter: c.window - elapsed}
		}
		ent.lastAdmitted = now
		ent.lastSeen = now
		return Decision{Admitted: true}
	}

	c.entries[id] = &ledgerEntry{lastAdmitted: now, lastSeen: now}
	return Decision{Admitted: true}
}

// Complete marks the end of a pipeline run (success or failure). Only
// lastSeen moves, keeping the entry alive for the janitor without
// extending the throttle window.
func (c *implController) Complete(id string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[id]; ok {
		ent.lastSeen = now
	}
}

// sweep removes entries idle longer than 2x the window.
func (c *implController) sweep(now time.Time) int {
	cutoff := now.Add(-2 * c.window)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, ent := range c.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// StartJanitor runs a periodic sweep until ctx is cancelled.
func (c *implController) StartJanitor(ctx context.Context) {
	t := time.NewTicker(c.window)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				if n := c.sweep(now); n > 0 {
					c.logger.Debug(ctx, "Admission janitor removed %d idle entries", n)
				}
			}
		}
	}()
}

// Len reports the number of live ledger entries.
func (c *implController) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
