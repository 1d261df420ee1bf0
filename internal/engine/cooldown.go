package engine

import (
	"sync"
	"time"
)

type cooldownKey struct {
	accountID string
	symbol    string
}

// symbolCooldown prevents rapid re-trading of the same (account, symbol)
// pair. Acquire is check-and-set under one lock so exactly one of two
// concurrent attempts inside the window wins the slot. Process-local by
// design: best-effort protection, never a capital-safety mechanism.
type symbolCooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[cooldownKey]time.Time
}

func newSymbolCooldown(window time.Duration) *symbolCooldown {
	return &symbolCooldown{
		window: window,
		last:   make(map[cooldownKey]time.Time),
	}
}

// Acquire claims the trading slot for (accountID, symbol) at now. Returns
// false when a prior claim is still inside the window.
func (c *symbolCooldown) Acquire(accountID, symbol string, now time.Time) bool {
	if c.window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cooldownKey{accountID, symbol}
	if prev, ok := c.last[key]; ok && now.Sub(prev) < c.window {
		return false
	}
	c.last[key] = now
	return true
}

// Relinquish gives back a slot claimed at stamp, so a broker failure does not
// burn the cooldown window. A slot re-claimed in the meantime is left alone.
func (c *symbolCooldown) Relinquish(accountID, symbol string, stamp time.Time) {
	if c.window <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cooldownKey{accountID, symbol}
	if prev, ok := c.last[key]; ok && prev.Equal(stamp) {
		delete(c.last, key)
	}
}
