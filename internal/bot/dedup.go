package bot

import (
	"sync"
	"time"
)

// defaultDedupTTL is how long an inbound sequence token is remembered.
// Telegram redelivers updates when the webhook answers slowly; a short
// window is enough to drop those duplicates before they reach the FSM.
const defaultDedupTTL = 5 * time.Minute

// dedupCache remembers recently seen sequence tokens.
type dedupCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &dedupCache{ttl: ttl, seen: make(map[string]time.Time)}
}

// Duplicate records the token and reports whether it was already seen inside
// the TTL window. Expired entries are pruned on the way through.
func (c *dedupCache) Duplicate(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.ttl)
	for k, at := range c.seen {
		if at.Before(cutoff) {
			delete(c.seen, k)
		}
	}

	if at, ok := c.seen[token]; ok && !at.Before(cutoff) {
		return true
	}
	c.seen[token] = now
	return false
}
