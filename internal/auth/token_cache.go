package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/xiaot623/gogo/realtime/internal/domain"
)

type cacheEntry struct {
	principal domain.Principal
	expiresAt time.Time
}

// TokenCache maps raw credentials to verified principals for a fixed TTL.
// Expired entries are treated as misses and dropped on read; Sweep removes
// the rest.
type TokenCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewTokenCache builds a cache. A non-positive ttl falls back to 5 minutes.
func NewTokenCache(ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Keys are hashed so raw credentials are not retained in memory.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached principal for token, if present and unexpired.
func (c *TokenCache) Get(token string) (domain.Principal, bool) {
	key := cacheKey(token)
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Principal{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return domain.Principal{}, false
	}
	return e.principal, true
}

// Set stores principal for token.
func (c *TokenCache) Set(token string, principal domain.Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(token)] = cacheEntry{principal: principal, expiresAt: c.now().Add(c.ttl)}
}

// Sweep drops every expired entry and returns how many were removed.
func (c *TokenCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
