// Package tokens keeps the API token table in memory and refreshes it from
// a repository in the background.
package tokens

import (
	"sync"

	"mark2pdf/internal/domain"
)

// ScopeConvert lets a token call the conversion endpoint.
const ScopeConvert = "convert"

// Scope is a set of granted permissions.
type Scope map[string]bool

// Entry is one API token's settings.
type Entry struct {
	// RateLimit is requests per limiter window. 0 disables the per-token limit.
	RateLimit int
	Scope     Scope
}

// Allows reports whether the entry grants name. An empty scope grants everything.
func (e Entry) Allows(name string) bool {
	if len(e.Scope) == 0 {
		return true
	}
	return e.Scope[name]
}

// Cache is a concurrency-safe snapshot of the token table.
type Cache struct {
	mu sync.RWMutex
	m  map[string]Entry
}

func NewCache() *Cache {
	return &Cache{}
}

// Replace swaps in a copy of m. After the first call the cache is ready.
func (c *Cache) Replace(m map[string]Entry) {
	cp := make(map[string]Entry, len(m))
	for k, v := range m {
		cp[k] = v
	}
	c.mu.Lock()
	c.m = cp
	c.mu.Unlock()
}

// Ready is false until the first successful load.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m != nil
}

// Lookup returns the entry for token.
func (c *Cache) Lookup(token string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return Entry{}, domain.ErrTokenStoreNotReady
	}
	e, ok := c.m[token]
	if !ok {
		return Entry{}, domain.ErrInvalidAPIKey
	}
	return e, nil
}

// Validate checks that token exists and grants scope.
func (c *Cache) Validate(token, scope string) error {
	e, err := c.Lookup(token)
	if err != nil {
		return err
	}
	if !e.Allows(scope) {
		return domain.ErrInvalidAPIKey
	}
	return nil
}

// RateLimit returns the token's limit, or 0 when unknown.
func (c *Cache) RateLimit(token string) int {
	e, err := c.Lookup(token)
	if err != nil {
		return 0
	}
	return e.RateLimit
}

// Len is the number of cached tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
