// Package token holds the bearer credential harvested from the brokerage tab.
package token

import (
	"strings"
	"sync"
)

const bearerPrefix = "Bearer "

// Cache is a single-slot, first-wins store for a bearer credential.
// Once a token is stored every later offer is ignored until Reset.
type Cache struct {
	mu    sync.RWMutex
	token string
}

func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached credential, including its "Bearer " prefix.
func (c *Cache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.token != ""
}

// Set offers a credential. It reports whether the offer was stored.
func (c *Cache) Set(token string) bool {
	token = strings.TrimSpace(token)
	if !IsBearer(token) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return false
	}
	c.token = token
	return true
}

// Reset clears the slot. Only a page reload does this in practice.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// IsBearer reports whether the header value carries a non-empty bearer credential.
func IsBearer(value string) bool {
	if len(value) <= len(bearerPrefix) {
		return false
	}
	return strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) &&
		strings.TrimSpace(value[len(bearerPrefix):]) != ""
}
