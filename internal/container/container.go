// Package container memoizes per-adapter container resolution. Every
// backend scopes vault objects to one dedicated container (app folder,
// path prefix, bucket prefix); resolving or creating it happens once per
// adapter lifetime, and concurrent first calls collapse into a single
// backend call.
package container

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache resolves a container ID at most once. The zero value is ready to
// use.
type Cache struct {
	group singleflight.Group

	mu sync.Mutex
	id string
	ok bool
}

// Resolve returns the memoized container ID, calling resolve at most
// once across concurrent callers. Failures are not memoized — the next
// call retries.
func (c *Cache) Resolve(ctx context.Context, resolve func(ctx context.Context) (string, error)) (string, error) {
	c.mu.Lock()
	if c.ok {
		id := c.id
		c.mu.Unlock()

		return id, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("container", func() (any, error) {
		// Re-check under the flight: a previous winner may have filled
		// the cache between the fast path and joining the group.
		c.mu.Lock()
		if c.ok {
			id := c.id
			c.mu.Unlock()

			return id, nil
		}
		c.mu.Unlock()

		id, err := resolve(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.id = id
		c.ok = true
		c.mu.Unlock()

		return id, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Reset drops the memoized ID. Called on Disconnect so a new session
// re-resolves.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.id = ""
	c.ok = false
}
