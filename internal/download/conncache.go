package download

import (
	"context"
	"sync"

	"github.com/phenodcc/crawler/internal/database"
	"github.com/phenodcc/crawler/internal/discovery"
	lru "github.com/hashicorp/golang-lru/v2"
)

// connCache is a per-worker, per-hostname cache of live transport
// connections (§4.7: "per-protocol cache keyed by hostname within this
// worker only"). It is never shared across workers. Evicted or
// explicitly closed entries release their underlying connection.
type connCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, discovery.Driver]
}

func newConnCache(size int) *connCache {
	if size < 1 {
		size = 1
	}
	c := &connCache{}
	c.cache, _ = lru.NewWithEvict(size, func(_ string, driver discovery.Driver) {
		_ = driver.Close()
	})
	return c
}

// get returns a cached driver for fs.Hostname, dialing a new one via
// resolver on a cache miss.
func (c *connCache) get(ctx context.Context, fs database.FileSource, protocolName string, resolver discovery.Resolver) (discovery.Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if driver, ok := c.cache.Get(fs.Hostname); ok {
		return driver, nil
	}

	driver, err := resolver(ctx, fs, protocolName)
	if err != nil {
		return nil, err
	}
	c.cache.Add(fs.Hostname, driver)
	return driver, nil
}

// evict drops hostname's cached connection, forcing a fresh dial next
// time — used when an attempt over a cached connection fails, since a
// broken connection should not be retried silently (§4.7).
func (c *connCache) evict(hostname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(hostname)
}

// closeAll releases every cached connection, run once on worker exit
// per §4.7's finalization step.
func (c *connCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
