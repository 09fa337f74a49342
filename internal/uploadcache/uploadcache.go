// Package uploadcache guarantees at-most-one upload per function
// fingerprint for the lifetime of the process. Concurrent lookups for the
// same fingerprint coalesce onto a single in-flight upload; later callers
// observe the resolved ID. Resolved IDs are kept in a pluggable store
// (in-memory by default) that outlives any single frontend adapter, since
// the supervisor constructs a fresh adapter on every re-authentication.
package uploadcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sovereignedge/cognit-device-runtime/internal/cache"
	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
)

// UploadFunc performs the remote upload of a serialized function blob and
// returns the function ID assigned by the fabric.
type UploadFunc func(ctx context.Context) (int64, error)

type inflight struct {
	done chan struct{}
	id   int64
	err  error
}

// Cache maps function fingerprints to server-side function IDs.
type Cache struct {
	mu      sync.Mutex
	pending map[string]*inflight
	store   cache.Cache
}

// New creates an upload cache over the given backing store. A nil store
// falls back to the in-memory backend.
func New(store cache.Cache) *Cache {
	if store == nil {
		store = cache.NewInMemoryCache()
	}
	return &Cache{
		pending: make(map[string]*inflight),
		store:   store,
	}
}

// LookupOrUpload returns the function ID for the given fingerprint,
// uploading via upload exactly once per fingerprint under concurrency.
// The second return reports whether the ID was served from the cache.
// Failed uploads are not recorded, so a later call retries.
func (c *Cache) LookupOrUpload(ctx context.Context, fingerprint string, upload UploadFunc) (int64, bool, error) {
	if id, ok := c.lookup(ctx, fingerprint); ok {
		return id, true, nil
	}

	c.mu.Lock()
	if fl, ok := c.pending[fingerprint]; ok {
		c.mu.Unlock()
		<-fl.done
		if fl.err != nil {
			return 0, false, fl.err
		}
		return fl.id, true, nil
	}
	fl := &inflight{done: make(chan struct{})}
	c.pending[fingerprint] = fl
	c.mu.Unlock()

	// Re-check the store outside the mutex: a store read may be a
	// network round trip, and the mutex must only ever guard the
	// pending map. A caller that resolved the fingerprint between our
	// miss and the registration above has already finished.
	if id, ok := c.lookup(ctx, fingerprint); ok {
		fl.id = id
		c.mu.Lock()
		delete(c.pending, fingerprint)
		c.mu.Unlock()
		close(fl.done)
		return id, true, nil
	}

	fl.id, fl.err = upload(ctx)
	if fl.err == nil {
		if err := c.store.Set(ctx, fingerprint, []byte(strconv.FormatInt(fl.id, 10)), 0); err != nil {
			logging.Op().Warn("upload cache store failed", "fingerprint", fingerprint, "error", err)
		}
	}

	c.mu.Lock()
	delete(c.pending, fingerprint)
	c.mu.Unlock()
	close(fl.done)

	if fl.err != nil {
		short := fingerprint
		if len(short) > 8 {
			short = short[:8]
		}
		return 0, false, fmt.Errorf("upload function %s: %w", short, fl.err)
	}
	return fl.id, false, nil
}

func (c *Cache) lookup(ctx context.Context, fingerprint string) (int64, bool) {
	raw, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logging.Op().Warn("upload cache lookup failed", "fingerprint", fingerprint, "error", err)
		}
		return 0, false
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.store.Close()
}
