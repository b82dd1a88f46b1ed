// Package schemacache lazily materialises and caches the record schema
// derived from config entities, invalidated whenever a transaction
// writes to config or a rollback occurs (spec.md §4.5).
package schemacache

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/cockroachdb/field-eng-powertools/notify"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/schema"
)

// Loader rebuilds the full schema snapshot as of the storage
// transaction tip from the config entities' definitions (spec.md §4.5);
// kgcore's loader does so by replaying the config changesets recorded
// in the transaction log.
type Loader func(ctx context.Context) (schema.Schema, errors.E)

// Cache holds schema snapshots keyed by the tip version they were
// built against. A process only ever has one tip at a time under the
// single-process cooperative scheduling model (spec.md §5), but
// keying by tip rather than overwriting a single slot means a snapshot
// built just before a concurrent invalidation is never handed out
// under the wrong version.
type Cache struct {
	mu        sync.Mutex
	snapshots *lru.Cache[int64, schema.Schema]
	version   *notify.Var[int64]
	missCount uint64
}

// New returns an empty cache holding up to size schema snapshots.
func New(size int) (*Cache, errors.E) {
	snapshots, err := lru.New[int64, schema.Schema](size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Cache{ //nolint:exhaustruct
		snapshots: snapshots,
		version:   notify.VarOf[int64](0),
	}, nil
}

// Get returns the schema snapshot for tip, calling load and caching
// its result if tip is not already cached. Callers must hold whatever
// lock serialises this call with a concurrent Invalidate (spec.md §5:
// "Reads under the cache must be serialised with writes that
// invalidate it"); under the single storage-transaction model that
// lock is the transaction itself.
func (c *Cache) Get(ctx context.Context, tip int64, load Loader) (schema.Schema, errors.E) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.snapshots.Get(tip); ok {
		return s, nil
	}
	atomic.AddUint64(&c.missCount, 1)

	s, errE := load(ctx)
	if errE != nil {
		return schema.Schema{}, errE //nolint:exhaustruct
	}
	c.snapshots.Add(tip, s)
	return s, nil
}

// Invalidate purges every cached snapshot and bumps the cache's
// version, waking any Watch callers. It must run inside the same
// storage transaction that wrote to config, or after a rollback
// (spec.md §4.5, §5).
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshots.Purge()
	next, _ := c.version.Get()
	c.version.Set(next + 1)
}

// Watch returns the cache's current version and a channel that fires
// the next time Invalidate runs, for callers reacting to schema
// changes instead of polling Get.
func (c *Cache) Watch() (int64, <-chan struct{}) {
	return c.version.Get()
}

// MissCount returns the number of Get calls that required a reload
// since the last call to MissCount (or since New).
func (c *Cache) MissCount() uint64 {
	return atomic.SwapUint64(&c.missCount, 0)
}
