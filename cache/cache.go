// Package cache is the write-back holding area for recently touched
// image records. View-counter mutations land here first and reach the
// database only when the entry's timer fires.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixvault/pixvault/models"
)

// Flusher persists the full state of a record on eviction. Satisfied
// by store.Store.
type Flusher interface {
	Overwrite(ctx context.Context, img *models.Image) error
}

type entry struct {
	record *models.Image
	dirty  bool
	timer  *time.Timer
	gen    uint64
}

// Cache holds at most one live entry per public id, each with its own
// expiry timer. A Get never extends the TTL; record freshness is
// driven by upload and first view, not by access.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*entry
	gen          uint64
	ttl          time.Duration
	flushTimeout time.Duration
	flusher      Flusher
	log          zerolog.Logger
}

func New(flusher Flusher, ttl, flushTimeout time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		entries:      make(map[string]*entry),
		ttl:          ttl,
		flushTimeout: flushTimeout,
		flusher:      flusher,
		log:          log,
	}
}

// Put inserts or replaces the entry for publicID and starts a fresh
// expiry timer. Replacing cancels the previous timer; the generation
// counter keeps a stale timer that already fired from ever removing
// the new entry.
func (c *Cache) Put(publicID string, rec *models.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[publicID]; ok {
		old.timer.Stop()
	}

	c.gen++
	gen := c.gen
	e := &entry{record: rec, gen: gen}
	e.timer = time.AfterFunc(c.ttl, func() {
		c.evict(publicID, gen)
	})
	c.entries[publicID] = e
}

// Get returns the live record for publicID without touching its timer.
func (c *Cache) Get(publicID string) (*models.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[publicID]
	if !ok {
		return nil, false
	}
	return e.record, true
}

// Touch applies the view mutation to the cached record: increment the
// counter and overwrite the last-viewed fields. The mutation is
// applied atomically under the cache lock and stays in memory until
// the entry's eviction flush. Returns false when publicID is not
// cached.
func (c *Cache) Touch(publicID, viewer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[publicID]
	if !ok {
		return false
	}
	now := time.Now()
	e.record.Views++
	e.record.LastViewedAt = &now
	e.record.LastViewedBy = &viewer
	e.dirty = true
	return true
}

// evict runs when an entry's timer fires. The entry is removed first,
// then its snapshot is flushed; a flush failure is logged and
// swallowed so the cache can never grow without bound. A Put that
// replaced the entry bumps the generation, turning the stale timer
// callback into a no-op.
func (c *Cache) evict(publicID string, gen uint64) {
	c.mu.Lock()
	e, ok := c.entries[publicID]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.entries, publicID)
	snapshot := *e.record
	dirty := e.dirty
	c.mu.Unlock()

	c.flush(&snapshot, dirty)
}

func (c *Cache) flush(rec *models.Image, dirty bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.flushTimeout)
	defer cancel()

	if err := c.flusher.Overwrite(ctx, rec); err != nil {
		// View counters accumulated in this entry are lost; the
		// authoritative record itself was persisted at creation.
		c.log.Error().Err(err).Str("public_id", rec.PublicID).Msg("failed to flush record on eviction")
		return
	}
	c.log.Debug().Str("public_id", rec.PublicID).Bool("dirty", dirty).Int64("views", rec.Views).Msg("flushed record on eviction")
}

// Close cancels all timers and flushes every remaining entry. Used on
// shutdown so counters collected shortly before exit are not dropped.
func (c *Cache) Close() {
	c.mu.Lock()
	remaining := make([]*entry, 0, len(c.entries))
	for id, e := range c.entries {
		e.timer.Stop()
		remaining = append(remaining, e)
		delete(c.entries, id)
	}
	c.mu.Unlock()

	for _, e := range remaining {
		snapshot := *e.record
		c.flush(&snapshot, e.dirty)
	}
}
