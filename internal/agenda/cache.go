package agenda

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/drmarcocomper-ui/prontio-agenda/internal/kv"
)

const cacheKeyPrefix = "agenda:"

type cacheEntry struct {
	Items     []Appointment `json:"items"`
	Timestamp time.Time     `json:"ts"`
}

// ListingCache keeps the last known-good appointment listing per
// (scope, date) key so navigation can render instantly while a fresh fetch
// runs in the background. Strictly best-effort: no cache failure may ever
// fail the caller's load.
type ListingCache struct {
	store    kv.Store
	ttl      time.Duration
	capacity int
	log      *zap.Logger
	now      func() time.Time
}

func NewListingCache(store kv.Store, ttl time.Duration, capacity int, log *zap.Logger) *ListingCache {
	return &ListingCache{
		store:    store,
		ttl:      ttl,
		capacity: capacity,
		log:      log,
		now:      time.Now,
	}
}

func cacheKey(scope Scope, dateKey string) string {
	return cacheKeyPrefix + string(scope) + ":" + dateKey
}

// Read returns the cached listing for the key, treating anything older than
// the TTL as absent and removing it on discovery.
func (c *ListingCache) Read(ctx context.Context, scope Scope, dateKey string) ([]Appointment, bool) {
	key := cacheKey(scope, dateKey)

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Debug("agenda cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = c.store.Remove(ctx, key)
		return nil, false
	}

	if c.now().Sub(entry.Timestamp) > c.ttl {
		_ = c.store.Remove(ctx, key)
		return nil, false
	}

	return entry.Items, true
}

// Write stores a fresh listing and then bounds the store to its capacity,
// evicting oldest-by-timestamp entries first. A failed write gets one
// eviction-then-retry pass and is otherwise dropped with a log line.
func (c *ListingCache) Write(ctx context.Context, scope Scope, dateKey string, items []Appointment) {
	key := cacheKey(scope, dateKey)

	raw, err := json.Marshal(cacheEntry{Items: items, Timestamp: c.now()})
	if err != nil {
		c.log.Warn("agenda cache entry not serializable", zap.String("key", key), zap.Error(err))
		return
	}

	if err := c.store.Set(ctx, key, raw); err != nil {
		if errors.Is(err, kv.ErrStoreFull) {
			c.evictForRetry(ctx)
			err = c.store.Set(ctx, key, raw)
		}
		if err != nil {
			c.log.Warn("agenda cache write dropped", zap.String("key", key), zap.Error(err))
			return
		}
	}

	c.evictOver(ctx, c.capacity)
}

// Invalidate removes one entry; removing a missing key is a no-op.
func (c *ListingCache) Invalidate(ctx context.Context, scope Scope, dateKey string) {
	if err := c.store.Remove(ctx, cacheKey(scope, dateKey)); err != nil {
		c.log.Debug("agenda cache invalidate failed", zap.String("key", dateKey), zap.Error(err))
	}
}

// InvalidateAll clears one scope's namespace, or every cached listing when
// scope is empty.
func (c *ListingCache) InvalidateAll(ctx context.Context, scope Scope) {
	prefix := cacheKeyPrefix
	if scope != "" {
		prefix += string(scope) + ":"
	}
	keys, err := c.store.KeysByPrefix(ctx, prefix)
	if err != nil {
		c.log.Debug("agenda cache invalidate-all failed", zap.Error(err))
		return
	}
	for _, k := range keys {
		_ = c.store.Remove(ctx, k)
	}
}

type agedKey struct {
	key string
	ts  time.Time
}

// sortedByAge lists cache keys oldest first. Entries that no longer decode
// sort as oldest.
func (c *ListingCache) sortedByAge(ctx context.Context) []agedKey {
	keys, err := c.store.KeysByPrefix(ctx, cacheKeyPrefix)
	if err != nil {
		c.log.Debug("agenda cache eviction scan failed", zap.Error(err))
		return nil
	}

	entries := make([]agedKey, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := c.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			entries = append(entries, agedKey{key: k})
			continue
		}
		entries = append(entries, agedKey{key: k, ts: entry.Timestamp})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ts.Before(entries[j].ts)
	})
	return entries
}

// evictOver trims the store down to max entries, oldest timestamps first.
func (c *ListingCache) evictOver(ctx context.Context, max int) {
	if max < 0 {
		max = 0
	}
	entries := c.sortedByAge(ctx)
	for i := 0; i < len(entries)-max; i++ {
		_ = c.store.Remove(ctx, entries[i].key)
	}
}

// evictForRetry frees room after a quota-class write failure. At least one
// entry goes; more when the store is also over capacity.
func (c *ListingCache) evictForRetry(ctx context.Context) {
	entries := c.sortedByAge(ctx)
	if len(entries) == 0 {
		return
	}
	n := len(entries) - c.capacity + 1
	if n < 1 {
		n = 1
	}
	if n > len(entries) {
		n = len(entries)
	}
	for i := 0; i < n; i++ {
		_ = c.store.Remove(ctx, entries[i].key)
	}
}
