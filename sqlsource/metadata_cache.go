package sqlsource

import (
	"time"

	"github.com/hashicorp/golang-lru"
	"go.rowset.dev/core/model"
)

// MetadataCache caches described EntityMeta. Each fetch generation
// resolves identifiers of its entities anew, and the cache spares a
// catalog round-trip per entity when results of the same entity are
// re-read, as on each refresh.
type MetadataCache struct {
	cache *lru.Cache
	ttl   time.Duration
}

// NewMetadataCache returns a MetadataCache of the given size (which must be
// > 0) and caching Duration.
func NewMetadataCache(size int, ttl time.Duration) *MetadataCache {
	var cache, err = lru.New(size)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &MetadataCache{
		cache: cache,
		ttl:   ttl,
	}
}

// Put caches the EntityMeta of the named entity, or invalidates it if
// |meta| is nil.
func (mc *MetadataCache) Put(name model.EntityName, meta *model.EntityMeta) {
	if meta == nil {
		mc.cache.Remove(name)
	} else {
		mc.cache.Add(name, cachedMeta{meta: meta, at: timeNow()})
	}
}

// Get a cached EntityMeta of the named entity.
func (mc *MetadataCache) Get(name model.EntityName) (*model.EntityMeta, bool) {
	if v, ok := mc.cache.Get(name); ok {
		// If the TTL has elapsed, treat as a cache miss and remove.
		if cm := v.(cachedMeta); cm.at.Add(mc.ttl).Before(timeNow()) {
			mc.cache.Remove(name)
		} else {
			return cm.meta, true
		}
	}
	return nil, false
}

// Purge all cached EntityMeta.
func (mc *MetadataCache) Purge() { mc.cache.Purge() }

type cachedMeta struct {
	meta *model.EntityMeta
	at   time.Time
}

var timeNow = time.Now
