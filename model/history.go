package model

import (
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru"
)

// FilterHistory records free-form WHERE texts applied to an entity or query,
// for later recall.
type FilterHistory interface {
	// Record |where| as the most recent filter of |key|.
	Record(key, where string)
	// Recent returns filters of |key|, most recent first.
	Recent(key string) []string
}

// LRUFilterHistory is an in-process FilterHistory retaining filters of a
// bounded number of keys. It's safe for concurrent use.
type LRUFilterHistory struct {
	cache *lru.Cache
	depth int
	mu    sync.Mutex
}

// NewLRUFilterHistory returns an LRUFilterHistory of |keys| keys (which must
// be > 0), each retaining up to |depth| filters.
func NewLRUFilterHistory(keys, depth int) *LRUFilterHistory {
	var cache, err = lru.New(keys)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &LRUFilterHistory{cache: cache, depth: depth}
}

// Record implements FilterHistory.
func (h *LRUFilterHistory) Record(key, where string) {
	if where = strings.TrimSpace(where); where == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var prior []string
	if v, ok := h.cache.Get(key); ok {
		prior = v.([]string)
	}
	var next = append(make([]string, 0, len(prior)+1), where)
	for _, p := range prior {
		if p != where && len(next) < h.depth {
			next = append(next, p)
		}
	}
	h.cache.Add(key, next)
}

// Recent implements FilterHistory.
func (h *LRUFilterHistory) Recent(key string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if v, ok := h.cache.Get(key); ok {
		return append([]string(nil), v.([]string)...)
	}
	return nil
}
