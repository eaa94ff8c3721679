package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// fastTier is the in-process bounded LRU with per-content-type TTL. Reads
// are lock-free from the caller's perspective (the underlying LRU guards
// itself); writers for the same key are serialized by the Manager's
// singleflight group, not here.
type fastTier struct {
	mu       sync.RWMutex
	perTag   map[ContentType]*expirable.LRU[string, []byte]
	maxKeys  int
	policies map[ContentType]Policy
}

func newFastTier(maxKeys int, policies map[ContentType]Policy) *fastTier {
	return &fastTier{
		perTag:   make(map[ContentType]*expirable.LRU[string, []byte]),
		maxKeys:  maxKeys,
		policies: policies,
	}
}

func (f *fastTier) lruFor(tag ContentType) *expirable.LRU[string, []byte] {
	f.mu.RLock()
	l, ok := f.perTag[tag]
	f.mu.RUnlock()
	if ok {
		return l
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.perTag[tag]; ok {
		return l
	}
	ttl := f.policies[tag].TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l = expirable.NewLRU[string, []byte](f.maxKeys, nil, ttl)
	f.perTag[tag] = l
	return l
}

func (f *fastTier) get(tag ContentType, id string) ([]byte, bool) {
	v, ok := f.lruFor(tag).Get(id)
	return v, ok
}

func (f *fastTier) set(tag ContentType, id string, value []byte) {
	f.lruFor(tag).Add(id, value)
}

func (f *fastTier) delete(tag ContentType, id string) {
	f.lruFor(tag).Remove(id)
}

// keyCount sums the entry count across every content-type's LRU.
func (f *fastTier) keyCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	total := 0
	for _, l := range f.perTag {
		total += l.Len()
	}
	return total
}
