package resolvers

import (
	"container/list"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// questionKey identifies a cached answer. Name is canonical (lowercase,
// absolute), since DNS names compare case-insensitively.
type questionKey struct {
	Name  string
	Qtype uint16
}

// answerCacheEntry holds a cached record batch with LRU bookkeeping.
type answerCacheEntry struct {
	rrs       []dns.RR
	cachedAt  time.Time
	expiresAt time.Time
	elem      *list.Element
}

// answerCache is the resolver's short-term positive cache.
//
// Entries live for the smallest TTL among the cached records, capped at
// maxAnswerTTL. On a hit the records come back value-copied with their TTLs
// reduced by the entry's age, so callers see the same remaining lifetimes a
// fresh upstream answer would carry. Negative results are never cached; the
// handler's negative path needs the upstream's response code and SOA, which
// are cheap to re-fetch and dangerous to serve stale.
//
// Eviction is LRU once maxEntries is reached. Reads and writes both refresh
// recency.
type answerCache struct {
	mu         sync.Mutex
	maxEntries int
	lru        *list.List // front = oldest, back = newest
	data       map[questionKey]*answerCacheEntry
}

const (
	defaultAnswerCacheEntries = 4096
	maxAnswerTTL              = time.Hour
)

func newAnswerCache(maxEntries int) *answerCache {
	if maxEntries <= 0 {
		maxEntries = defaultAnswerCacheEntries
	}
	return &answerCache{
		maxEntries: maxEntries,
		lru:        list.New(),
		data:       map[questionKey]*answerCacheEntry{},
	}
}

// get returns an aged copy of the cached batch for key, if present and not
// expired.
func (c *answerCache) get(key questionKey, now time.Time) ([]dns.RR, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.data[key]
	if e == nil {
		return nil, false
	}
	if !e.expiresAt.After(now) {
		c.lru.Remove(e.elem)
		delete(c.data, key)
		return nil, false
	}

	c.lru.MoveToBack(e.elem)

	age := uint32(now.Sub(e.cachedAt) / time.Second)
	out := make([]dns.RR, 0, len(e.rrs))
	for _, rr := range e.rrs {
		cp := dns.Copy(rr)
		hdr := cp.Header()
		if hdr.Ttl > age {
			hdr.Ttl -= age
		} else {
			hdr.Ttl = 0
		}
		out = append(out, cp)
	}
	return out, true
}

// set stores a record batch under key. Batches whose smallest TTL is zero
// are not cached.
func (c *answerCache) set(key questionKey, rrs []dns.RR, now time.Time) {
	ttl := minTTL(rrs)
	if ttl == 0 {
		return
	}
	lifetime := min(time.Duration(ttl)*time.Second, maxAnswerTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.data[key]; e != nil {
		e.rrs = rrs
		e.cachedAt = now
		e.expiresAt = now.Add(lifetime)
		c.lru.MoveToBack(e.elem)
		return
	}

	e := &answerCacheEntry{rrs: rrs, cachedAt: now, expiresAt: now.Add(lifetime)}
	e.elem = c.lru.PushBack(key)
	c.data[key] = e

	for len(c.data) > c.maxEntries {
		front := c.lru.Front()
		if front == nil {
			break
		}
		k := front.Value.(questionKey)
		c.lru.Remove(front)
		delete(c.data, k)
	}
}

// minTTL returns the smallest TTL in the batch, or 0 for an empty batch.
func minTTL(rrs []dns.RR) uint32 {
	if len(rrs) == 0 {
		return 0
	}
	m := rrs[0].Header().Ttl
	for _, rr := range rrs[1:] {
		if ttl := rr.Header().Ttl; ttl < m {
			m = ttl
		}
	}
	return m
}
