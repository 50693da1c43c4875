package gateway

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type idempotencyRecord struct {
	response  *Response
	createdAt time.Time
}

// IdempotencyCache remembers the terminal response for each idempotency
// key so retried submissions never re-run the collaborator. Racing
// submissions of the same key are collapsed through singleflight, so the
// business logic executes at most once even under true concurrency.
type IdempotencyCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	records map[string]idempotencyRecord

	group singleflight.Group
}

func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		ttl:     ttl,
		records: make(map[string]idempotencyRecord),
	}
}

// Lookup returns the cached response for key, if one exists and has not
// expired. Expiry is by age only; reads do not refresh a record.
func (c *IdempotencyCache) Lookup(key string) (*Response, bool) {
	c.mu.RLock()
	rec, ok := c.records[key]
	c.mu.RUnlock()
	if !ok || time.Since(rec.createdAt) > c.ttl {
		return nil, false
	}
	return rec.response, true
}

// Do returns the cached response for key, or runs execute exactly once
// and caches its result. Concurrent callers with the same key share the
// single execution and all receive the same response. Responses for
// which cacheable is false (rate-limit rejections) are returned to the
// racing callers but not stored, so a later retry can execute.
func (c *IdempotencyCache) Do(key string, execute func() (resp *Response, cacheable bool)) *Response {
	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		if resp, ok := c.Lookup(key); ok {
			return resp, nil
		}
		resp, cacheable := execute()
		if cacheable {
			c.store(key, resp)
		}
		return resp, nil
	})
	return v.(*Response)
}

func (c *IdempotencyCache) store(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// First execution wins; a record already present is never replaced.
	if _, exists := c.records[key]; exists {
		return
	}
	c.records[key] = idempotencyRecord{response: resp, createdAt: time.Now()}
}

// CleanupExpired removes every record older than the TTL and returns how
// many were dropped.
func (c *IdempotencyCache) CleanupExpired() int {
	cutoff := time.Now().Add(-c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, rec := range c.records {
		if rec.createdAt.Before(cutoff) {
			delete(c.records, key)
			removed++
		}
	}
	return removed
}

// Len reports the live record count.
func (c *IdempotencyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
