// Package gateway holds the transport bridges: the HTTP webhook ingress with
// per-update deduplication and the WebSocket bridge in front of the router.
package gateway

import (
	"sync"
	"time"
)

// DedupStore guards at-most-once processing of inbound updates. Reserve
// claims a key; Finish releases it, recording it as processed on success so
// retries within the TTL are treated as duplicates.
type DedupStore interface {
	Reserve(key string) bool
	Finish(key string, success bool)
	Close() error
}

// memoryDedup keeps processed timestamps and the inflight set under one
// mutex. Expired keys are pruned opportunistically on each Reserve.
type memoryDedup struct {
	ttl time.Duration

	mu        sync.Mutex
	processed map[string]time.Time
	inflight  map[string]bool
}

// NewMemoryDedup builds an in-memory DedupStore with the given TTL.
// A zero or negative TTL disables expiry.
func NewMemoryDedup(ttl time.Duration) DedupStore {
	return &memoryDedup{
		ttl:       ttl,
		processed: make(map[string]time.Time),
		inflight:  make(map[string]bool),
	}
}

func (d *memoryDedup) Reserve(key string) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ttl > 0 {
		for k, ts := range d.processed {
			if now.Sub(ts) > d.ttl {
				delete(d.processed, k)
			}
		}
	}
	if _, done := d.processed[key]; done {
		return false
	}
	if d.inflight[key] {
		return false
	}
	d.inflight[key] = true
	return true
}

func (d *memoryDedup) Finish(key string, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, key)
	if success {
		d.processed[key] = time.Now()
	}
}

func (d *memoryDedup) Close() error { return nil }
