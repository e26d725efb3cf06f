// Package detection implements the process-wide cache that conveys the
// SDR-verification outcome from the HTTP verification handler to the media
// session, per the detection-record data model.
package detection

import (
	"sync"
	"time"

	"github.com/leadbridge/callbridge/internal/metrics"
	"github.com/leadbridge/callbridge/internal/model"
)

// TTL is the maximum age a DetectionRecord may reach before eviction.
const TTL = 5 * time.Minute

// Cache is a mutex-guarded map keyed by the provider's call-sid. Writes
// happen on the verification HTTP handler's goroutine; reads happen on the
// media session's goroutine on stream-start and delete the entry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]model.DetectionRecord
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]model.DetectionRecord)}
}

// Store records the verification outcome for a call-sid, overwriting any
// existing entry.
func (c *Cache) Store(rec model.DetectionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rec.CallSID] = rec
	metrics.DetectionCacheSize.Set(float64(len(c.entries)))
}

// Take reads and deletes the entry for callSID if present and not expired.
// A present-but-expired entry is deleted and reported absent.
func (c *Cache) Take(callSID string) (model.DetectionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[callSID]
	if !ok {
		return model.DetectionRecord{}, false
	}
	delete(c.entries, callSID)
	metrics.DetectionCacheSize.Set(float64(len(c.entries)))

	if time.Since(rec.CreatedAt) > TTL {
		return model.DetectionRecord{}, false
	}
	return rec, true
}

// Sweep evicts every entry older than TTL. Intended to run on a periodic
// ticker alongside the lazy eviction Take already performs on read, so a
// record nobody ever reads is still bounded to TTL in memory.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for sid, rec := range c.entries {
		if now.Sub(rec.CreatedAt) > TTL {
			delete(c.entries, sid)
			evicted++
		}
	}
	metrics.DetectionCacheSize.Set(float64(len(c.entries)))
	return evicted
}

// RunSweeper starts a background goroutine that sweeps the cache every
// interval until stop is closed.
func (c *Cache) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case t := <-ticker.C:
				c.Sweep(t)
			}
		}
	}()
}
