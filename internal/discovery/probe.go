package discovery

import (
	"sync"

	"github.com/pepwatch/ingest-cli/internal/model"
)

// ProbeCache remembers, for the duration of one run, what each origin's
// storefront API yielded. Many vendors expose several catalog pages backed
// by the same API, so the first target at an origin pays for the probe and
// the rest reuse it. A definitive 4xx marks the origin unsupported for that
// source so later targets skip the probe entirely.
//
// The cache is advisory: a lost race costs a redundant probe, never wrong
// data.
type ProbeCache struct {
	mu      sync.RWMutex
	entries map[string]probeEntry
}

type probeEntry struct {
	offers      []model.ExtractedOffer
	unsupported bool
}

// NewProbeCache creates an empty per-run probe cache.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{entries: make(map[string]probeEntry)}
}

func key(source, origin string) string { return source + "|" + origin }

// Lookup returns the cached probe outcome for (source, origin).
func (c *ProbeCache) Lookup(source, origin string) (offers []model.ExtractedOffer, unsupported, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key(source, origin)]
	if !ok {
		return nil, false, false
	}
	return e.offers, e.unsupported, true
}

// StoreOffers caches a successful probe's origin-wide offers.
func (c *ProbeCache) StoreOffers(source, origin string, offers []model.ExtractedOffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(source, origin)] = probeEntry{offers: offers}
}

// MarkUnsupported records that the origin definitively does not serve this
// source's API.
func (c *ProbeCache) MarkUnsupported(source, origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(source, origin)] = probeEntry{unsupported: true}
}
