package anchor

import (
	"sync"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

// probeCache holds the last probe observation for a short TTL so a Detect
// immediately followed by an Ensure does not hit the page twice.
type probeCache struct {
	mu    sync.Mutex
	sig   domain.ProbeSignal
	at    time.Time
	ttl   time.Duration
	valid bool
}

func newProbeCache(ttl time.Duration) *probeCache {
	return &probeCache{ttl: ttl}
}

func (c *probeCache) Get() (domain.ProbeSignal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || time.Since(c.at) > c.ttl {
		return domain.ProbeSignal{}, false
	}
	return c.sig, true
}

func (c *probeCache) Set(sig domain.ProbeSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sig = sig
	c.at = time.Now()
	c.valid = true
}

func (c *probeCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}
