package license

import (
	"sync"
	"time"

	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// verdictCache holds the latest verdict in memory. Readers may observe a
// verdict that is about to be replaced; that is acceptable.
//
// generation advances whenever the inputs of a check change (forced
// recheck, key change). A check only commits when the generation it
// started under is still current.
type verdictCache struct {
	mu          sync.RWMutex
	verdict     domain.Verdict
	lastGood    *domain.LastGood
	lastChecked *time.Time
	generation  uint64
}

func newVerdictCache() *verdictCache {
	return &verdictCache{
		verdict: domain.Verdict{
			StatusCode: domain.StatusError,
			Message:    MsgUnverified,
		},
	}
}

// fresh returns the cached verdict when it was produced less than maxAge ago
func (c *verdictCache) fresh(now time.Time, maxAge time.Duration) (domain.Verdict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastChecked == nil || now.Before(*c.lastChecked) {
		return c.verdict, false
	}
	return c.verdict, now.Sub(*c.lastChecked) < maxAge
}

// current returns the cached verdict regardless of age
func (c *verdictCache) current() domain.Verdict {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verdict
}

func (c *verdictCache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *verdictCache) snapshot() (uint64, domain.Verdict, *domain.LastGood) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation, c.verdict, copyLastGood(c.lastGood)
}

// store commits a check result unless the cache moved past gen while the
// check was running
func (c *verdictCache) store(gen uint64, v domain.Verdict, lg *domain.LastGood, checkedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.verdict = v
	c.lastGood = copyLastGood(lg)
	c.lastChecked = &checkedAt
	return true
}

// restore loads persisted state at boot
func (c *verdictCache) restore(v *domain.Verdict, lg *domain.LastGood, checkedAt *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v != nil && checkedAt != nil {
		c.verdict = *v
		t := *checkedAt
		c.lastChecked = &t
	}
	c.lastGood = copyLastGood(lg)
}

func (c *verdictCache) invalidate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChecked = nil
	c.generation++
	return c.generation
}

func (c *verdictCache) resetLastGood() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastGood = nil
	c.lastChecked = nil
	c.generation++
}

func copyLastGood(lg *domain.LastGood) *domain.LastGood {
	if lg == nil {
		return nil
	}
	out := *lg
	return &out
}
