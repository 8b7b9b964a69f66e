package cache

import "sync/atomic"

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits         uint64 `json:"hits"`
	NegativeHits uint64 `json:"negativeHits"`
	Misses       uint64 `json:"misses"`
	Expirations  uint64 `json:"expirations"`
	Swept        uint64 `json:"swept"`
	Resets       uint64 `json:"resets"`
	Entries      int    `json:"entries"`
}

type counters struct {
	hits         atomic.Uint64
	negativeHits atomic.Uint64
	misses       atomic.Uint64
	expirations  atomic.Uint64
	swept        atomic.Uint64
	resets       atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		NegativeHits: c.negativeHits.Load(),
		Misses:       c.misses.Load(),
		Expirations:  c.expirations.Load(),
		Swept:        c.swept.Load(),
		Resets:       c.resets.Load(),
	}
}
