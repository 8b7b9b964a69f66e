package cache

import (
	"context"
	"time"

	"github.com/bassista/go_lanatus/internal/logger"
)

// Sweeper drops expired entries and reports how many were removed.
type Sweeper interface {
	Sweep() int
}

// StartSweeper runs a goroutine that periodically removes expired entries so
// stale keys do not pile up between reads. Lookups already ignore expired
// entries; sweeping only bounds memory.
// Returns a channel that is closed when the sweeper has stopped. A non-positive
// interval disables sweeping and returns an already closed channel.
func StartSweeper(ctx context.Context, s Sweeper, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 || s == nil {
		logger.WithComponent("sweep").Debugf("cache sweeper disabled (interval: %v)", interval)
		close(done)
		return done
	}

	logger.WithComponent("sweep").Debugf("starting cache sweeper with interval: %v", interval)
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.WithComponent("sweep").Info("cache sweeper stopped")
				return
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					logger.WithComponent("sweep").Debugf("removed %d expired cache entries", removed)
				} else {
					logger.WithComponent("sweep").Tracef("cache sweep tick, nothing expired")
				}
			}
		}
	}()
	return done
}
