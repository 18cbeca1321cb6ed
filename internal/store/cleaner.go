package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunCleaner runs the background eviction sweep every interval until
// ctx is cancelled, then performs exactly one more sweep before
// returning so that graceful shutdown never leaves an expired entry
// behind unswept.
func (s *Store) RunCleaner(ctx context.Context, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			removed := s.sweepExpired(time.Now())
			log.Debug().Int("removed", removed).Msg("final cleaner sweep before shutdown")
			return
		case <-ticker.C:
			removed := s.sweepExpired(time.Now())
			if removed > 0 {
				log.Debug().Int("removed", removed).Msg("cleaner swept expired keys")
			}
		}
	}
}
