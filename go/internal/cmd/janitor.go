package main

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const minJanitorInterval = time.Minute

type roomPurger interface {
	PurgeIdleRooms(ctx context.Context, maxAge time.Duration) (int64, error)
}

// runJanitor removes rooms nobody joined once they are older than ttl,
// checking every ttl/2. It returns when ctx is done.
func runJanitor(ctx context.Context, clock clockwork.Clock, purger roomPurger, ttl time.Duration) {
	if purger == nil || ttl <= 0 {
		return
	}
	interval := max(ttl/2, minJanitorInterval)
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := purger.PurgeIdleRooms(ctx, ttl)
			if err != nil {
				log.Error().Err(err).Msg("failed to purge idle rooms")
				continue
			}
			if n > 0 {
				log.Info().Int64("rooms", n).Dur("ttl", ttl).Msg("purged idle rooms")
			}
		}
	}
}
