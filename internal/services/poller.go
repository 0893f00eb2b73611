// Package services – Poller
//
// Poller is the background loop hosted by the server: on every tick it
// releases stale claims and drains the queue. Less often it prunes terminal
// rows past the retention window and expired idempotency keys.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/device-intake/internal/repo"
)

// Poller drives periodic queue maintenance.
type Poller struct {
	Queue *QueueService

	// Interval between drains; <= 0 makes Run return immediately.
	Interval time.Duration
	// Retention for PruneTerminal; 0 disables pruning.
	Retention time.Duration
	// PruneEvery defaults to one hour.
	PruneEvery time.Duration
}

// Run blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	if p.Interval <= 0 {
		return
	}
	pruneEvery := p.PruneEvery
	if pruneEvery <= 0 {
		pruneEvery = time.Hour
	}

	drain := time.NewTicker(p.Interval)
	defer drain.Stop()
	prune := time.NewTicker(pruneEvery)
	defer prune.Stop()

	log.Info().Dur("interval", p.Interval).Dur("retention", p.Retention).Msg("queue poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("queue poller stopped")
			return
		case <-drain.C:
			p.Tick(ctx)
		case <-prune.C:
			p.Prune(ctx)
		}
	}
}

// Tick runs one maintenance pass.
func (p *Poller) Tick(ctx context.Context) {
	if _, err := p.Queue.ReleaseStale(ctx); err != nil {
		log.Error().Err(err).Msg("release stale claims failed")
	}
	if _, err := p.Queue.Drain(ctx, 0); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("scheduled drain failed")
	}
}

// Prune deletes terminal rows older than Retention (when set) and expired
// idempotency records.
func (p *Poller) Prune(ctx context.Context) {
	if p.Retention > 0 {
		if _, err := p.Queue.PruneTerminal(ctx, p.Retention); err != nil {
			log.Error().Err(err).Msg("queue prune failed")
		}
	}
	n, err := repo.PurgeExpiredIdempotency(ctx, p.Queue.DB, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("idempotency purge failed")
		return
	}
	if n > 0 {
		log.Info().Int64("rows", n).Msg("expired idempotency keys purged")
	}
}
