// Package services – StatsService
//
// StatsService aggregates read-only counters for the operator health view.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/repo"
)

// Health is the aggregate operator view of the system.
type Health struct {
	Queue         repo.QueueCounts   `json:"queue"`
	Archive       repo.ArchiveCounts `json:"archive"`
	Products      int64              `json:"products"`
	InventoryRows int64              `json:"inventory_rows"`
	Locations     int64              `json:"locations"`
	DB            string             `json:"db"`
}

// StatsService reports queue, archive and inventory totals.
type StatsService struct {
	DB        *gorm.DB
	OpTimeout time.Duration // bounds one Health call; 0 means 10s
}

// Health gathers every counter. A failed ping is reported in DB and returned
// as a processing error alongside the partial Health.
func (s *StatsService) Health(ctx context.Context) (*Health, error) {
	const op = "stats.health"

	timeout := s.OpTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h := &Health{DB: "ok"}
	if err := repo.Ping(ctx, s.DB); err != nil {
		h.DB = "unavailable: " + err.Error()
		return h, classify(op, KindProcessing, err)
	}

	var err error
	if h.Queue, err = repo.CountQueueByStatus(ctx, s.DB); err != nil {
		return h, classify(op, KindProcessing, err)
	}
	if h.Archive, err = repo.CountArchive(ctx, s.DB); err != nil {
		return h, classify(op, KindProcessing, err)
	}
	counts := []struct {
		dst   *int64
		model any
	}{
		{&h.Products, &domain.Product{}},
		{&h.InventoryRows, &domain.InventoryCount{}},
		{&h.Locations, &domain.Location{}},
	}
	for _, c := range counts {
		if *c.dst, err = repo.CountRows(ctx, s.DB, c.model); err != nil {
			return h, classify(op, KindProcessing, err)
		}
	}
	return h, nil
}
