// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small read-only aggregate queries used
// by the stats/health reporter. Each function is context-aware and safe to
// call from services or handlers.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/device-intake/internal/domain"
)

// ArchiveCounts summarizes the archive ledger.
type ArchiveCounts struct {
	Total    int64            `json:"total"`
	Consumed int64            `json:"consumed"`
	ByTable  map[string]int64 `json:"by_table"`
}

// CountRows returns the number of rows in model's table.
func CountRows(ctx context.Context, db *gorm.DB, model any) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(model).Count(&n).Error
	return n, err
}

// CountArchive returns ledger totals, the consumed count and the number of
// entries per original table.
func CountArchive(ctx context.Context, db *gorm.DB) (ArchiveCounts, error) {
	out := ArchiveCounts{ByTable: map[string]int64{}}
	db = db.WithContext(ctx)

	var rows []struct {
		OriginalTable string
		N             int64
	}
	err := db.Model(&domain.ArchiveEntry{}).
		Select("original_table, COUNT(*) AS n").
		Group("original_table").
		Scan(&rows).Error
	if err != nil {
		return out, err
	}
	for _, r := range rows {
		out.ByTable[r.OriginalTable] = r.N
		out.Total += r.N
	}

	if err := db.Model(&domain.ArchiveEntry{}).Where("consumed_at IS NOT NULL").Count(&out.Consumed).Error; err != nil {
		return out, err
	}
	return out, nil
}

// Ping checks connectivity through the underlying *sql.DB.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
