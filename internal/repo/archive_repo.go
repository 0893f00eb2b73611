// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the archive ledger: snapshotting rows
// into ArchiveEntry before deleting them, re-materializing snapshots on
// restore, and listing entries for operators.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/device-intake/internal/domain"
)

// ArchiveFilter narrows ListArchiveEntries. Zero values match everything.
type ArchiveFilter struct {
	DeviceID string
	Table    string
	Consumed *bool
}

// ArchiveBatch identifies the rows written by one archive call.
type ArchiveBatch struct {
	BatchID    string
	DeviceID   string
	Reason     string
	ArchivedAt time.Time
}

// ArchiveRows snapshots every row of T owned by the batch's device into an
// ArchiveEntry and then deletes those rows. It returns the number of rows
// archived. A delete that removes a different number of rows than were
// snapshotted is reported as an error so the caller's transaction rolls
// back.
func ArchiveRows[T any](ctx context.Context, db *gorm.DB, table string, b ArchiveBatch) (int, error) {
	db = db.WithContext(ctx)

	var rows []T
	if err := db.Where("device_id = ?", b.DeviceID).Find(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	entries := make([]domain.ArchiveEntry, 0, len(rows))
	for i := range rows {
		payload, err := json.Marshal(&rows[i])
		if err != nil {
			return 0, fmt.Errorf("snapshot %s row: %w", table, err)
		}
		entries = append(entries, domain.ArchiveEntry{
			ID:              uuid.NewString(),
			BatchID:         b.BatchID,
			OriginalTable:   table,
			DeviceID:        b.DeviceID,
			ArchivedPayload: datatypes.JSON(payload),
			Reason:          b.Reason,
			ArchivedAt:      b.ArchivedAt,
		})
	}
	if err := db.CreateInBatches(entries, 100).Error; err != nil {
		return 0, err
	}

	res := db.Where("device_id = ?", b.DeviceID).Delete(new(T))
	if res.Error != nil {
		return 0, res.Error
	}
	if int(res.RowsAffected) != len(rows) {
		return 0, fmt.Errorf("archive %s: snapshotted %d rows but deleted %d", table, len(rows), res.RowsAffected)
	}
	return len(rows), nil
}

// RestoreRows decodes each entry's snapshot into T and inserts it.
func RestoreRows[T any](ctx context.Context, db *gorm.DB, entries []domain.ArchiveEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	rows := make([]T, len(entries))
	for i, e := range entries {
		if err := json.Unmarshal(e.ArchivedPayload, &rows[i]); err != nil {
			return 0, fmt.Errorf("decode %s snapshot %s: %w", e.OriginalTable, e.ID, err)
		}
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).CreateInBatches(rows, 100).Error; err != nil {
		return 0, err
	}
	return len(rows), nil
}

// LatestArchiveBatch returns the unconsumed entries of the most recent
// archive batch for a device. It returns ErrNotFound when the device has no
// unconsumed entries.
func LatestArchiveBatch(ctx context.Context, db *gorm.DB, deviceID string) ([]domain.ArchiveEntry, error) {
	db = db.WithContext(ctx)

	var head domain.ArchiveEntry
	err := db.Where("device_id = ? AND consumed_at IS NULL", deviceID).
		Order("archived_at DESC, batch_id DESC").
		First(&head).Error
	if err != nil {
		return nil, err
	}

	var out []domain.ArchiveEntry
	err = db.Where("batch_id = ? AND consumed_at IS NULL", head.BatchID).
		Order("archived_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ConsumeArchiveEntries marks every unconsumed entry of a device as
// consumed, including older batches superseded by the restored one.
func ConsumeArchiveEntries(ctx context.Context, db *gorm.DB, deviceID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.ArchiveEntry{}).
		Where("device_id = ? AND consumed_at IS NULL", deviceID).
		Update("consumed_at", now)
	return res.RowsAffected, res.Error
}

func archiveQuery(db *gorm.DB, f ArchiveFilter) *gorm.DB {
	q := db.Model(&domain.ArchiveEntry{})
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.Table != "" {
		q = q.Where("original_table = ?", f.Table)
	}
	if f.Consumed != nil {
		if *f.Consumed {
			q = q.Where("consumed_at IS NOT NULL")
		} else {
			q = q.Where("consumed_at IS NULL")
		}
	}
	return q
}

// CountArchiveEntries counts entries matching f.
func CountArchiveEntries(ctx context.Context, db *gorm.DB, f ArchiveFilter) (int64, error) {
	var n int64
	err := archiveQuery(db.WithContext(ctx), f).Count(&n).Error
	return n, err
}

// ListArchiveEntries returns entries matching f, newest first.
func ListArchiveEntries(ctx context.Context, db *gorm.DB, f ArchiveFilter, offset, limit int) ([]domain.ArchiveEntry, error) {
	var out []domain.ArchiveEntry
	err := archiveQuery(db.WithContext(ctx), f).
		Order("archived_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListProductIDs returns every product device id in ascending order.
func ListProductIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&domain.Product{}).Order("device_id ASC").Pluck("device_id", &ids).Error
	return ids, err
}
