// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the queue store for QueueRecord.
//
// Every status transition is a single conditional UPDATE guarded by the
// expected current status. Application code never reads a status and then
// writes it back, so concurrent drains coordinate through the database
// alone.
//
// Functions:
//
//   - EnqueueRecords(ctx, db, recs, batchSize) -> error
//     Bulk-inserts pending rows in bounded batches.
//
//   - ClaimPending(ctx, db, limit) -> []domain.QueueRecord, error
//     Atomically moves up to limit pending rows to processing.
//
//   - MarkCompleted / MarkFailed(ctx, db, id, token, ...) -> (bool, error)
//     Terminal transitions; false when the row was not processing.
//
//   - ReleaseClaimed / ReleaseStale
//     Return unstarted or abandoned processing rows to pending.
//
//   - ResetFailed / RequeueDueFailed / PruneTerminal
//     Operator retry, automatic retry and retention maintenance.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/device-intake/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// QueueCounts holds row counts per queue status.
type QueueCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// EnqueueRecords inserts recs as pending rows, batchSize rows per INSERT.
// IDs and timestamps are assigned when empty.
func EnqueueRecords(ctx context.Context, db *gorm.DB, recs []domain.QueueRecord, batchSize int) error {
	if len(recs) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	now := time.Now().UTC()
	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = uuid.NewString()
		}
		recs[i].Status = domain.QueuePending
		if recs[i].CreatedAt.IsZero() {
			recs[i].CreatedAt = now
		}
		recs[i].UpdatedAt = now
	}
	return db.WithContext(ctx).CreateInBatches(recs, batchSize).Error
}

// ClaimPending moves up to limit pending rows (oldest first) to processing
// in one UPDATE and returns them. A fresh claim token tags the rows taken
// by this call, so concurrent callers never receive the same row.
//
// On PostgreSQL the candidate subquery takes row locks with SKIP LOCKED so
// concurrent claimers pick disjoint rows instead of waiting on each other.
// SQLite serializes writers, which makes the statement atomic on its own.
func ClaimPending(ctx context.Context, db *gorm.DB, limit int) ([]domain.QueueRecord, error) {
	if limit <= 0 {
		return []domain.QueueRecord{}, nil
	}
	db = db.WithContext(ctx)
	token := uuid.NewString()
	now := time.Now().UTC()

	candidates := db.Model(&domain.QueueRecord{}).
		Select("id").
		Where("status = ?", domain.QueuePending).
		Order("created_at ASC, id ASC").
		Limit(limit)
	if IsPostgres(db) {
		candidates = candidates.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	res := db.Model(&domain.QueueRecord{}).
		Where("id IN (?) AND status = ?", candidates, domain.QueuePending).
		Updates(map[string]any{
			"status":      domain.QueueProcessing,
			"claim_token": token,
			"attempts":    gorm.Expr("attempts + 1"),
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return []domain.QueueRecord{}, nil
	}

	var out []domain.QueueRecord
	err := db.Where("claim_token = ? AND status = ?", token, domain.QueueProcessing).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// MarkCompleted moves a processing row to completed. It reports false
// without error when the row is not processing (already terminal or
// released) or, for a non-empty token, when the row was re-claimed under a
// different token since this worker claimed it.
func MarkCompleted(ctx context.Context, db *gorm.DB, id, token string, now time.Time) (bool, error) {
	res := heldRow(db.WithContext(ctx), id, token).
		Updates(map[string]any{
			"status":        domain.QueueCompleted,
			"error_kind":    "",
			"error_message": nil,
			"processed_at":  now,
			"updated_at":    now,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkFailed moves a processing row to failed and records the error. Like
// MarkCompleted it is a no-op for rows that are not processing or are held
// by another claim.
func MarkFailed(ctx context.Context, db *gorm.DB, id, token, kind, message string, now time.Time) (bool, error) {
	res := heldRow(db.WithContext(ctx), id, token).
		Updates(map[string]any{
			"status":        domain.QueueFailed,
			"error_kind":    kind,
			"error_message": message,
			"processed_at":  now,
			"updated_at":    now,
		})
	return res.RowsAffected > 0, res.Error
}

// heldRow scopes to a processing row, and to its claim when token is set.
func heldRow(db *gorm.DB, id, token string) *gorm.DB {
	q := db.Model(&domain.QueueRecord{}).Where("id = ? AND status = ?", id, domain.QueueProcessing)
	if token != "" {
		q = q.Where("claim_token = ?", token)
	}
	return q
}

// ReleaseClaimed returns processing rows to pending without counting the
// attempt. It is used for rows a drain claimed but never started.
func ReleaseClaimed(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Model(&domain.QueueRecord{}).
		Where("id IN ? AND status = ?", ids, domain.QueueProcessing).
		Updates(map[string]any{
			"status":      domain.QueuePending,
			"claim_token": "",
			"attempts":    gorm.Expr("CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END"),
			"updated_at":  time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// ReleaseStale returns rows stuck in processing since before cutoff to
// pending. Such rows belong to a drain that died before marking them.
func ReleaseStale(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.QueueRecord{}).
		Where("status = ? AND updated_at < ?", domain.QueueProcessing, cutoff).
		Updates(map[string]any{
			"status":      domain.QueuePending,
			"claim_token": "",
			"updated_at":  time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// ResetFailed returns failed rows to pending. An empty ids slice resets
// every failed row. The last error is kept for inspection until the row is
// processed again.
func ResetFailed(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.QueueRecord{}).Where("status = ?", domain.QueueFailed)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]any{
		"status":      domain.QueuePending,
		"claim_token": "",
		"updated_at":  time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

// RequeueDueFailed returns failed rows to pending once their backoff has
// elapsed. The delay for a row is base * 2^(attempts-1); rows that reached
// maxAttempts stay failed.
func RequeueDueFailed(ctx context.Context, db *gorm.DB, maxAttempts int, base time.Duration, now time.Time, limit int) (int64, error) {
	if maxAttempts <= 0 {
		return 0, nil
	}
	if limit <= 0 {
		limit = 500
	}
	var rows []struct {
		ID          string
		Attempts    int
		ProcessedAt *time.Time
	}
	err := db.WithContext(ctx).Model(&domain.QueueRecord{}).
		Select("id, attempts, processed_at").
		Where("status = ? AND attempts < ?", domain.QueueFailed, maxAttempts).
		Order("processed_at ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return 0, err
	}

	due := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.ProcessedAt == nil || !now.Before(r.ProcessedAt.Add(Backoff(base, r.Attempts))) {
			due = append(due, r.ID)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}
	return ResetFailed(ctx, db, due)
}

// Backoff returns base * 2^(attempts-1), capped to avoid overflow.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 20 {
		attempts = 20
	}
	return base * time.Duration(1<<(attempts-1))
}

// PruneTerminal deletes completed and failed rows processed before cutoff.
func PruneTerminal(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status IN ? AND processed_at < ?", []domain.QueueStatus{domain.QueueCompleted, domain.QueueFailed}, cutoff).
		Delete(&domain.QueueRecord{})
	return res.RowsAffected, res.Error
}

// CountQueueByStatus returns row counts per status.
func CountQueueByStatus(ctx context.Context, db *gorm.DB) (QueueCounts, error) {
	var rows []struct {
		Status domain.QueueStatus
		N      int64
	}
	err := db.WithContext(ctx).Model(&domain.QueueRecord{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return QueueCounts{}, err
	}
	var c QueueCounts
	for _, r := range rows {
		switch r.Status {
		case domain.QueuePending:
			c.Pending = r.N
		case domain.QueueProcessing:
			c.Processing = r.N
		case domain.QueueCompleted:
			c.Completed = r.N
		case domain.QueueFailed:
			c.Failed = r.N
		}
		c.Total += r.N
	}
	return c, nil
}

// CountQueue returns the number of rows with the given status ("" = all).
func CountQueue(ctx context.Context, db *gorm.DB, status domain.QueueStatus) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.QueueRecord{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&n).Error
	return n, err
}

// ListQueuePage returns rows with the given status ("" = all), newest first.
func ListQueuePage(ctx context.Context, db *gorm.DB, status domain.QueueStatus, offset, limit int) ([]domain.QueueRecord, error) {
	var out []domain.QueueRecord
	q := db.WithContext(ctx).Model(&domain.QueueRecord{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// GetQueueRecord fetches a single row by id, or ErrNotFound.
func GetQueueRecord(ctx context.Context, db *gorm.DB, id string) (*domain.QueueRecord, error) {
	var r domain.QueueRecord
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}
