// Package services – QueueService
//
// This file implements QueueService, which owns the intake queue: it
// validates and enqueues raw records, drains pending rows through the
// upsert pipeline, and maintains the queue (retry, stale-claim recovery,
// retention pruning).
//
// Concurrency: rows move between states only through the repo's
// conditional updates. Drains may run concurrently (polling loop and
// operator-triggered); each claims a disjoint set of rows and processes
// every row in its own transaction.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/intake"
	"github.com/tbourn/device-intake/internal/observability"
	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Retry modes for failed rows.
const (
	RetryManual = "manual"
	RetryAuto   = "auto"
)

// RetryPolicy controls how failed rows return to pending.
type RetryPolicy struct {
	Mode        string
	MaxAttempts int
	Backoff     time.Duration
}

// QueueService coordinates intake and draining of the queue.
type QueueService struct {
	DB       *gorm.DB
	Pipeline *Pipeline

	Normalize intake.Options

	// Defaults applied when zero.
	BatchSize  int // rows per enqueue INSERT (500)
	DrainLimit int // rows claimed per drain (50)
	Workers    int // parallel records per drain (4)

	// OpTimeout bounds single-row bookkeeping writes.
	OpTimeout time.Duration
	// StaleAfter releases processing rows untouched for this long; 0 disables.
	StaleAfter time.Duration

	Retry RetryPolicy
}

// Rejection reports one record refused at enqueue time.
type Rejection struct {
	Index  int    `json:"index"`
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
}

// EnqueueResult summarizes an Enqueue call.
type EnqueueResult struct {
	Accepted int         `json:"accepted"`
	IDs      []string    `json:"ids"`
	Rejected []Rejection `json:"rejected"`
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Requeued  int `json:"requeued"`
	Released  int `json:"released"`
}

func (s *QueueService) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 500
}

func (s *QueueService) drainLimit() int {
	if s.DrainLimit > 0 {
		return s.DrainLimit
	}
	return 50
}

func (s *QueueService) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return 4
}

func (s *QueueService) opTimeout() time.Duration {
	if s.OpTimeout > 0 {
		return s.OpTimeout
	}
	return 10 * time.Second
}

// Enqueue validates every raw record and inserts the valid ones as pending
// rows in bounded batches. Invalid records are reported in Rejected and
// never abort the batch. When a batch insert fails the result still lists
// what was accepted before the failure.
func (s *QueueService) Enqueue(ctx context.Context, raws []map[string]any) (*EnqueueResult, error) {
	tr := observability.Tracer(observability.TracerQueue)
	ctx, span := tr.Start(ctx, "Enqueue", trace.WithAttributes(attribute.Int("records", len(raws))))
	defer span.End()

	res := &EnqueueResult{IDs: []string{}, Rejected: []Rejection{}}
	pending := make([]domain.QueueRecord, 0, min(len(raws), s.batchSize()))

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		bctx, cancel := s.bounded(ctx)
		err := repo.EnqueueRecords(bctx, s.DB, pending, s.batchSize())
		cancel()
		if err != nil {
			return classify("queue.enqueue", KindProcessing, err)
		}
		for _, r := range pending {
			res.IDs = append(res.IDs, r.ID)
		}
		res.Accepted += len(pending)
		pending = pending[:0]
		return nil
	}

	for i, raw := range raws {
		rec, err := intake.Normalize(raw, s.Normalize)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Kind: KindValidation, Reason: err.Error()})
			continue
		}
		payload, err := json.Marshal(raw)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Kind: KindValidation, Reason: fmt.Sprintf("payload is not JSON-encodable: %v", err)})
			continue
		}
		pending = append(pending, domain.QueueRecord{RawPayload: datatypes.JSON(payload), DeviceID: rec.DeviceID})
		if len(pending) >= s.batchSize() {
			if err := flush(); err != nil {
				observability.RecordIntake("accepted", res.Accepted)
				return res, err
			}
		}
	}
	err := flush()
	observability.RecordIntake("accepted", res.Accepted)
	observability.RecordIntake("rejected", len(res.Rejected))
	span.SetAttributes(attribute.Int("accepted", res.Accepted), attribute.Int("rejected", len(res.Rejected)))
	return res, err
}

// ClaimPending atomically moves up to limit pending rows to processing.
func (s *QueueService) ClaimPending(ctx context.Context, limit int) ([]domain.QueueRecord, error) {
	rows, err := repo.ClaimPending(ctx, s.DB, limit)
	if err != nil {
		return nil, classify("queue.claim", KindConflict, err)
	}
	return rows, nil
}

// MarkCompleted is a no-op for rows that are not processing.
func (s *QueueService) MarkCompleted(ctx context.Context, id string) error {
	ctx, cancel := s.bookkeeping(ctx)
	defer cancel()
	_, err := repo.MarkCompleted(ctx, s.DB, id, "", time.Now().UTC())
	return classify("queue.mark_completed", KindProcessing, err)
}

// MarkFailed is a no-op for rows that are not processing.
func (s *QueueService) MarkFailed(ctx context.Context, id, message string) error {
	return s.markFailed(ctx, id, "", KindProcessing, message)
}

// markFailed records a failure; a non-empty token restricts it to the
// claim that token identifies.
func (s *QueueService) markFailed(ctx context.Context, id, token string, kind Kind, message string) error {
	ctx, cancel := s.bookkeeping(ctx)
	defer cancel()
	_, err := repo.MarkFailed(ctx, s.DB, id, token, string(kind), message, time.Now().UTC())
	return classify("queue.mark_failed", KindProcessing, err)
}

// bookkeeping detaches ctx from cancellation so terminal marks are written
// even when the drain was interrupted, while still bounding the write.
func (s *QueueService) bookkeeping(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout())
}

// bounded limits a single read or batch write to the op timeout.
func (s *QueueService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout())
}

// Stats returns row counts per status.
func (s *QueueService) Stats(ctx context.Context) (repo.QueueCounts, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	c, err := repo.CountQueueByStatus(ctx, s.DB)
	return c, classify("queue.stats", KindProcessing, err)
}

// List returns a page of queue rows, optionally filtered by status.
func (s *QueueService) List(ctx context.Context, status domain.QueueStatus, page, pageSize int) ([]domain.QueueRecord, int64, error) {
	switch status {
	case "", domain.QueuePending, domain.QueueProcessing, domain.QueueCompleted, domain.QueueFailed:
	default:
		return nil, 0, newError(KindValidation, "queue.list", fmt.Errorf("unknown status %q", status))
	}
	page, pageSize = utils.ClampPage(page, pageSize)
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	total, err := repo.CountQueue(ctx, s.DB, status)
	if err != nil {
		return nil, 0, classify("queue.list", KindProcessing, err)
	}
	if total == 0 {
		return []domain.QueueRecord{}, 0, nil
	}
	items, err := repo.ListQueuePage(ctx, s.DB, status, utils.Offset(page, pageSize), pageSize)
	return items, total, classify("queue.list", KindProcessing, err)
}

// Drain claims up to limit pending rows (0 = DrainLimit) and runs each
// through the pipeline, Workers at a time. Per-row failures are recorded on
// the row and counted; they never fail the drain. When ctx ends mid-drain,
// rows not yet started are released back to pending.
func (s *QueueService) Drain(ctx context.Context, limit int) (*DrainResult, error) {
	tr := observability.Tracer(observability.TracerQueue)
	ctx, span := tr.Start(ctx, "Drain")
	defer span.End()

	start := time.Now()
	defer observability.ObserveDrain(start)

	if limit <= 0 {
		limit = s.drainLimit()
	}
	res := &DrainResult{}

	if s.Retry.Mode == RetryAuto {
		n, err := repo.RequeueDueFailed(ctx, s.DB, s.Retry.MaxAttempts, s.Retry.Backoff, time.Now().UTC(), limit)
		if err != nil {
			return res, classify("queue.requeue", KindProcessing, err)
		}
		res.Requeued = int(n)
	}

	rows, err := s.ClaimPending(ctx, limit)
	if err != nil {
		return res, err
	}
	res.Claimed = len(rows)
	span.SetAttributes(attribute.Int("claimed", res.Claimed))
	if len(rows) == 0 {
		return res, nil
	}

	type outcome struct {
		id      string
		status  domain.QueueStatus
		skipped bool
	}
	outcomes := make([]outcome, len(rows))

	var g errgroup.Group
	g.SetLimit(s.workers())
	for i := range rows {
		row := rows[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = outcome{id: row.ID, skipped: true}
				return nil
			}
			outcomes[i] = outcome{id: row.ID, status: s.processRow(ctx, row)}
			return nil
		})
	}
	_ = g.Wait()

	var skipped []string
	for _, o := range outcomes {
		switch {
		case o.skipped:
			skipped = append(skipped, o.id)
		case o.status == domain.QueueCompleted:
			res.Completed++
		case o.status == domain.QueueFailed:
			res.Failed++
		}
	}
	if len(skipped) > 0 {
		rctx, cancel := s.bookkeeping(ctx)
		n, err := repo.ReleaseClaimed(rctx, s.DB, skipped)
		cancel()
		if err != nil {
			log.Error().Err(err).Int("rows", len(skipped)).Msg("release unstarted claims failed")
		}
		res.Released = int(n)
	}

	log.Info().
		Int("claimed", res.Claimed).
		Int("completed", res.Completed).
		Int("failed", res.Failed).
		Int("requeued", res.Requeued).
		Int("released", res.Released).
		Dur("took", time.Since(start)).
		Msg("queue drained")
	return res, classify("queue.drain", KindTimeout, ctx.Err())
}

// processRow normalizes and writes one claimed row, marking it completed
// inside the pipeline transaction or failed afterwards.
func (s *QueueService) processRow(ctx context.Context, row domain.QueueRecord) domain.QueueStatus {
	fail := func(kind Kind, err error) domain.QueueStatus {
		log.Warn().Err(err).Str("queue_id", row.ID).Str("device_id", row.DeviceID).Str("kind", string(kind)).Msg("queue record failed")
		if merr := s.markFailed(ctx, row.ID, row.ClaimToken, kind, err.Error()); merr != nil {
			log.Error().Err(merr).Str("queue_id", row.ID).Msg("mark failed")
		}
		observability.RecordProcessed(string(domain.QueueFailed))
		return domain.QueueFailed
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(row.RawPayload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fail(KindValidation, fmt.Errorf("decode payload: %w", err))
	}
	rec, err := intake.Normalize(raw, s.Normalize)
	if err != nil {
		return fail(KindValidation, err)
	}

	_, err = s.Pipeline.process(ctx, rec, row.ID, func(tx *gorm.DB) error {
		ok, err := repo.MarkCompleted(ctx, tx, row.ID, row.ClaimToken, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindConflict, "queue.mark_completed", errors.New("row is no longer held by this claim"))
		}
		return nil
	})
	if err != nil {
		kind := KindOf(err)
		if kind == "" {
			kind = KindProcessing
		}
		return fail(kind, err)
	}
	observability.RecordProcessed(string(domain.QueueCompleted))
	return domain.QueueCompleted
}

// RetryFailed resets failed rows to pending. An empty ids slice resets
// every failed row.
func (s *QueueService) RetryFailed(ctx context.Context, ids []string) (int64, error) {
	n, err := repo.ResetFailed(ctx, s.DB, ids)
	if err != nil {
		return 0, classify("queue.retry", KindProcessing, err)
	}
	log.Info().Int64("rows", n).Int("ids", len(ids)).Msg("failed queue records reset")
	return n, nil
}

// PruneTerminal deletes completed and failed rows processed more than
// olderThan ago.
func (s *QueueService) PruneTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, newError(KindValidation, "queue.prune", errors.New("retention must be positive"))
	}
	n, err := repo.PruneTerminal(ctx, s.DB, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, classify("queue.prune", KindProcessing, err)
	}
	if n > 0 {
		log.Info().Int64("rows", n).Dur("older_than", olderThan).Msg("pruned terminal queue records")
	}
	return n, nil
}

// ReleaseStale returns processing rows untouched for StaleAfter to pending.
func (s *QueueService) ReleaseStale(ctx context.Context) (int64, error) {
	if s.StaleAfter <= 0 {
		return 0, nil
	}
	n, err := repo.ReleaseStale(ctx, s.DB, time.Now().UTC().Add(-s.StaleAfter))
	if err != nil {
		return 0, classify("queue.release_stale", KindProcessing, err)
	}
	if n > 0 {
		log.Warn().Int64("rows", n).Msg("released stale processing claims")
	}
	return n, nil
}
