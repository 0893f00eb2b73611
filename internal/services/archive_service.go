// Package services – ArchiveService
//
// This file implements the archival engine. Deleting a device walks its
// rows children-first (movements, inspection, attributes, product),
// snapshotting each row into the archive ledger before deleting it, all in
// one transaction per device. Restore replays the most recent snapshot
// batch parents-first.
//
// The walk order below is the single definition of safe deletion order;
// the schema declares no cascading deletes.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/observability"
	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NuclearConfirmation is the phrase NuclearDelete requires verbatim.
const NuclearConfirmation = "DELETE ALL PRODUCTS"

type archiveStep struct {
	table   string
	archive func(ctx context.Context, db *gorm.DB, table string, b repo.ArchiveBatch) (int, error)
	restore func(ctx context.Context, db *gorm.DB, entries []domain.ArchiveEntry) (int, error)
}

// archiveOrder lists the device hierarchy children-first. Restore walks it
// backwards.
var archiveOrder = []archiveStep{
	{domain.TableMovements, repo.ArchiveRows[domain.MovementRecord], repo.RestoreRows[domain.MovementRecord]},
	{domain.TableInspections, repo.ArchiveRows[domain.InspectionResult], repo.RestoreRows[domain.InspectionResult]},
	{domain.TableDeviceAttributes, repo.ArchiveRows[domain.DeviceAttributes], repo.RestoreRows[domain.DeviceAttributes]},
	{domain.TableProducts, repo.ArchiveRows[domain.Product], repo.RestoreRows[domain.Product]},
}

// ArchiveTables returns the archived tables in deletion order.
func ArchiveTables() []string {
	out := make([]string, len(archiveOrder))
	for i, s := range archiveOrder {
		out[i] = s.table
	}
	return out
}

// ArchiveService removes and restores device hierarchies.
type ArchiveService struct {
	DB *gorm.DB

	// BatchSize bounds how many devices a bulk call handles between
	// cancellation checkpoints and progress logs (100 when zero).
	BatchSize int
	// OpTimeout bounds one device's transaction; 0 disables.
	OpTimeout time.Duration
}

// ItemFailure reports one device a bulk call could not archive.
type ItemFailure struct {
	DeviceID string `json:"device_id"`
	Kind     Kind   `json:"kind"`
	Reason   string `json:"reason"`
}

// ArchiveSummary reports rows archived per source table.
type ArchiveSummary struct {
	Reason   string         `json:"reason"`
	Tables   map[string]int `json:"tables"`
	Archived []string       `json:"archived"`
	Failed   []ItemFailure  `json:"failed"`
	BatchIDs []string       `json:"batch_ids"`
}

func newArchiveSummary(reason string) *ArchiveSummary {
	return &ArchiveSummary{
		Reason:   reason,
		Tables:   map[string]int{},
		Archived: []string{},
		Failed:   []ItemFailure{},
		BatchIDs: []string{},
	}
}

// RestoreSummary reports rows re-materialized per table.
type RestoreSummary struct {
	DeviceID   string         `json:"device_id"`
	BatchID    string         `json:"batch_id"`
	Tables     map[string]int `json:"tables"`
	Superseded int64          `json:"superseded"`
}

func (s *ArchiveService) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 100
}

func (s *ArchiveService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.OpTimeout > 0 {
		return context.WithTimeout(ctx, s.OpTimeout)
	}
	return context.WithCancel(ctx)
}

// Archive snapshots and deletes every row of deviceID's hierarchy in one
// transaction. It returns ErrNotFound when the device has no rows.
func (s *ArchiveService) Archive(ctx context.Context, deviceID, reason string) (*ArchiveSummary, error) {
	deviceID, reason = strings.TrimSpace(deviceID), strings.TrimSpace(reason)
	if deviceID == "" {
		return nil, newError(KindValidation, "archive", errors.New("device id is required"))
	}
	if reason == "" {
		return nil, newError(KindValidation, "archive", errors.New("reason is required"))
	}
	sum := newArchiveSummary(reason)
	if err := s.archiveOne(ctx, deviceID, reason, sum); err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *ArchiveService) archiveOne(ctx context.Context, deviceID, reason string, sum *ArchiveSummary) error {
	const op = "archive"

	tr := observability.Tracer(observability.TracerArchive)
	ctx, span := tr.Start(ctx, "Archive", trace.WithAttributes(attribute.String("device.id", deviceID)))
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	batch := repo.ArchiveBatch{
		BatchID:    uuid.NewString(),
		DeviceID:   deviceID,
		Reason:     reason,
		ArchivedAt: time.Now().UTC(),
	}
	counts := make(map[string]int, len(archiveOrder))
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total := 0
		for _, step := range archiveOrder {
			n, err := step.archive(ctx, tx, step.table, batch)
			if err != nil {
				return classify(op+"."+step.table, KindProcessing, err)
			}
			counts[step.table] = n
			total += n
		}
		if total == 0 {
			return newError(KindNotFound, op, fmt.Errorf("device %q has no rows", deviceID))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return classify(op, KindProcessing, err)
	}

	for table, n := range counts {
		sum.Tables[table] += n
		observability.RecordArchiveRows(table, "archive", n)
	}
	sum.Archived = append(sum.Archived, deviceID)
	sum.BatchIDs = append(sum.BatchIDs, batch.BatchID)
	return nil
}

// BulkArchive archives each distinct id independently. A failing id is
// reported in Failed and does not stop the others. Cancellation is checked
// between ids; ids already archived stay archived. The returned error is
// non-nil only for invalid input or cancellation.
func (s *ArchiveService) BulkArchive(ctx context.Context, deviceIDs []string, reason string) (*ArchiveSummary, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(KindValidation, "bulk_archive", errors.New("reason is required"))
	}

	tr := observability.Tracer(observability.TracerArchive)
	ctx, span := tr.Start(ctx, "BulkArchive", trace.WithAttributes(attribute.Int("ids", len(deviceIDs))))
	defer span.End()

	ids := dedupe(deviceIDs)
	sum := newArchiveSummary(reason)
	for start := 0; start < len(ids); start += s.batchSize() {
		end := min(start+s.batchSize(), len(ids))
		for _, id := range ids[start:end] {
			if err := ctx.Err(); err != nil {
				return sum, classify("bulk_archive", KindTimeout, err)
			}
			if err := s.archiveOne(ctx, id, reason, sum); err != nil {
				kind := KindOf(err)
				sum.Failed = append(sum.Failed, ItemFailure{DeviceID: id, Kind: kind, Reason: err.Error()})
				log.Warn().Err(err).Str("device_id", id).Str("kind", string(kind)).Msg("bulk archive item failed")
			}
		}
		log.Debug().Int("done", end).Int("total", len(ids)).Msg("bulk archive progress")
	}
	log.Info().
		Int("archived", len(sum.Archived)).
		Int("failed", len(sum.Failed)).
		Str("reason", reason).
		Msg("bulk archive finished")
	return sum, nil
}

// Restore re-inserts the most recent archive batch of deviceID parents
// first and marks every outstanding entry of the device consumed. It
// returns ErrNotFound when no unconsumed entries exist and ErrConflict when
// the product is live again.
func (s *ArchiveService) Restore(ctx context.Context, deviceID string) (*RestoreSummary, error) {
	const op = "restore"
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, newError(KindValidation, op, errors.New("device id is required"))
	}

	tr := observability.Tracer(observability.TracerArchive)
	ctx, span := tr.Start(ctx, "Restore", trace.WithAttributes(attribute.String("device.id", deviceID)))
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sum := &RestoreSummary{DeviceID: deviceID, Tables: map[string]int{}}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries, err := repo.LatestArchiveBatch(ctx, tx, deviceID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, op, fmt.Errorf("no archive entries for device %q", deviceID))
		}
		if err != nil {
			return err
		}
		sum.BatchID = entries[0].BatchID

		if _, err := repo.GetProduct(ctx, tx, deviceID); err == nil {
			return newError(KindConflict, op, fmt.Errorf("device %q already exists", deviceID))
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		byTable := make(map[string][]domain.ArchiveEntry, len(archiveOrder))
		for _, e := range entries {
			byTable[e.OriginalTable] = append(byTable[e.OriginalTable], e)
		}
		for i := len(archiveOrder) - 1; i >= 0; i-- {
			step := archiveOrder[i]
			n, err := step.restore(ctx, tx, byTable[step.table])
			if err != nil {
				return classify(op+"."+step.table, KindProcessing, err)
			}
			sum.Tables[step.table] = n
		}

		consumed, err := repo.ConsumeArchiveEntries(ctx, tx, deviceID, time.Now().UTC())
		if err != nil {
			return err
		}
		sum.Superseded = consumed - int64(len(entries))
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, classify(op, KindProcessing, err)
	}
	for table, n := range sum.Tables {
		observability.RecordArchiveRows(table, "restore", n)
	}
	return sum, nil
}

// NuclearDelete archives every product in the system. confirm must equal
// NuclearConfirmation exactly.
func (s *ArchiveService) NuclearDelete(ctx context.Context, confirm, reason string) (*ArchiveSummary, error) {
	if confirm != NuclearConfirmation {
		return nil, newError(KindValidation, "nuclear_delete", ErrConfirmationRequired)
	}
	ids, err := repo.ListProductIDs(ctx, s.DB)
	if err != nil {
		return nil, classify("nuclear_delete", KindProcessing, err)
	}
	log.Warn().Int("products", len(ids)).Str("reason", reason).Msg("nuclear delete started")
	return s.BulkArchive(ctx, ids, reason)
}

// ListEntries returns a page of archive entries matching f.
func (s *ArchiveService) ListEntries(ctx context.Context, f repo.ArchiveFilter, page, pageSize int) ([]domain.ArchiveEntry, int64, error) {
	page, pageSize = utils.ClampPage(page, pageSize)
	total, err := repo.CountArchiveEntries(ctx, s.DB, f)
	if err != nil {
		return nil, 0, classify("archive.list", KindProcessing, err)
	}
	if total == 0 {
		return []domain.ArchiveEntry{}, 0, nil
	}
	items, err := repo.ListArchiveEntries(ctx, s.DB, f, utils.Offset(page, pageSize), pageSize)
	return items, total, classify("archive.list", KindProcessing, err)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
