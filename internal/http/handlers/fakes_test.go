package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/services"
)

type fakeQueue struct {
	enqueued [][]map[string]any
	enqErr   error
	stats    repo.QueueCounts
	listed   domain.QueueStatus
	listErr  error
	drainArg int
	retryIDs []string
	pruneArg time.Duration
	pruneErr error
}

func (f *fakeQueue) Enqueue(_ context.Context, raws []map[string]any) (*services.EnqueueResult, error) {
	f.enqueued = append(f.enqueued, raws)
	if f.enqErr != nil {
		return nil, f.enqErr
	}
	res := &services.EnqueueResult{IDs: []string{}, Rejected: []services.Rejection{}}
	for i, r := range raws {
		if _, ok := r["imei"]; !ok {
			res.Rejected = append(res.Rejected, services.Rejection{Index: i, Kind: services.KindValidation, Reason: "missing device id"})
			continue
		}
		res.Accepted++
		res.IDs = append(res.IDs, "q-"+string(rune('a'+i)))
	}
	return res, nil
}

func (f *fakeQueue) Stats(context.Context) (repo.QueueCounts, error) { return f.stats, nil }

func (f *fakeQueue) List(_ context.Context, status domain.QueueStatus, page, pageSize int) ([]domain.QueueRecord, int64, error) {
	f.listed = status
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return []domain.QueueRecord{{ID: "q-1", DeviceID: "d1", Status: domain.QueuePending}}, 41, nil
}

func (f *fakeQueue) Drain(_ context.Context, limit int) (*services.DrainResult, error) {
	f.drainArg = limit
	return &services.DrainResult{Claimed: 2, Completed: 1, Failed: 1}, nil
}

func (f *fakeQueue) RetryFailed(_ context.Context, ids []string) (int64, error) {
	f.retryIDs = ids
	return int64(max(len(ids), 3)), nil
}

func (f *fakeQueue) PruneTerminal(_ context.Context, olderThan time.Duration) (int64, error) {
	f.pruneArg = olderThan
	return 5, f.pruneErr
}

type fakeArchive struct {
	filter  repo.ArchiveFilter
	bulkIDs []string
	err     error
}

func (f *fakeArchive) Archive(_ context.Context, id, reason string) (*services.ArchiveSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.ArchiveSummary{Reason: reason, Archived: []string{id}, Tables: map[string]int{"products": 1}}, nil
}

func (f *fakeArchive) BulkArchive(_ context.Context, ids []string, reason string) (*services.ArchiveSummary, error) {
	f.bulkIDs = ids
	sum := &services.ArchiveSummary{Reason: reason, Archived: ids[:1]}
	return sum, f.err
}

func (f *fakeArchive) Restore(_ context.Context, id string) (*services.RestoreSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.RestoreSummary{DeviceID: id, BatchID: "b1"}, nil
}

func (f *fakeArchive) NuclearDelete(_ context.Context, confirm, reason string) (*services.ArchiveSummary, error) {
	if confirm != services.NuclearConfirmation {
		return nil, &services.Error{Kind: services.KindValidation, Op: "nuclear_delete", Err: services.ErrConfirmationRequired}
	}
	return &services.ArchiveSummary{Reason: reason}, nil
}

func (f *fakeArchive) ListEntries(_ context.Context, flt repo.ArchiveFilter, page, pageSize int) ([]domain.ArchiveEntry, int64, error) {
	f.filter = flt
	return []domain.ArchiveEntry{}, 0, f.err
}

type fakeStats struct {
	report *services.Health
	err    error
}

func (f *fakeStats) Health(context.Context) (*services.Health, error) { return f.report, f.err }

var errDBDown = errors.New("database is closed")
