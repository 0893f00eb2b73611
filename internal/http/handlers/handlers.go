// Package handlers exposes the operator API:
//   - queue intake, draining and maintenance (queue_handler.go)
//   - archive, restore and archive listing (archive_handler.go)
//   - health counters (stats_handler.go)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results and classified errors into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/services"
	"github.com/tbourn/device-intake/internal/utils"
)

//
// Service contracts (context-aware)
//

// QueueService defines queue intake and maintenance operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type QueueService interface {
	Enqueue(ctx context.Context, raws []map[string]any) (*services.EnqueueResult, error)
	Stats(ctx context.Context) (repo.QueueCounts, error)
	List(ctx context.Context, status domain.QueueStatus, page, pageSize int) ([]domain.QueueRecord, int64, error)
	Drain(ctx context.Context, limit int) (*services.DrainResult, error)
	RetryFailed(ctx context.Context, ids []string) (int64, error)
	PruneTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ArchiveService defines the archival engine operations.
type ArchiveService interface {
	Archive(ctx context.Context, deviceID, reason string) (*services.ArchiveSummary, error)
	BulkArchive(ctx context.Context, deviceIDs []string, reason string) (*services.ArchiveSummary, error)
	Restore(ctx context.Context, deviceID string) (*services.RestoreSummary, error)
	NuclearDelete(ctx context.Context, confirm, reason string) (*services.ArchiveSummary, error)
	ListEntries(ctx context.Context, f repo.ArchiveFilter, page, pageSize int) ([]domain.ArchiveEntry, int64, error)
}

// StatsService reports health counters.
type StatsService interface {
	Health(ctx context.Context) (*services.Health, error)
}

//
// Handler wiring
//

// Handlers groups the operator endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	queueSvc   QueueService
	archiveSvc ArchiveService
	statsSvc   StatsService

	// Retention is the default window for POST /queue/prune.
	Retention time.Duration
	// MaxUploadBytes caps multipart imports (0 = unlimited).
	MaxUploadBytes int64
}

// New constructs and returns a Handlers instance bound to the given services.
func New(queueSvc QueueService, archiveSvc ArchiveService, statsSvc StatsService) *Handlers {
	return &Handlers{queueSvc: queueSvc, archiveSvc: archiveSvc, statsSvc: statsSvc}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads ?page= and ?page_size= and bounds them.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}
