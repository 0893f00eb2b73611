// Queue HTTP handlers.
//
// This file exposes REST endpoints for the intake queue:
//   - POST /queue/records   (enqueue a JSON array of raw records)
//   - POST /queue/import    (enqueue rows of an uploaded CSV/XLSX file)
//   - GET  /queue/records   (list rows, filtered by status, paginated)
//   - GET  /queue/stats     (row counts per status)
//   - POST /queue/drain     (claim and process pending rows now)
//   - POST /queue/retry     (reset failed rows to pending)
//   - POST /queue/prune     (delete old completed/failed rows)
//
// Enqueue responds 202: rows are accepted, not yet processed. Per-record
// validation failures are reported in the body's `rejected` list and never
// fail the request.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/http/middleware"
	"github.com/tbourn/device-intake/internal/intake"
	"github.com/tbourn/device-intake/internal/services"
	"github.com/tbourn/device-intake/internal/utils"
)

//
// DTOs
//

// ImportResponse reports an uploaded file's intake.
type ImportResponse struct {
	File     string `json:"file"`
	Rows     int    `json:"rows"`
	Accepted int    `json:"accepted"`
	// Rejected indexes refer to data rows, 0-based, header excluded.
	Rejected []services.Rejection `json:"rejected"`
	IDs      []string             `json:"ids"`
}

// ListRecordsResponse wraps a page of queue rows.
type ListRecordsResponse struct {
	Records    []domain.QueueRecord `json:"records"`
	Pagination Pagination           `json:"pagination"`
}

// RetryRequest selects failed rows to reset. An empty list resets all.
type RetryRequest struct {
	IDs []string `json:"ids"`
}

//
// Handlers
//

// EnqueueRecords accepts a JSON array of raw records. Numbers are decoded
// exactly so long numeric device ids survive.
//
// @ID          enqueueRecords
// @Summary     Enqueue raw records
// @Tags        Queue
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false  "Replay key for retried submissions"
// @Param       X-Operator-ID    header  string  false  "Operator id"
// @Param       body             body    []object  true  "Raw records"
//
// @Success     202  {object}  services.EnqueueResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     413  {object}  handlers.ErrorResponse  "Payload too large"
// @Router      /queue/records [post]
func (h *Handlers) EnqueueRecords(c *gin.Context) {
	var raws []map[string]any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&raws); err != nil {
		if tooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON array of records")
		return
	}
	if len(raws) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no records")
		return
	}

	res, err := h.queueSvc.Enqueue(c.Request.Context(), raws)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusAccepted, res)
}

// ImportFile enqueues the rows of a multipart "file" upload.
//
// @ID          importFile
// @Summary     Import a CSV or XLSX inspection export
// @Tags        Queue
// @Accept      multipart/form-data
// @Produce     json
// @Param       file  formData  file  true  "CSV or XLSX file"
// @Success     202  {object}  handlers.ImportResponse
// @Failure     415  {object}  handlers.ErrorResponse  "Unsupported file"
// @Failure     422  {object}  handlers.ErrorResponse  "Unreadable file"
// @Router      /queue/import [post]
func (h *Handlers) ImportFile(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		if tooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "upload too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, `multipart field "file" required`)
		return
	}
	format, err := intake.FormatFromName(fh.Filename)
	if err != nil {
		fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedFile, err.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeUnreadableFile, err.Error())
		return
	}
	defer f.Close()

	rows, err := intake.ReadSheet(f, format)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, ErrCodeUnreadableFile, err.Error())
		return
	}
	if len(rows) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file has no data rows")
		return
	}

	res, err := h.queueSvc.Enqueue(c.Request.Context(), intake.Records(rows))
	if err != nil {
		failService(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().
		Str("file", fh.Filename).
		Int("rows", len(rows)).
		Int("accepted", res.Accepted).
		Msg("spreadsheet imported")
	ok(c, http.StatusAccepted, ImportResponse{
		File:     fh.Filename,
		Rows:     len(rows),
		Accepted: res.Accepted,
		Rejected: res.Rejected,
		IDs:      res.IDs,
	})
}

// ListRecords returns a page of queue rows. ?status= filters by lifecycle
// state.
//
// @ID          listQueueRecords
// @Summary     List queue records (paginated)
// @Tags        Queue
// @Produce     json
// @Param       status     query  string  false  "pending|processing|completed|failed"
// @Param       page       query  int     false  "Page number"
// @Param       page_size  query  int     false  "Page size"
// @Success     200  {object}  handlers.ListRecordsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /queue/records [get]
func (h *Handlers) ListRecords(c *gin.Context) {
	page, pageSize := clampPagination(c)
	status := domain.QueueStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))

	items, total, err := h.queueSvc.List(c.Request.Context(), status, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListRecordsResponse{Records: items, Pagination: newPagination(page, pageSize, total)})
}

// QueueStats returns row counts per status.
//
// @ID          queueStats
// @Summary     Queue depth by status
// @Tags        Queue
// @Produce     json
// @Success     200  {object}  repo.QueueCounts
// @Router      /queue/stats [get]
func (h *Handlers) QueueStats(c *gin.Context) {
	counts, err := h.queueSvc.Stats(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, counts)
}

// Drain processes pending rows synchronously. ?limit= overrides the
// configured claim size.
//
// @ID          drainQueue
// @Summary     Drain pending records
// @Tags        Queue
// @Produce     json
// @Param       limit  query  int  false  "Rows to claim"
// @Success     200  {object}  services.DrainResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /queue/drain [post]
func (h *Handlers) Drain(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 0)
	if limit < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be >= 0")
		return
	}
	res, err := h.queueSvc.Drain(c.Request.Context(), limit)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// RetryFailed resets failed rows to pending. The body is optional.
func (h *Handlers) RetryFailed(c *gin.Context) {
	var req RetryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	n, err := h.queueSvc.RetryFailed(c.Request.Context(), req.IDs)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"reset": n})
}

// Prune deletes terminal rows older than ?older_than= (a Go duration such
// as "72h"), defaulting to the configured retention.
func (h *Handlers) Prune(c *gin.Context) {
	olderThan := h.Retention
	if raw := strings.TrimSpace(c.Query("older_than")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("invalid older_than %q", raw))
			return
		}
		olderThan = d
	}
	n, err := h.queueSvc.PruneTerminal(c.Request.Context(), olderThan)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"pruned": n, "older_than": olderThan.String()})
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
