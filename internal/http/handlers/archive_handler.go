// Archive HTTP handlers.
//
// This file exposes REST endpoints for the archival engine:
//   - POST /archive/{deviceId}   (archive one device and its children)
//   - POST /archive/bulk         (archive many devices, per-id outcomes)
//   - POST /archive/nuclear      (archive every product; needs confirmation)
//   - POST /restore/{deviceId}   (restore the latest archive of a device)
//   - GET  /archive/entries      (list archive snapshots, paginated)
package handlers

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/services"
)

//
// DTOs
//

// ArchiveRequest carries the reason recorded on every snapshot.
type ArchiveRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=500"`
}

// BulkArchiveRequest archives several devices with one reason.
type BulkArchiveRequest struct {
	DeviceIDs []string `json:"device_ids" binding:"required,min=1"`
	Reason    string   `json:"reason" binding:"required,min=1,max=500"`
}

// NuclearRequest must repeat the confirmation phrase verbatim.
type NuclearRequest struct {
	Confirm string `json:"confirm" binding:"required"`
	Reason  string `json:"reason" binding:"required,min=1,max=500"`
}

// ListEntriesResponse wraps a page of archive entries.
type ListEntriesResponse struct {
	Entries    []domain.ArchiveEntry `json:"entries"`
	Pagination Pagination            `json:"pagination"`
}

//
// Handlers
//

// ArchiveDevice archives one device.
//
// @ID          archiveDevice
// @Summary     Archive one device
// @Tags        Archive
// @Accept      json
// @Produce     json
// @Param       deviceId  path  string                    true  "Device id"
// @Param       body      body  handlers.ArchiveRequest  true  "Archive reason"
// @Success     200  {object}  services.ArchiveSummary
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown device"
// @Router      /archive/{deviceId} [post]
func (h *Handlers) ArchiveDevice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("deviceId"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device id required")
		return
	}
	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reason required")
		return
	}

	sum, err := h.archiveSvc.Archive(c.Request.Context(), id, req.Reason)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// BulkArchive archives a list of devices. Individual failures are listed in
// the summary; the request only fails for bad input or cancellation.
//
// @ID          bulkArchive
// @Summary     Archive many devices
// @Tags        Archive
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.BulkArchiveRequest  true  "Device ids and reason"
// @Success     200  {object}  services.ArchiveSummary
// @Failure     504  {object}  handlers.PartialArchiveResponse  "Interrupted; summary holds the committed part"
// @Router      /archive/bulk [post]
func (h *Handlers) BulkArchive(c *gin.Context) {
	var req BulkArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device_ids and reason required")
		return
	}

	sum, err := h.archiveSvc.BulkArchive(c.Request.Context(), req.DeviceIDs, req.Reason)
	if err != nil {
		failArchive(c, err, sum)
		return
	}
	ok(c, http.StatusOK, sum)
}

// NuclearDelete archives every product.
//
// @ID          nuclearDelete
// @Summary     Archive every product
// @Tags        Archive
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.NuclearRequest  true  "Confirmation phrase and reason"
// @Success     200  {object}  services.ArchiveSummary
// @Failure     400  {object}  handlers.ErrorResponse  "Missing confirmation"
// @Failure     504  {object}  handlers.PartialArchiveResponse  "Interrupted; summary holds the committed part"
// @Router      /archive/nuclear [post]
func (h *Handlers) NuclearDelete(c *gin.Context) {
	var req NuclearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "confirm and reason required")
		return
	}
	sum, err := h.archiveSvc.NuclearDelete(c.Request.Context(), req.Confirm, req.Reason)
	if err != nil {
		failArchive(c, err, sum)
		return
	}
	ok(c, http.StatusOK, sum)
}

// RestoreDevice restores the most recent archive of a device.
//
// @ID          restoreDevice
// @Summary     Restore a device
// @Tags        Archive
// @Produce     json
// @Param       deviceId  path  string  true  "Device id"
// @Success     200  {object}  services.RestoreSummary
// @Failure     404  {object}  handlers.ErrorResponse  "No archive entries"
// @Failure     409  {object}  handlers.ErrorResponse  "Device is live"
// @Router      /restore/{deviceId} [post]
func (h *Handlers) RestoreDevice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("deviceId"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device id required")
		return
	}
	sum, err := h.archiveSvc.Restore(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// ListEntries filters by ?device_id=, ?table= and ?consumed=true|false.
func (h *Handlers) ListEntries(c *gin.Context) {
	page, pageSize := clampPagination(c)

	f := repo.ArchiveFilter{
		DeviceID: strings.TrimSpace(c.Query("device_id")),
		Table:    strings.TrimSpace(c.Query("table")),
	}
	if f.Table != "" && !slices.Contains(services.ArchiveTables(), f.Table) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown table "+strconv.Quote(f.Table))
		return
	}
	if raw := c.Query("consumed"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "consumed must be true or false")
			return
		}
		f.Consumed = &b
	}

	items, total, err := h.archiveSvc.ListEntries(c.Request.Context(), f, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListEntriesResponse{Entries: items, Pagination: newPagination(page, pageSize, total)})
}
