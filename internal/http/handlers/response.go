// Package handlers provides HTTP handler implementations for the operator API.
//
// This file defines the standard response utilities used across all endpoints:
// the error envelope, the service-error to status mapping, and the success
// writer. Every failure leaves the server as an ErrorResponse with a stable
// `code` so scripts can branch on it.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "archive.restore: conflict: device 356938035643809 is live"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/device-intake/internal/http/middleware"
	"github.com/tbourn/device-intake/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code"`
	// Human-readable message
	Message string `json:"message"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, envelope(c, status, code, msg))
}

func envelope(c *gin.Context, status int, code, msg string) ErrorResponse {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	return ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
}

// PartialArchiveResponse is the error envelope of an interrupted bulk
// archive. Summary lists what was archived and what failed before the
// interruption; those archives are committed.
type PartialArchiveResponse struct {
	ErrorResponse
	Summary *services.ArchiveSummary `json:"summary"`
}

// failArchive maps err like failService and attaches the partial summary
// when there is one.
func failArchive(c *gin.Context, err error, sum *services.ArchiveSummary) {
	if sum == nil {
		failService(c, err)
		return
	}
	middleware.LoggerFrom(c).Warn().
		Err(err).
		Int("archived", len(sum.Archived)).
		Int("failed", len(sum.Failed)).
		Msg("bulk archive interrupted")
	status, code := statusFor(err)
	c.AbortWithStatusJSON(status, PartialArchiveResponse{
		ErrorResponse: envelope(c, status, code, err.Error()),
		Summary:       sum,
	})
}

// Fail is the exported variant of fail(), used by the router for NoRoute
// and NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failService maps a classified service error onto status and code.
func failService(c *gin.Context, err error) {
	status, code := statusFor(err)
	fail(c, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest, ErrCodeValidation
	case services.KindNotFound:
		return http.StatusNotFound, ErrCodeNotFound
	case services.KindConflict:
		return http.StatusConflict, ErrCodeConflict
	case services.KindTimeout:
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case services.KindProcessing:
		return http.StatusInternalServerError, ErrCodeProcessing
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
