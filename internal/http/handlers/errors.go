// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case. The generic ones mirror HTTP status
// semantics; the rest name a service error kind or an intake failure that
// the status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Service error kinds:
	ErrCodeValidation = "validation_failed"
	ErrCodeProcessing = "processing_failed"
	ErrCodeTimeout    = "timeout"

	// Intake:
	ErrCodeUnsupportedFile = "unsupported_file"
	ErrCodeUnreadableFile  = "unreadable_file"
	ErrCodeTooLarge        = "payload_too_large"
)
