// Package services defines the business logic for queue intake, the upsert
// pipeline, archival and health reporting. This file centralizes the error
// taxonomy so that every service returns failures that callers can classify
// with errors.Is.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies a service failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindProcessing Kind = "processing"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindTimeout    Kind = "timeout"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	// ErrValidation indicates malformed input rejected before any write.
	ErrValidation = &Error{Kind: KindValidation}

	// ErrProcessing indicates a failure inside the upsert pipeline.
	ErrProcessing = &Error{Kind: KindProcessing}

	// ErrNotFound indicates that the requested device or archive does not exist.
	ErrNotFound = &Error{Kind: KindNotFound}

	// ErrConflict indicates a constraint violation or lost race. Callers may
	// decide whether to retry.
	ErrConflict = &Error{Kind: KindConflict}

	// ErrTimeout indicates a deadline was exceeded; safe to retry.
	ErrTimeout = &Error{Kind: KindTimeout}
)

// ErrConfirmationRequired is returned by NuclearDelete when the caller did
// not pass the exact confirmation phrase.
var ErrConfirmationRequired = errors.New("confirmation phrase mismatch")

// Error is a classified service failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the kind of err, or "" if it is not a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify wraps err with the kind inferred from its cause. Already
// classified errors pass through unchanged. fallback is used for
// unrecognized database or pipeline failures.
func classify(op string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(KindTimeout, op, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return newError(KindNotFound, op, err)
	case isUniqueViolation(err), errors.Is(err, gorm.ErrDuplicatedKey):
		return newError(KindConflict, op, err)
	}
	return newError(fallback, op, err)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed: unique")
}
