// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides correlation and identity plumbing plus panic recovery:
//
//   - RequestID() propagates or generates X-Request-ID.
//   - Operator() records the calling operator from X-Operator-ID so logs,
//     idempotency keys and rate-limit buckets can be scoped to it.
//   - Recovery() converts panics into the standard JSON 500 envelope.
//   - LoggerFrom() returns the request-scoped zerolog.Logger attached by
//     AccessLog, or the global logger when none is attached.
//
// Recommended order: RequestID → Operator → AccessLog → Recovery.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"

	// OperatorKey is the Gin context key holding the operator identity.
	OperatorKey = "operatorID"
	// HeaderOperatorID carries the operator identity.
	HeaderOperatorID = "X-Operator-ID"

	loggerKey = "logger"
)

var operatorRE = regexp.MustCompile(`^[A-Za-z0-9._@\-]{1,64}$`)

// RequestID attaches (or propagates) a correlation identifier per request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Operator stores a well-formed X-Operator-ID in the context. Malformed or
// missing values leave the request anonymous.
func Operator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(HeaderOperatorID); operatorRE.MatchString(id) {
			c.Set(OperatorKey, id)
		}
		c.Next()
	}
}

// OperatorFrom returns the operator set by Operator, or "".
func OperatorFrom(c *gin.Context) string {
	v, _ := c.Get(OperatorKey)
	return asString(v)
}

// RequestIDFrom returns the request ID set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	return asString(v)
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500
// error when nothing has been written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := RequestIDFrom(c)
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", rid).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header(requestIDHeader, rid)
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": rid,
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger. Callers can use the
// result without nil checks.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes. A max <= 0 disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
