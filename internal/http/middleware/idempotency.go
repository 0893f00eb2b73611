// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for unsafe requests. The
// first successful response for (client, route, key) is stored; a retry with
// the same key receives the stored status and body verbatim instead of
// re-running the handler, so a client resubmitting an intake batch after a
// network error does not enqueue it twice.
//
// Persistence is injected through IdempotencyLookup and IdempotencySave.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplay is set on responses served from the store.
const HeaderIdempotentReplay = "Idempotent-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// StoredResponse is a previously completed response.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyLookup returns the stored response for the tuple, or nil when
// none exists or it expired.
type IdempotencyLookup func(ctx context.Context, clientID, scope, key string, now time.Time) (*StoredResponse, error)

// IdempotencySave persists a completed response.
type IdempotencySave func(ctx context.Context, clientID, scope, key string, resp StoredResponse) error

// IdempotencyOptions configures key validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length (200 when <= 0).
	MaxLen int
	// Pattern restricts allowed characters (token-like when nil).
	Pattern *regexp.Regexp
}

// GetIdempotencyKey returns the validated key for this request.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemKey)
	s := asString(v)
	return s, s != ""
}

// IsReplay reports whether the response was served from the store.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// idempotencyClient scopes keys to the operator, or the client IP for
// anonymous callers.
func idempotencyClient(c *gin.Context) string {
	if op := OperatorFrom(c); op != "" {
		return "op:" + op
	}
	return "ip:" + c.ClientIP()
}

// bodyRecorder tees the response body so it can be stored.
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency returns the middleware. Safe methods and requests without the
// header pass through untouched. Malformed keys get 400. Lookup failures
// fall through to normal processing; save failures are logged. Only 2xx
// responses are stored.
func Idempotency(opts IdempotencyOptions, lookup IdempotencyLookup, save IdempotencySave) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		client := idempotencyClient(c)
		scope := c.Request.Method + " " + c.FullPath()
		ctx := c.Request.Context()

		if lookup != nil {
			prev, err := lookup(ctx, client, scope, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if prev != nil {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
				c.Header(HeaderIdempotentReplay, "true")
				c.Data(prev.Status, "application/json; charset=utf-8", prev.Body)
				c.Abort()
				return
			}
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if save == nil || status < 200 || status >= 300 {
			return
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := save(sctx, client, scope, key, StoredResponse{Status: status, Body: rec.buf.Bytes()}); err != nil {
			LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency save failed")
		}
	}
}
