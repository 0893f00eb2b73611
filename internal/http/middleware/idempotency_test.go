package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// memStore is an in-memory IdempotencyLookup/IdempotencySave pair.
type memStore struct {
	mu   sync.Mutex
	data map[string]StoredResponse
}

func newMemStore() *memStore { return &memStore{data: map[string]StoredResponse{}} }

func (m *memStore) lookup(_ context.Context, client, scope, key string, _ time.Time) (*StoredResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.data[client+"|"+scope+"|"+key]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *memStore) save(_ context.Context, client, scope, key string, resp StoredResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	body := append([]byte(nil), resp.Body...)
	m.data[client+"|"+scope+"|"+key] = StoredResponse{Status: resp.Status, Body: body}
	return nil
}

func idemRouter(store *memStore, calls *int, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Operator(), Idempotency(IdempotencyOptions{MaxLen: 16}, store.lookup, store.save))
	r.POST("/queue/records", func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"call": *calls})
	})
	r.GET("/queue/stats", func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusOK, gin.H{"call": *calls})
	})
	return r
}

func post(r http.Handler, path, key, operator string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	if operator != "" {
		req.Header.Set(HeaderOperatorID, operator)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := idemRouter(store, &calls, http.StatusAccepted)

	first := post(r, "/queue/records", "k-1", "op-1")
	second := post(r, "/queue/records", "k-1", "op-1")

	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if second.Code != http.StatusAccepted || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %q vs %q", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(HeaderIdempotentReplay) != "true" {
		t.Fatal("missing replay header")
	}
	if first.Header().Get(HeaderIdempotentReplay) != "" {
		t.Fatal("first response must not be marked as replay")
	}
}

func TestIdempotency_ScopedByOperator(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := idemRouter(store, &calls, http.StatusOK)

	post(r, "/queue/records", "k-1", "op-1")
	post(r, "/queue/records", "k-1", "op-2")
	if calls != 2 {
		t.Fatalf("different operators must not share keys, calls=%d", calls)
	}
}

func TestIdempotency_PassThroughCases(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := idemRouter(store, &calls, http.StatusOK)

	post(r, "/queue/records", "", "")
	post(r, "/queue/records", "", "")
	if calls != 2 {
		t.Fatalf("requests without a key must run every time, calls=%d", calls)
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
		req.Header.Set(HeaderIdempotencyKey, "k-get")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 4 {
		t.Fatalf("GET must bypass idempotency, calls=%d", calls)
	}
}

func TestIdempotency_FailedResponsesNotStored(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := idemRouter(store, &calls, http.StatusConflict)

	post(r, "/queue/records", "k-err", "")
	post(r, "/queue/records", "k-err", "")
	if calls != 2 {
		t.Fatalf("non-2xx must not be replayed, calls=%d", calls)
	}
}

func TestIdempotency_InvalidKey(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := idemRouter(store, &calls, http.StatusOK)

	for _, key := range []string{"has space", strings.Repeat("x", 17)} {
		w := post(r, "/queue/records", key, "")
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: got %d %s", key, w.Code, w.Body.String())
		}
	}
	if calls != 0 {
		t.Fatalf("handler must not run for invalid keys, calls=%d", calls)
	}
}

func TestIdempotency_LookupErrorFallsThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	captureLogs(t)
	failing := func(context.Context, string, string, string, time.Time) (*StoredResponse, error) {
		return nil, errors.New("db down")
	}
	saved := 0
	save := func(context.Context, string, string, string, StoredResponse) error {
		saved++
		return errors.New("still down")
	}

	r := gin.New()
	r.Use(Idempotency(IdempotencyOptions{}, failing, save))
	r.POST("/x", func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		if !ok || key != "abc" || IsReplay(c) {
			t.Errorf("unexpected context: key=%q ok=%v replay=%v", key, ok, IsReplay(c))
		}
		c.Status(http.StatusNoContent)
	})

	w := post(r, "/x", "abc", "")
	if w.Code != http.StatusNoContent || saved != 1 {
		t.Fatalf("code=%d saved=%d", w.Code, saved)
	}
}
