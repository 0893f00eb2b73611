package handlers

import (
	"net/http"
	"testing"

	"github.com/tbourn/device-intake/internal/services"
)

func TestHealth(t *testing.T) {
	s := &fakeStats{report: &services.Health{DB: "ok", Products: 3}}
	r := newTestRouter(New(&fakeQueue{}, &fakeArchive{}, s))

	w := do(r, http.MethodGet, "/stats/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if h := decode[services.Health](t, w); h.Products != 3 {
		t.Fatalf("unexpected report: %+v", h)
	}

	s.report = &services.Health{DB: "unavailable: " + errDBDown.Error()}
	s.err = &services.Error{Kind: services.KindProcessing, Op: "stats.health", Err: errDBDown}
	w = do(r, http.MethodGet, "/stats/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if h := decode[services.Health](t, w); h.DB == "ok" {
		t.Fatalf("db state not reported: %+v", h)
	}

	s.report = &services.Health{DB: "ok"}
	if w := do(r, http.MethodGet, "/stats/health", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("count failure: %d", w.Code)
	}
}
