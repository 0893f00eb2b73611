package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/tbourn/device-intake/internal/services"
)

func TestArchiveDevice(t *testing.T) {
	a := &fakeArchive{}
	r := newTestRouter(New(&fakeQueue{}, a, &fakeStats{}))

	w := do(r, http.MethodPost, "/archive/356938035643809", `{"reason":"sold"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	sum := decode[services.ArchiveSummary](t, w)
	if sum.Reason != "sold" || len(sum.Archived) != 1 || sum.Archived[0] != "356938035643809" {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	if w := do(r, http.MethodPost, "/archive/356938035643809", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing reason: %d", w.Code)
	}

	a.err = &services.Error{Kind: services.KindNotFound, Op: "archive"}
	if w := do(r, http.MethodPost, "/archive/unknown", `{"reason":"sold"}`); w.Code != http.StatusNotFound {
		t.Fatalf("not found: %d", w.Code)
	}
}

func TestBulkArchive(t *testing.T) {
	a := &fakeArchive{}
	r := newTestRouter(New(&fakeQueue{}, a, &fakeStats{}))

	w := do(r, http.MethodPost, "/archive/bulk", `{"device_ids":["a","b"],"reason":"recycled"}`)
	if w.Code != http.StatusOK || len(a.bulkIDs) != 2 {
		t.Fatalf("status=%d ids=%v", w.Code, a.bulkIDs)
	}
	if w := do(r, http.MethodPost, "/archive/bulk", `{"device_ids":[],"reason":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty ids: %d", w.Code)
	}

	a.err = &services.Error{Kind: services.KindTimeout, Op: "bulk_archive", Err: context.Canceled}
	if w := do(r, http.MethodPost, "/archive/bulk", `{"device_ids":["a","b"],"reason":"x"}`); w.Code != http.StatusGatewayTimeout {
		t.Fatalf("interrupted: %d", w.Code)
	}
}

func TestBulkArchive_InterruptedReturnsPartialSummary(t *testing.T) {
	a := &fakeArchive{err: &services.Error{Kind: services.KindTimeout, Op: "bulk_archive", Err: context.DeadlineExceeded}}
	r := newTestRouter(New(&fakeQueue{}, a, &fakeStats{}))

	w := do(r, http.MethodPost, "/archive/bulk", `{"device_ids":["a","b","c"],"reason":"recycled"}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	body := decode[PartialArchiveResponse](t, w)
	if body.Code != ErrCodeTimeout || body.Message == "" {
		t.Fatalf("envelope = %+v", body.ErrorResponse)
	}
	if body.Summary == nil || len(body.Summary.Archived) != 1 || body.Summary.Archived[0] != "a" {
		t.Fatalf("summary = %+v; want the committed archive of a", body.Summary)
	}
}

func TestNuclearDelete(t *testing.T) {
	r := newTestRouter(New(&fakeQueue{}, &fakeArchive{}, &fakeStats{}))

	if w := do(r, http.MethodPost, "/archive/nuclear", `{"confirm":"yes","reason":"reset"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("wrong phrase: %d", w.Code)
	}
	w := do(r, http.MethodPost, "/archive/nuclear", `{"confirm":"DELETE ALL PRODUCTS","reason":"reset"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRestoreDevice(t *testing.T) {
	a := &fakeArchive{}
	r := newTestRouter(New(&fakeQueue{}, a, &fakeStats{}))

	w := do(r, http.MethodPost, "/restore/d1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if sum := decode[services.RestoreSummary](t, w); sum.DeviceID != "d1" || sum.BatchID != "b1" {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	a.err = &services.Error{Kind: services.KindConflict, Op: "restore"}
	w = do(r, http.MethodPost, "/restore/d1", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("conflict: %d", w.Code)
	}
	if er := decode[ErrorResponse](t, w); er.Code != ErrCodeConflict {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestListEntries(t *testing.T) {
	a := &fakeArchive{}
	r := newTestRouter(New(&fakeQueue{}, a, &fakeStats{}))

	w := do(r, http.MethodGet, "/archive/entries?device_id=d1&table=products&consumed=false", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if a.filter.DeviceID != "d1" || a.filter.Table != "products" || a.filter.Consumed == nil || *a.filter.Consumed {
		t.Fatalf("filter not applied: %+v", a.filter)
	}

	if w := do(r, http.MethodGet, "/archive/entries?table=users", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown table: %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/archive/entries?consumed=maybe", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad consumed: %d", w.Code)
	}
}
