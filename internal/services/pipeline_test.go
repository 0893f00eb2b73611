package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/intake"
	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/sku"
	"github.com/tbourn/device-intake/internal/skumatch"
)

func normalized(t *testing.T, raw map[string]any) intake.Record {
	t.Helper()
	rec, err := intake.Normalize(raw, intake.Options{DefaultLocation: "Unassigned"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return rec
}

func TestPipeline_ReprocessUpdatesInsteadOfDuplicating(t *testing.T) {
	db := newTestDB(t)
	p := &Pipeline{DB: db}
	ctx := context.Background()
	rec := normalized(t, phone("123"))

	first, err := p.Process(ctx, rec)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if !first.Created {
		t.Fatalf("first run should create the product")
	}
	if first.Movement.FromLocationID != nil {
		t.Fatalf("first movement should have no origin")
	}

	second, err := p.Process(ctx, rec)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if second.Created {
		t.Fatalf("second run should update, not create")
	}
	if second.Movement.FromLocationID == nil || *second.Movement.FromLocationID != first.LocationID {
		t.Fatalf("second movement origin = %v, want %d", second.Movement.FromLocationID, first.LocationID)
	}

	if n := countRows(t, db, &domain.Product{}); n != 1 {
		t.Fatalf("products = %d, want 1", n)
	}
	if n := countRows(t, db, &domain.MovementRecord{}); n != 2 {
		t.Fatalf("movements = %d, want 2", n)
	}
	want := sku.Generate(rec.Brand, rec.Model, rec.Storage, rec.Color, rec.Carrier)
	if second.SKU != want {
		t.Fatalf("sku = %q, want %q", second.SKU, want)
	}
	inv, err := repo.GetInventory(ctx, db, want, first.LocationID)
	if err != nil {
		t.Fatalf("GetInventory: %v", err)
	}
	if inv.Total != 2 || inv.Passed != 2 || inv.Available != 2 {
		t.Fatalf("inventory = %+v", inv)
	}
}

func TestPipeline_InventoryFailureRollsBackEverything(t *testing.T) {
	db := newTestDB(t)
	p := &Pipeline{DB: db, Store: failingInventory{}}

	_, err := p.Process(context.Background(), normalized(t, phone("555")))
	if !errors.Is(err, ErrProcessing) {
		t.Fatalf("err = %v, want processing", err)
	}
	for _, model := range []any{&domain.Product{}, &domain.DeviceAttributes{}, &domain.InspectionResult{}, &domain.Location{}, &domain.MovementRecord{}} {
		if n := countRows(t, db, model); n != 0 {
			t.Fatalf("%T rows = %d after rollback", model, n)
		}
	}
}

func TestPipeline_MissingDeviceID(t *testing.T) {
	p := &Pipeline{DB: newTestDB(t)}
	_, err := p.Process(context.Background(), intake.Record{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestPipeline_MatcherOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		matcher    fakeMatcher
		wantStatus string
		overwrite  bool
	}{
		{"matched", fakeMatcher{res: skumatch.Result{SKU: "APL-IP12-128-BK", Confidence: 0.93, Method: skumatch.MethodJaccard}, ok: true}, domain.MatchStatusMatched, true},
		{"review", fakeMatcher{res: skumatch.Result{SKU: "APL-IP12-128-BK", Confidence: 0.6, Method: skumatch.MethodJaccard}, ok: true}, domain.MatchStatusReview, false},
		{"weak", fakeMatcher{res: skumatch.Result{SKU: "APL-IP12-128-BK", Confidence: 0.3, Method: skumatch.MethodJaccard}, ok: true}, domain.MatchStatusNone, false},
		{"absent", fakeMatcher{}, domain.MatchStatusNone, false},
		{"matcher error", fakeMatcher{err: errors.New("catalog offline")}, domain.MatchStatusNone, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			p := &Pipeline{DB: db, Matcher: tc.matcher}
			out, err := p.Process(context.Background(), normalized(t, phone("900")))
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if out.Match == nil || out.Match.Status != tc.wantStatus {
				t.Fatalf("match = %+v, want status %q", out.Match, tc.wantStatus)
			}
			if got := out.SKU == "APL-IP12-128-BK"; got != tc.overwrite {
				t.Fatalf("sku = %q (generated %q), overwrite=%v", out.SKU, out.GeneratedSKU, tc.overwrite)
			}
			if out.Inventory.SKU != out.SKU {
				t.Fatalf("inventory counted under %q, product sku %q", out.Inventory.SKU, out.SKU)
			}
			if n := countRows(t, db, &domain.SkuMatchResult{}); n != 1 {
				t.Fatalf("match rows = %d", n)
			}
		})
	}
}

func TestPipeline_MatcherTimeoutFailsRecord(t *testing.T) {
	db := newTestDB(t)
	p := &Pipeline{DB: db, Matcher: fakeMatcher{err: context.DeadlineExceeded}}
	_, err := p.Process(context.Background(), normalized(t, phone("901")))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if n := countRows(t, db, &domain.Product{}); n != 0 {
		t.Fatalf("products = %d", n)
	}
}

func TestPipeline_CustomThreshold(t *testing.T) {
	p := &Pipeline{
		DB:             newTestDB(t),
		Matcher:        fakeMatcher{res: skumatch.Result{SKU: "X-1", Confidence: 0.7, Method: skumatch.MethodJaccard}, ok: true},
		MatchThreshold: 0.65,
	}
	out, err := p.Process(context.Background(), normalized(t, phone("902")))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.SKU != "X-1" || out.Match.Status != domain.MatchStatusMatched {
		t.Fatalf("out = %+v match = %+v", out, out.Match)
	}
}
