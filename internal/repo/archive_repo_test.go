package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/device-intake/internal/domain"
)


func TestArchiveRows_SnapshotsThenDeletes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	orig := seedDevice(t, db, "d1")
	b := ArchiveBatch{BatchID: uuid.NewString(), DeviceID: "d1", Reason: "sold", ArchivedAt: time.Now().UTC()}

	// Deleting the parent first violates the foreign keys; the transaction
	// also discards the snapshot it wrote.
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ArchiveRows[domain.Product](ctx, tx, domain.TableProducts, b)
		return err
	})
	if err == nil {
		t.Fatal("expected FK violation archiving product before children")
	}

	for _, step := range []struct {
		table string
		fn    func() (int, error)
	}{
		{domain.TableMovements, func() (int, error) { return ArchiveRows[domain.MovementRecord](ctx, db, domain.TableMovements, b) }},
		{domain.TableInspections, func() (int, error) { return ArchiveRows[domain.InspectionResult](ctx, db, domain.TableInspections, b) }},
		{domain.TableDeviceAttributes, func() (int, error) { return ArchiveRows[domain.DeviceAttributes](ctx, db, domain.TableDeviceAttributes, b) }},
		{domain.TableProducts, func() (int, error) { return ArchiveRows[domain.Product](ctx, db, domain.TableProducts, b) }},
	} {
		n, err := step.fn()
		if err != nil || n != 1 {
			t.Fatalf("archive %s: n=%d err=%v", step.table, n, err)
		}
	}
	if _, err := GetProduct(ctx, db, "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("product still present: %v", err)
	}

	entries, err := LatestArchiveBatch(ctx, db, "d1")
	if err != nil {
		t.Fatalf("LatestArchiveBatch: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d; want 4", len(entries))
	}

	byTable := map[string][]domain.ArchiveEntry{}
	for _, e := range entries {
		byTable[e.OriginalTable] = append(byTable[e.OriginalTable], e)
	}
	if _, err := RestoreRows[domain.Product](ctx, db, byTable[domain.TableProducts]); err != nil {
		t.Fatalf("restore product: %v", err)
	}
	got, err := GetProduct(ctx, db, "d1")
	if err != nil {
		t.Fatalf("GetProduct after restore: %v", err)
	}
	if got.SKU != orig.SKU || got.Brand != orig.Brand || got.DisplayName != orig.DisplayName ||
		got.LocationID != orig.LocationID || !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Fatalf("restored product differs:\n got %+v\nwant %+v", got, orig)
	}

	n, err := ConsumeArchiveEntries(ctx, db, "d1", time.Now().UTC())
	if err != nil || n != 4 {
		t.Fatalf("ConsumeArchiveEntries: n=%d err=%v", n, err)
	}
	if _, err := LatestArchiveBatch(ctx, db, "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after consume, got %v", err)
	}
}

func TestArchiveRows_NoRows(t *testing.T) {
	db := newTestDB(t)
	n, err := ArchiveRows[domain.MovementRecord](context.Background(), db, domain.TableMovements, ArchiveBatch{BatchID: "b", DeviceID: "none"})
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestListArchiveEntries_Filters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedDevice(t, db, "d1")
	b := ArchiveBatch{BatchID: uuid.NewString(), DeviceID: "d1", Reason: "r", ArchivedAt: time.Now().UTC()}
	if _, err := ArchiveRows[domain.MovementRecord](ctx, db, domain.TableMovements, b); err != nil {
		t.Fatalf("archive movements: %v", err)
	}
	if _, err := ArchiveRows[domain.InspectionResult](ctx, db, domain.TableInspections, b); err != nil {
		t.Fatalf("archive inspections: %v", err)
	}

	total, _ := CountArchiveEntries(ctx, db, ArchiveFilter{DeviceID: "d1"})
	if total != 2 {
		t.Fatalf("total = %d; want 2", total)
	}
	list, err := ListArchiveEntries(ctx, db, ArchiveFilter{Table: domain.TableMovements}, 0, 10)
	if err != nil || len(list) != 1 || list[0].OriginalTable != domain.TableMovements {
		t.Fatalf("table filter: %+v %v", list, err)
	}
	consumed := true
	if n, _ := CountArchiveEntries(ctx, db, ArchiveFilter{Consumed: &consumed}); n != 0 {
		t.Fatalf("consumed = %d; want 0", n)
	}

	counts, err := CountArchive(ctx, db)
	if err != nil {
		t.Fatalf("CountArchive: %v", err)
	}
	if counts.Total != 2 || counts.ByTable[domain.TableInspections] != 1 || counts.Consumed != 0 {
		t.Fatalf("counts = %+v", counts)
	}

	ids, err := ListProductIDs(ctx, db)
	if err != nil || len(ids) != 1 || ids[0] != "d1" {
		t.Fatalf("ListProductIDs = %v %v", ids, err)
	}
	if err := Ping(ctx, db); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
