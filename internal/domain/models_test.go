package domain

import (
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(QueueRecord{}).TableName():      "queue_records",
		(Location{}).TableName():         "locations",
		(Product{}).TableName():          "products",
		(DeviceAttributes{}).TableName(): "device_attributes",
		(InspectionResult{}).TableName(): "inspection_results",
		(InventoryCount{}).TableName():   "inventory_counts",
		(MovementRecord{}).TableName():   "movement_records",
		(ArchiveEntry{}).TableName():     "archive_entries",
		(SkuMatchResult{}).TableName():   "sku_match_results",
		(Idempotency{}).TableName():      "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestQueueStatus_Terminal(t *testing.T) {
	if QueuePending.Terminal() || QueueProcessing.Terminal() {
		t.Fatal("pending/processing must not be terminal")
	}
	if !QueueCompleted.Terminal() || !QueueFailed.Terminal() {
		t.Fatal("completed/failed must be terminal")
	}
}

func TestMigrations_IndexesAndForeignKeys(t *testing.T) {
	db := newDomainDB(t)

	models := []any{
		&QueueRecord{}, &Location{}, &Product{}, &DeviceAttributes{},
		&InspectionResult{}, &InventoryCount{}, &MovementRecord{},
		&ArchiveEntry{}, &SkuMatchResult{}, &Idempotency{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	for _, mdl := range models {
		if !m.HasTable(mdl) {
			t.Fatalf("expected table for %T to exist", mdl)
		}
	}
	if !m.HasIndex(&InventoryCount{}, "ux_inventory_sku_location") {
		t.Fatal("expected ux_inventory_sku_location on inventory_counts")
	}
	if !m.HasIndex(&QueueRecord{}, "idx_queue_status_created") {
		t.Fatal("expected idx_queue_status_created on queue_records")
	}
	if !m.HasIndex(&Location{}, "ux_locations_key") {
		t.Fatal("expected ux_locations_key on locations")
	}

	loc := Location{Name: "Bay 1", Key: "bay 1"}
	if err := db.Create(&loc).Error; err != nil {
		t.Fatalf("create location: %v", err)
	}
	p := Product{DeviceID: "353000000000001", SKU: "IPHONE12-128-BLK", Brand: "Apple", DisplayName: "Apple iPhone 12", LocationID: loc.ID}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	if err := db.Create(&DeviceAttributes{DeviceID: p.DeviceID, Model: "iPhone 12", Working: TriYes}).Error; err != nil {
		t.Fatalf("create attributes: %v", err)
	}

	// Orphan child rejected.
	if err := db.Create(&DeviceAttributes{DeviceID: "missing", Model: "x", Working: TriNo}).Error; err == nil {
		t.Fatal("expected FK violation for orphan attributes")
	}

	// Parent delete blocked while a child exists.
	if err := db.Delete(&Product{}, "device_id = ?", p.DeviceID).Error; err == nil {
		t.Fatal("expected FK violation deleting product with attributes")
	}
}
