package repo

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/device-intake/internal/domain"
)

// newTestDB opens a migrated file-backed SQLite database in a temp dir.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenSQLite(path, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// seedDevice inserts a product with attributes, an inspection and one
// movement under a fresh location.
func seedDevice(t *testing.T, db *gorm.DB, deviceID string) *domain.Product {
	t.Helper()
	loc := domain.Location{Name: "Bay " + deviceID, Key: "bay " + deviceID, CreatedAt: time.Now().UTC()}
	if err := db.Create(&loc).Error; err != nil {
		t.Fatalf("seed location: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &domain.Product{DeviceID: deviceID, SKU: "IPHONE12-128-BLK", Brand: "Apple", DisplayName: "Apple iPhone 12", LocationID: loc.ID, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	battery := 91.5
	if err := db.Create(&domain.DeviceAttributes{DeviceID: deviceID, Model: "iPhone 12", Storage: "128GB", Color: "Black", BatteryHealth: &battery, Working: domain.TriYes}).Error; err != nil {
		t.Fatalf("seed attributes: %v", err)
	}
	if err := db.Create(&domain.InspectionResult{DeviceID: deviceID, Passed: domain.TriYes}).Error; err != nil {
		t.Fatalf("seed inspection: %v", err)
	}
	if err := AppendMovement(t.Context(), db, &domain.MovementRecord{DeviceID: deviceID, ToLocationID: loc.ID, Status: domain.TriYes}); err != nil {
		t.Fatalf("seed movement: %v", err)
	}
	return p
}
