// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the write helpers used by the upsert
// pipeline: locations, products, attributes, inspections, inventory counts,
// movements and SKU match results.
//
// All functions take the handle they should write through. The pipeline
// passes its transaction so every step commits or rolls back together.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/device-intake/internal/domain"
)

// LocationKey folds a location name into its lookup key.
func LocationKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// FindOrCreateLocation returns the location whose key matches name,
// inserting it when absent. Concurrent inserts of the same name resolve to
// one row.
func FindOrCreateLocation(ctx context.Context, db *gorm.DB, name string) (*domain.Location, error) {
	name = strings.Join(strings.Fields(name), " ")
	key := LocationKey(name)
	if key == "" {
		return nil, errors.New("location name is empty")
	}
	db = db.WithContext(ctx)

	var loc domain.Location
	err := db.Where("key = ?", key).First(&loc).Error
	if err == nil {
		return &loc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	loc = domain.Location{Name: name, Key: key, CreatedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).Create(&loc).Error; err != nil {
		return nil, err
	}
	if loc.ID != 0 {
		return &loc, nil
	}
	// Lost the race; read the winner.
	var winner domain.Location
	if err := db.Where("key = ?", key).First(&winner).Error; err != nil {
		return nil, err
	}
	return &winner, nil
}

// GetProduct fetches a product by device id, or ErrNotFound.
func GetProduct(ctx context.Context, db *gorm.DB, deviceID string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).First(&p, "device_id = ?", deviceID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertProductIfAbsent inserts p unless a product with the same device id
// already exists. It reports whether a row was written. A concurrent insert
// of the same device makes the loser wait for the winner's commit and then
// return false instead of a unique violation.
func InsertProductIfAbsent(ctx context.Context, db *gorm.DB, p *domain.Product) (bool, error) {
	res := db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoNothing: true,
	}).Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LockProduct reads a product by device id and, on PostgreSQL, holds a row
// lock on it until the surrounding transaction ends.
func LockProduct(ctx context.Context, db *gorm.DB, deviceID string) (*domain.Product, error) {
	q := db.WithContext(ctx)
	if IsPostgres(db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p domain.Product
	if err := q.First(&p, "device_id = ?", deviceID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProduct rewrites the mutable product fields and touches updated_at.
func UpdateProduct(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	p.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Product{}).
		Where("device_id = ?", p.DeviceID).
		Updates(map[string]any{
			"sku":          p.SKU,
			"brand":        p.Brand,
			"display_name": p.DisplayName,
			"location_id":  p.LocationID,
			"updated_at":   p.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProductSKU overwrites the SKU of an existing product.
func UpdateProductSKU(ctx context.Context, db *gorm.DB, deviceID, sku string) error {
	return db.WithContext(ctx).Model(&domain.Product{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]any{"sku": sku, "updated_at": time.Now().UTC()}).Error
}

// UpsertAttributes inserts or replaces the attribute row for a device,
// keeping its original created_at.
func UpsertAttributes(ctx context.Context, db *gorm.DB, a *domain.DeviceAttributes) error {
	return db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"model", "storage", "color", "carrier", "battery_health", "working", "notes", "updated_at",
		}),
	}).Create(a).Error
}

// UpsertInspection inserts or replaces the inspection row for a device,
// keeping its original created_at.
func UpsertInspection(ctx context.Context, db *gorm.DB, r *domain.InspectionResult) error {
	return db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"passed", "defect_text", "test_notes", "updated_at"}),
	}).Create(r).Error
}

// IncrementInventory adds qty units to the (sku, location) aggregate,
// creating it on first use, and bumps the passed/failed/pending
// sub-counter selected by working. Available is then recomputed as
// max(0, total - reserved - failed).
func IncrementInventory(ctx context.Context, db *gorm.DB, sku string, locationID uint, qty int, working domain.TriState) (*domain.InventoryCount, error) {
	if qty < 1 {
		qty = 1
	}
	db = db.WithContext(ctx)
	now := time.Now().UTC()

	row := domain.InventoryCount{SKU: sku, LocationID: locationID, Total: qty, CreatedAt: now, UpdatedAt: now}
	sub := "pending"
	switch working {
	case domain.TriYes:
		row.Passed, sub = qty, "passed"
	case domain.TriNo:
		row.Failed, sub = qty, "failed"
	default:
		row.Pending = qty
	}

	err := db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sku"}, {Name: "location_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total":      gorm.Expr(domain.TableInventoryCounts+".total + ?", qty),
			sub:          gorm.Expr(domain.TableInventoryCounts+"."+sub+" + ?", qty),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}

	err = db.Model(&domain.InventoryCount{}).
		Where("sku = ? AND location_id = ?", sku, locationID).
		UpdateColumn("available", gorm.Expr("CASE WHEN total - reserved - failed > 0 THEN total - reserved - failed ELSE 0 END")).Error
	if err != nil {
		return nil, err
	}

	var out domain.InventoryCount
	if err := db.Where("sku = ? AND location_id = ?", sku, locationID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// GetInventory returns the aggregate for (sku, location), or ErrNotFound.
func GetInventory(ctx context.Context, db *gorm.DB, sku string, locationID uint) (*domain.InventoryCount, error) {
	var out domain.InventoryCount
	if err := db.WithContext(ctx).Where("sku = ? AND location_id = ?", sku, locationID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendMovement inserts a movement log entry.
func AppendMovement(ctx context.Context, db *gorm.DB, m *domain.MovementRecord) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
}

// CreateSkuMatch records a matcher outcome.
func CreateSkuMatch(ctx context.Context, db *gorm.DB, r *domain.SkuMatchResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(r).Error
}
