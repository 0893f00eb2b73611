// Package domain defines the persistence models for the device intake
// queue, the normalized inventory hierarchy, and the archive ledger. These
// types are mapped with GORM and form the core data layer of the service.
//
// Every table below Product references it through device_id. The relations
// are declared on Product so the foreign keys land on the child tables. They
// carry no ON DELETE action: removal order is owned by the
// archival engine, never by the database.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Table names shared by models, archive entries and the archival order.
const (
	TableQueueRecords     = "queue_records"
	TableLocations        = "locations"
	TableProducts         = "products"
	TableDeviceAttributes = "device_attributes"
	TableInspections      = "inspection_results"
	TableInventoryCounts  = "inventory_counts"
	TableMovements        = "movement_records"
	TableArchiveEntries   = "archive_entries"
	TableSkuMatches       = "sku_match_results"
)

// TriState is a Yes/No/Pending flag coerced from loosely typed input.
type TriState string

const (
	TriYes     TriState = "Yes"
	TriNo      TriState = "No"
	TriPending TriState = "Pending"
)

// Location is a named physical place that devices are counted against.
// Key is the case-folded name and carries the uniqueness constraint.
type Location struct {
	ID        uint      `json:"id"         gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	Key       string    `json:"key"        gorm:"type:varchar(255);not null;uniqueIndex:ux_locations_key"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Location.
func (Location) TableName() string { return TableLocations }

// Product is the root of the inventory hierarchy, keyed by device identifier
// (usually an IMEI).
//
// Fields:
//   - DeviceID: unique physical unit identifier, primary key.
//   - SKU: derived (or catalog-matched) product code; indexed for aggregation.
//   - Brand / DisplayName: descriptive fields refreshed on every upsert.
//   - LocationID: the location the unit was last recorded at.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Product struct {
	DeviceID    string    `json:"device_id"    gorm:"type:varchar(64);primaryKey"`
	SKU         string    `json:"sku"          gorm:"type:varchar(255);not null;index:idx_products_sku"`
	Brand       string    `json:"brand"        gorm:"type:varchar(128);not null;default:'Unknown'"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null"`
	LocationID  uint      `json:"location_id"  gorm:"not null;index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Location   Location          `json:"-" gorm:"foreignKey:LocationID;references:ID"`
	Attributes *DeviceAttributes `json:"-" gorm:"foreignKey:DeviceID;references:DeviceID"`
	Inspection *InspectionResult `json:"-" gorm:"foreignKey:DeviceID;references:DeviceID"`
	Movements  []MovementRecord  `json:"-" gorm:"foreignKey:DeviceID;references:DeviceID"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return TableProducts }

// DeviceAttributes holds the descriptive and health attributes of a unit.
// It is 1:1 with Product.
type DeviceAttributes struct {
	DeviceID      string    `json:"device_id"       gorm:"type:varchar(64);primaryKey"`
	Model         string    `json:"model"           gorm:"type:varchar(255);not null"`
	Storage       string    `json:"storage"         gorm:"type:varchar(64)"`
	Color         string    `json:"color"           gorm:"type:varchar(64)"`
	Carrier       string    `json:"carrier"         gorm:"type:varchar(64)"`
	BatteryHealth *float64  `json:"battery_health,omitempty"`
	Working       TriState  `json:"working"         gorm:"type:varchar(16);not null;default:'Pending'"`
	Notes         *string   `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for DeviceAttributes.
func (DeviceAttributes) TableName() string { return TableDeviceAttributes }

// InspectionResult is the outcome of the functional test of a unit.
// It is 1:1 with Product.
type InspectionResult struct {
	DeviceID   string    `json:"device_id"             gorm:"type:varchar(64);primaryKey"`
	Passed     TriState  `json:"passed"                gorm:"type:varchar(16);not null;default:'Pending'"`
	DefectText *string   `json:"defect_text,omitempty" gorm:"type:text"`
	TestNotes  *string   `json:"test_notes,omitempty"  gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for InspectionResult.
func (InspectionResult) TableName() string { return TableInspections }

// InventoryCount aggregates units per (SKU, location). It is intentionally
// not keyed by device: every processed record with the same SKU and
// location increments the same row.
//
// Available is kept equal to max(0, Total - Reserved - Failed).
type InventoryCount struct {
	ID         uint      `json:"id"          gorm:"primaryKey;autoIncrement"`
	SKU        string    `json:"sku"         gorm:"type:varchar(255);not null;uniqueIndex:ux_inventory_sku_location,priority:1"`
	LocationID uint      `json:"location_id" gorm:"not null;uniqueIndex:ux_inventory_sku_location,priority:2"`
	Total      int       `json:"total"       gorm:"not null;default:0"`
	Available  int       `json:"available"   gorm:"not null;default:0"`
	Reserved   int       `json:"reserved"    gorm:"not null;default:0"`
	Passed     int       `json:"passed"      gorm:"not null;default:0"`
	Failed     int       `json:"failed"      gorm:"not null;default:0"`
	Pending    int       `json:"pending"     gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Location Location `json:"-" gorm:"foreignKey:LocationID;references:ID"`
}

// TableName returns the database table name for InventoryCount.
func (InventoryCount) TableName() string { return TableInventoryCounts }

// MovementRecord is an append-only log entry of a location/status
// transition for one device.
type MovementRecord struct {
	ID             string    `json:"id"                         gorm:"type:char(36);primaryKey"`
	DeviceID       string    `json:"device_id"                  gorm:"type:varchar(64);not null;index:idx_movements_device,priority:1"`
	FromLocationID *uint     `json:"from_location_id,omitempty"`
	ToLocationID   uint      `json:"to_location_id"             gorm:"not null"`
	Status         TriState  `json:"status"                     gorm:"type:varchar(16);not null"`
	QueueRecordID  string    `json:"queue_record_id,omitempty"  gorm:"type:char(36)"`
	CreatedAt      time.Time `json:"created_at"                 gorm:"index:idx_movements_device,priority:2"`
}

// TableName returns the database table name for MovementRecord.
func (MovementRecord) TableName() string { return TableMovements }

// ArchiveEntry is a full JSON snapshot of one removed row. BatchID groups
// all entries written by a single archive call for one device. ConsumedAt
// is set once the snapshot has been restored (or superseded by a newer
// batch during restore).
type ArchiveEntry struct {
	ID              string         `json:"id"                    gorm:"type:char(36);primaryKey"`
	BatchID         string         `json:"batch_id"              gorm:"type:char(36);not null;index"`
	OriginalTable   string         `json:"original_table"        gorm:"type:varchar(64);not null;index"`
	DeviceID        string         `json:"device_id"             gorm:"type:varchar(64);not null;index"`
	ArchivedPayload datatypes.JSON `json:"archived_payload"`
	Reason          string         `json:"reason"                gorm:"type:text;not null"`
	ArchivedAt      time.Time      `json:"archived_at"           gorm:"not null;index"`
	ConsumedAt      *time.Time     `json:"consumed_at,omitempty" gorm:"index"`
}

// TableName returns the database table name for ArchiveEntry.
func (ArchiveEntry) TableName() string { return TableArchiveEntries }

// Match statuses recorded by the SKU catalog matcher.
const (
	MatchStatusMatched = "matched"
	MatchStatusReview  = "review"
	MatchStatusNone    = "no_match"
)

// SkuMatchResult records what the catalog matcher returned for one processed
// record. It is an audit table and deliberately has no foreign key to
// products, so archiving a device leaves its match history in place.
type SkuMatchResult struct {
	ID            string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	DeviceID      string    `json:"device_id"             gorm:"type:varchar(64);not null;index"`
	QueueRecordID string    `json:"queue_record_id"       gorm:"type:char(36)"`
	GeneratedSKU  string    `json:"generated_sku"         gorm:"type:varchar(255);not null"`
	MatchedSKU    *string   `json:"matched_sku,omitempty" gorm:"type:varchar(255)"`
	Confidence    float64   `json:"confidence"            gorm:"not null;default:0"`
	Method        string    `json:"method"                gorm:"type:varchar(32)"`
	Status        string    `json:"status"                gorm:"type:varchar(16);not null"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for SkuMatchResult.
func (SkuMatchResult) TableName() string { return TableSkuMatches }
