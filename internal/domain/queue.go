package domain

import (
	"time"

	"gorm.io/datatypes"
)

// QueueStatus is the lifecycle state of a QueueRecord.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// Terminal reports whether s is Completed or Failed.
func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueFailed
}

// QueueRecord is one inbound raw record awaiting normalization and
// persistence.
//
// Status is mutated only through the repository's compare-and-set updates:
// pending → processing (claim) → completed|failed (mark). Failed rows may be
// returned to pending by an operator retry or by the automatic retry policy.
// ClaimToken identifies the claim call that moved a row to processing.
type QueueRecord struct {
	ID           string         `json:"id"                      gorm:"type:char(36);primaryKey"`
	RawPayload   datatypes.JSON `json:"raw_payload"`
	DeviceID     string         `json:"device_id"               gorm:"type:varchar(64);index"`
	Status       QueueStatus    `json:"status"                  gorm:"type:varchar(16);not null;default:'pending';index:idx_queue_status_created,priority:1;check:status IN ('pending','processing','completed','failed')"`
	ErrorKind    string         `json:"error_kind,omitempty"    gorm:"type:varchar(32)"`
	ErrorMessage *string        `json:"error_message,omitempty" gorm:"type:text"`
	Attempts     int            `json:"attempts"                gorm:"not null;default:0"`
	ClaimToken   string         `json:"-"                       gorm:"type:char(36);index"`
	CreatedAt    time.Time      `json:"created_at"              gorm:"index:idx_queue_status_created,priority:2"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
}

// TableName returns the database table name for QueueRecord.
func (QueueRecord) TableName() string { return TableQueueRecords }
