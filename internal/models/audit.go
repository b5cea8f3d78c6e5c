package models

import "time"

const RefTypeTask = "task"

// AuditRecord is append-only; rows are never updated or deleted.
type AuditRecord struct {
	ID        uint64    `gorm:"primarykey" json:"id"`
	Actor     string    `gorm:"type:varchar(64);index" json:"actor"`
	Action    string    `gorm:"type:varchar(32);index;not null" json:"action"`
	RefType   string    `gorm:"type:varchar(32);not null" json:"ref_type"`
	RefID     uint64    `gorm:"index" json:"ref_id"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
