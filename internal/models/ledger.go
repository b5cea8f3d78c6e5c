package models

import "time"

// DigestLedger marks a digest as sent for one recipient on one local calendar day.
type DigestLedger struct {
	RecipientID string    `gorm:"type:varchar(64);primarykey" json:"recipient_id"`
	Day         string    `gorm:"type:varchar(10);primarykey" json:"day"`
	TaskCount   int       `json:"task_count"`
	SentAt      time.Time `json:"sent_at"`
}

// EscalationNotice marks a bucket nudge as sent for one task and due date.
type EscalationNotice struct {
	TaskID  uint64    `gorm:"primarykey;autoIncrement:false" json:"task_id"`
	Bucket  string    `gorm:"type:varchar(16);primarykey" json:"bucket"`
	DueUnix int64     `gorm:"primarykey;autoIncrement:false" json:"due_unix"`
	SentAt  time.Time `json:"sent_at"`
}
