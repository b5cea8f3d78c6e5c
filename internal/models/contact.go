package models

import "time"

type ContactRole string

const (
	RoleManager     ContactRole = "pm"
	RoleFieldWorker ContactRole = "sub"
)

// Contact is a chat participant known to the identity directory.
type Contact struct {
	ID                uint64      `gorm:"primarykey" json:"id"`
	SenderID          string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"sender_id"`
	Name              string      `gorm:"type:varchar(128)" json:"name"`
	Role              ContactRole `gorm:"type:varchar(16);not null" json:"role"`
	ProjectCode       string      `gorm:"type:varchar(128);index" json:"project_code"`
	SubcontractorName string      `gorm:"type:varchar(128)" json:"subcontractor_name"`
	Timezone          string      `gorm:"type:varchar(64)" json:"timezone"`
	Active            bool        `gorm:"not null" json:"active"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// ProjectManager routes a project's escalations and approvals to a manager.
type ProjectManager struct {
	ProjectCode     string    `gorm:"type:varchar(128);primarykey" json:"project_code"`
	ManagerSenderID string    `gorm:"type:varchar(64);primarykey" json:"manager_sender_id"`
	CreatedAt       time.Time `json:"created_at"`
}
