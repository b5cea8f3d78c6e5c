package models

import (
	"time"
)

type Tag string

const (
	TagOrder  Tag = "order"
	TagChange Tag = "change"
	TagTask   Tag = "task"
	TagUrgent Tag = "urgent"
	TagNone   Tag = "none"
)

func (t Tag) IsValid() bool {
	switch t {
	case TagOrder, TagChange, TagTask, TagUrgent, TagNone:
		return true
	}
	return false
}

type Subtype string

const (
	SubtypeAssigned Subtype = "assigned"
	SubtypeSelf     Subtype = "self"
)

func (s Subtype) IsValid() bool {
	return s == SubtypeAssigned || s == SubtypeSelf
}

type TaskStatus string

const (
	TaskStatusOpen            TaskStatus = "open"
	TaskStatusInProgress      TaskStatus = "in_progress"
	TaskStatusPendingApproval TaskStatus = "pending_approval"
	TaskStatusApproved        TaskStatus = "approved"
	TaskStatusRejected        TaskStatus = "rejected"
	TaskStatusDone            TaskStatus = "done"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusPendingApproval,
		TaskStatusApproved, TaskStatusRejected, TaskStatusDone:
		return true
	}
	return false
}

// IsTerminal reports whether only a revoke can move the task on.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusApproved || s == TaskStatusRejected || s == TaskStatusDone
}

// ActiveStatuses are the statuses the scheduler and digests treat as open work.
var ActiveStatuses = []TaskStatus{TaskStatusOpen, TaskStatusInProgress, TaskStatusPendingApproval}

type OrderState string

const (
	OrderStateQuoted          OrderState = "quoted"
	OrderStatePendingApproval OrderState = "pending_approval"
	OrderStateApproved        OrderState = "approved"
	OrderStateCancelled       OrderState = "cancelled"
	OrderStateInvoiced        OrderState = "invoiced"
	OrderStateEnacted         OrderState = "enacted"
)

// OrderStates is the fixed order sub-lifecycle enum.
var OrderStates = []OrderState{
	OrderStateQuoted,
	OrderStatePendingApproval,
	OrderStateApproved,
	OrderStateCancelled,
	OrderStateInvoiced,
	OrderStateEnacted,
}

// ParseOrderState validates s against the enum.
func ParseOrderState(s string) (OrderState, bool) {
	for _, st := range OrderStates {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type DialogueState string

const (
	DialogueNone                 DialogueState = "none"
	DialogueAwaitingItem         DialogueState = "awaiting_item"
	DialogueAwaitingQuantity     DialogueState = "awaiting_quantity"
	DialogueAwaitingSupplier     DialogueState = "awaiting_supplier"
	DialogueAwaitingDeliveryDate DialogueState = "awaiting_delivery_date"
	DialogueAwaitingDropLocation DialogueState = "awaiting_drop_location"
	DialogueCaptured             DialogueState = "captured"
)

// IsActive reports whether the dialogue is waiting for an answer.
func (d DialogueState) IsActive() bool {
	return d != "" && d != DialogueNone && d != DialogueCaptured
}

// OrderDetails is the structured record captured by the order dialogue.
type OrderDetails struct {
	Item         string `gorm:"type:varchar(255)" json:"item"`
	Quantity     string `gorm:"type:varchar(64)" json:"quantity"`
	Supplier     string `gorm:"type:varchar(255)" json:"supplier"`
	DeliveryDate string `gorm:"type:varchar(64)" json:"delivery_date"`
	DropLocation string `gorm:"type:varchar(255)" json:"drop_location"`
}

type Task struct {
	ID      uint64  `gorm:"primarykey" json:"id"`
	Sender  string  `gorm:"type:varchar(64);index" json:"sender"`
	Text    string  `gorm:"type:text" json:"text"`
	Tag     Tag     `gorm:"type:varchar(32);index;not null;default:'none'" json:"tag"`
	Subtype Subtype `gorm:"type:varchar(16);not null;default:'assigned'" json:"subtype"`

	Status        TaskStatus    `gorm:"type:varchar(24);index;not null;default:'open'" json:"status"`
	OrderState    *OrderState   `gorm:"type:varchar(24)" json:"order_state"`
	DialogueState DialogueState `gorm:"type:varchar(32);index;not null;default:'none'" json:"dialogue_state"`
	Order         OrderDetails  `gorm:"embedded;embeddedPrefix:order_" json:"order"`
	ParentID      *uint64       `gorm:"index" json:"parent_id,omitempty"`

	DueDate     *time.Time `gorm:"index" json:"due_date"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ApprovedAt  *time.Time `json:"approved_at"`
	RejectedAt  *time.Time `json:"rejected_at"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"last_updated"`

	OverrunDays int  `gorm:"not null;default:0" json:"overrun_days"`
	IsRework    bool `gorm:"not null;default:false" json:"is_rework"`

	SubcontractorName string `gorm:"type:varchar(128);index" json:"subcontractor_name"`
	ProjectCode       string `gorm:"type:varchar(128);index" json:"project_code"`

	AttachmentURL  string `gorm:"type:text" json:"attachment_url,omitempty"`
	AttachmentMime string `gorm:"type:varchar(128)" json:"attachment_mime,omitempty"`
	AttachmentName string `gorm:"type:varchar(256)" json:"attachment_name,omitempty"`

	Version uint64 `gorm:"not null;default:1" json:"version"`
}

// StartTime is the reference point for escalation ratios.
func (t *Task) StartTime() time.Time {
	if t.StartedAt != nil {
		return *t.StartedAt
	}
	return t.CreatedAt
}

// IsActive reports whether the task still counts as open work.
func (t *Task) IsActive() bool {
	for _, s := range ActiveStatuses {
		if t.Status == s {
			return true
		}
	}
	return false
}
