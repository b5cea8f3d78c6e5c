package dto

import (
	"time"

	"github.com/hubflo/hubflo/internal/models"
)

// OrderDTO is the captured order detail of an order task
type OrderDTO struct {
	Item         string             `json:"item"`
	Quantity     string             `json:"quantity"`
	Supplier     string             `json:"supplier"`
	DeliveryDate string             `json:"delivery_date"`
	DropLocation string             `json:"drop_location"`
	State        *models.OrderState `json:"state"`
}

// AttachmentDTO describes media that came with the message
type AttachmentDTO struct {
	URL  string `json:"url"`
	Mime string `json:"mime,omitempty"`
	Name string `json:"name,omitempty"`
}

// TaskDTO represents a task in API responses
type TaskDTO struct {
	ID                uint64               `json:"id"`
	Sender            string               `json:"sender"`
	Text              string               `json:"text"`
	Tag               models.Tag           `json:"tag"`
	Subtype           models.Subtype       `json:"subtype"`
	Status            models.TaskStatus    `json:"status"`
	DialogueState     models.DialogueState `json:"dialogue_state"`
	ParentID          *uint64              `json:"parent_id,omitempty"`
	DueDate           *time.Time           `json:"due_date"`
	StartedAt         *time.Time           `json:"started_at,omitempty"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
	ApprovedAt        *time.Time           `json:"approved_at,omitempty"`
	RejectedAt        *time.Time           `json:"rejected_at,omitempty"`
	OverrunDays       int                  `json:"overrun_days"`
	IsRework          bool                 `json:"is_rework"`
	SubcontractorName string               `json:"subcontractor_name,omitempty"`
	ProjectCode       string               `json:"project_code,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	LastUpdated       time.Time            `json:"last_updated"`
	Version           uint64               `json:"version"`
	Order             *OrderDTO            `json:"order,omitempty"`
	Attachment        *AttachmentDTO       `json:"attachment,omitempty"`
}

// TaskListResponse represents a paginated list of tasks
type TaskListResponse struct {
	Tasks      []TaskDTO `json:"tasks"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalCount int64     `json:"total_count"`
	TotalPages int       `json:"total_pages"`
}

// AuditRecordDTO is one entry of a task's audit trail
type AuditRecordDTO struct {
	ID         uint64    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Details    string    `json:"details,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SummaryDTO counts recent tasks by tag
type SummaryDTO struct {
	CountsByTag map[models.Tag]int `json:"counts_by_tag"`
	Latest      []TaskDTO          `json:"latest"`
}

// Requests

// CreateTaskRequest represents the request body for creating a task
type CreateTaskRequest struct {
	Sender            string         `json:"sender" binding:"required"`
	Text              string         `json:"text" binding:"required"`
	Tag               models.Tag     `json:"tag"`
	Subtype           models.Subtype `json:"subtype"`
	DueDate           *time.Time     `json:"due_date"`
	ParentID          *uint64        `json:"parent_id"`
	SubcontractorName string         `json:"subcontractor_name"`
	ProjectCode       string         `json:"project_code"`
}

// RejectTaskRequest represents the request body for rejecting a task.
// Rework defaults to true when omitted.
type RejectTaskRequest struct {
	Rework *bool `json:"rework"`
}

// OrderStateRequest represents the request body for moving an order
type OrderStateRequest struct {
	State string `json:"state" binding:"required"`
}

// DueDateRequest represents the request body for setting a due date. A null
// due_date clears it.
type DueDateRequest struct {
	DueDate *time.Time `json:"due_date"`
}

// LoginRequest represents the admin login body
type LoginRequest struct {
	Token string `json:"token" binding:"required"`
}

// Conversion functions

// ToTaskDTO converts a Task model to TaskDTO
func ToTaskDTO(task models.Task) TaskDTO {
	dto := TaskDTO{
		ID:                task.ID,
		Sender:            task.Sender,
		Text:              task.Text,
		Tag:               task.Tag,
		Subtype:           task.Subtype,
		Status:            task.Status,
		DialogueState:     task.DialogueState,
		ParentID:          task.ParentID,
		DueDate:           task.DueDate,
		StartedAt:         task.StartedAt,
		CompletedAt:       task.CompletedAt,
		ApprovedAt:        task.ApprovedAt,
		RejectedAt:        task.RejectedAt,
		OverrunDays:       task.OverrunDays,
		IsRework:          task.IsRework,
		SubcontractorName: task.SubcontractorName,
		ProjectCode:       task.ProjectCode,
		CreatedAt:         task.CreatedAt,
		LastUpdated:       task.UpdatedAt,
		Version:           task.Version,
	}

	if task.Tag == models.TagOrder {
		dto.Order = &OrderDTO{
			Item:         task.Order.Item,
			Quantity:     task.Order.Quantity,
			Supplier:     task.Order.Supplier,
			DeliveryDate: task.Order.DeliveryDate,
			DropLocation: task.Order.DropLocation,
			State:        task.OrderState,
		}
	}

	if task.AttachmentURL != "" {
		dto.Attachment = &AttachmentDTO{
			URL:  task.AttachmentURL,
			Mime: task.AttachmentMime,
			Name: task.AttachmentName,
		}
	}

	return dto
}

// ToTaskDTOs converts a slice of tasks
func ToTaskDTOs(tasks []models.Task) []TaskDTO {
	items := make([]TaskDTO, len(tasks))
	for i, task := range tasks {
		items[i] = ToTaskDTO(task)
	}
	return items
}

// ToTaskListResponse converts a slice of tasks to TaskListResponse
func ToTaskListResponse(tasks []models.Task, page, pageSize int, totalCount int64) TaskListResponse {
	totalPages := int(totalCount) / pageSize
	if int(totalCount)%pageSize > 0 {
		totalPages++
	}

	return TaskListResponse{
		Tasks:      ToTaskDTOs(tasks),
		Page:       page,
		PageSize:   pageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
	}
}

// ToAuditRecordDTOs converts audit records
func ToAuditRecordDTOs(records []models.AuditRecord) []AuditRecordDTO {
	items := make([]AuditRecordDTO, len(records))
	for i, r := range records {
		items[i] = AuditRecordDTO{
			ID:         r.ID,
			Actor:      r.Actor,
			Action:     r.Action,
			Details:    r.Details,
			OccurredAt: r.CreatedAt,
		}
	}
	return items
}
