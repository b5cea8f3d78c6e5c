package repository

import (
	"context"
	"errors"

	"github.com/hubflo/hubflo/internal/models"
)

// ErrVersionConflict is returned when a task row changed between read and write.
var ErrVersionConflict = errors.New("task was modified concurrently")

// TaskRepository defines the interface for task data access
type TaskRepository interface {
	// Create inserts a task and its creation audit record in one transaction
	Create(ctx context.Context, task *models.Task, audit *models.AuditRecord) error

	// FindByID finds a task by ID
	FindByID(ctx context.Context, id uint64) (*models.Task, error)

	// Update writes task if its stored version still equals expectedVersion,
	// appending audit in the same transaction
	Update(ctx context.Context, task *models.Task, expectedVersion uint64, audit *models.AuditRecord) error

	// FindActiveDialogue finds the sender's order task with an unanswered dialogue step
	FindActiveDialogue(ctx context.Context, sender string) (*models.Task, error)

	// LatestOpenOrder finds the sender's most recent open order task
	LatestOpenOrder(ctx context.Context, sender string) (*models.Task, error)

	// LatestForSender finds the sender's most recent task in one of statuses
	LatestForSender(ctx context.Context, sender string, statuses ...models.TaskStatus) (*models.Task, error)

	// LatestPendingApproval finds the most recent task awaiting approval in the given projects
	LatestPendingApproval(ctx context.Context, projectCodes []string) (*models.Task, error)

	// List retrieves tasks with filtering and pagination
	List(ctx context.Context, filter TaskFilter) ([]models.Task, int64, error)

	// ListActiveWithDueDate returns every open task that has a due date
	ListActiveWithDueDate(ctx context.Context) ([]models.Task, error)

	// ListActiveForScope returns open tasks visible to a digest recipient
	ListActiveForScope(ctx context.Context, scope TaskScope) ([]models.Task, error)

	// ListBySubcontractor returns every task routed to a subcontractor
	ListBySubcontractor(ctx context.Context, name string) ([]models.Task, error)
}

// TaskFilter holds filtering options for listing tasks
type TaskFilter struct {
	Tag      *models.Tag
	Status   *models.TaskStatus
	Sender   string
	Query    string
	Page     int
	PageSize int
}

// TaskScope selects the tasks relevant to one recipient. Empty fields are ignored;
// a task matches if it matches any non-empty field.
type TaskScope struct {
	SenderID          string
	SubcontractorName string
	ProjectCodes      []string
}

// AuditRepository defines the interface for audit trail access
type AuditRepository interface {
	// Append writes one audit record on its own
	Append(ctx context.Context, record *models.AuditRecord) error

	// ListByRef lists the audit trail of one entity, oldest first
	ListByRef(ctx context.Context, refType string, refID uint64) ([]models.AuditRecord, error)
}

// ContactRepository defines the interface for the identity and routing directory
type ContactRepository interface {
	// FindBySenderID finds a contact by chat sender id
	FindBySenderID(ctx context.Context, senderID string) (*models.Contact, error)

	// ListActive lists every active contact
	ListActive(ctx context.Context) ([]models.Contact, error)

	// Upsert creates or updates a contact keyed by sender id
	Upsert(ctx context.Context, contact *models.Contact) error

	// ManagersForProject lists manager sender ids routed to a project
	ManagersForProject(ctx context.Context, projectCode string) ([]string, error)

	// ProjectsManagedBy lists the project codes a manager is routed to
	ProjectsManagedBy(ctx context.Context, managerSenderID string) ([]string, error)

	// AddProjectManager routes a project to a manager (idempotent)
	AddProjectManager(ctx context.Context, projectCode, managerSenderID string) error
}

// LedgerRepository records sent digests and escalation notices
type LedgerRepository interface {
	// MarkDigestSent inserts the ledger row; false means it was already there
	MarkDigestSent(ctx context.Context, entry *models.DigestLedger) (bool, error)

	// MarkEscalationSent inserts the notice row; false means it was already there
	MarkEscalationSent(ctx context.Context, notice *models.EscalationNotice) (bool, error)
}
