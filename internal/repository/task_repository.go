package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/hubflo/hubflo/internal/database"
	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/utils"
	"gorm.io/gorm"
)

var activeDialogueStates = []models.DialogueState{
	models.DialogueAwaitingItem,
	models.DialogueAwaitingQuantity,
	models.DialogueAwaitingSupplier,
	models.DialogueAwaitingDeliveryDate,
	models.DialogueAwaitingDropLocation,
}

// GormTaskRepository is a GORM implementation of TaskRepository
type GormTaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &GormTaskRepository{db: db}
}

// Create creates a new task together with its creation audit record
func (r *GormTaskRepository) Create(ctx context.Context, task *models.Task, audit *models.AuditRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if task.Version == 0 {
			task.Version = 1
		}
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		if audit == nil {
			return nil
		}
		audit.RefType = models.RefTypeTask
		audit.RefID = task.ID
		return tx.Create(audit).Error
	})
}

// FindByID finds a task by ID
func (r *GormTaskRepository) FindByID(ctx context.Context, id uint64) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// Update writes every column of task guarded by the version column
func (r *GormTaskRepository) Update(ctx context.Context, task *models.Task, expectedVersion uint64, audit *models.AuditRecord) error {
	task.Version = expectedVersion + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(task).
			Where("version = ?", expectedVersion).
			Select("*").
			Omit("ID", "CreatedAt").
			Updates(task)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return gorm.ErrRecordNotFound
			}
			return ErrVersionConflict
		}
		if audit == nil {
			return nil
		}
		audit.RefType = models.RefTypeTask
		audit.RefID = task.ID
		return tx.Create(audit).Error
	})
	if err != nil {
		task.Version = expectedVersion
	}
	return err
}

// FindActiveDialogue finds the sender's order task waiting on a dialogue answer
func (r *GormTaskRepository) FindActiveDialogue(ctx context.Context, sender string) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).
		Where("sender = ? AND tag = ? AND dialogue_state IN ?", sender, models.TagOrder, activeDialogueStates).
		Scopes(database.ActiveTasks).
		Order("id DESC").
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// LatestOpenOrder finds the sender's most recent open order task
func (r *GormTaskRepository) LatestOpenOrder(ctx context.Context, sender string) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).
		Where("sender = ? AND tag = ?", sender, models.TagOrder).
		Scopes(database.ActiveTasks).
		Order("id DESC").
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// LatestForSender finds the sender's most recent task in one of statuses
func (r *GormTaskRepository) LatestForSender(ctx context.Context, sender string, statuses ...models.TaskStatus) (*models.Task, error) {
	var task models.Task
	query := r.db.WithContext(ctx).Where("sender = ?", sender)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Order("id DESC").First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// LatestPendingApproval finds the newest task awaiting approval in the given projects
func (r *GormTaskRepository) LatestPendingApproval(ctx context.Context, projectCodes []string) (*models.Task, error) {
	if len(projectCodes) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	var task models.Task
	err := r.db.WithContext(ctx).
		Where("status = ? AND project_code IN ?", models.TaskStatusPendingApproval, projectCodes).
		Order("id DESC").
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// List retrieves tasks with filtering and pagination, newest first
func (r *GormTaskRepository) List(ctx context.Context, filter TaskFilter) ([]models.Task, int64, error) {
	var tasks []models.Task

	query := r.db.WithContext(ctx).Model(&models.Task{})

	if filter.Tag != nil {
		if *filter.Tag == models.TagNone {
			query = query.Where("tasks.tag = ? OR tasks.tag = ''", models.TagNone)
		} else {
			query = query.Where("tasks.tag = ?", *filter.Tag)
		}
	}
	if filter.Status != nil {
		query = query.Where("tasks.status = ?", *filter.Status)
	}
	if filter.Sender != "" {
		query = query.Where("tasks.sender = ?", filter.Sender)
	}
	if filter.Query != "" {
		query = query.Scopes(database.SearchTasks(filter.Query))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	listQuery := query.Order("tasks.id DESC")
	if filter.Page > 0 && filter.PageSize > 0 {
		listQuery = listQuery.Scopes(database.Paginate(utils.PaginationParams{
			Page:   filter.Page,
			Limit:  filter.PageSize,
			Offset: (filter.Page - 1) * filter.PageSize,
		}))
	}

	if err := listQuery.Find(&tasks).Error; err != nil {
		return nil, 0, err
	}

	return tasks, total, nil
}

// ListActiveWithDueDate returns every open task that has a due date
func (r *GormTaskRepository) ListActiveWithDueDate(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Scopes(database.ActiveTasks).
		Where("due_date IS NOT NULL").
		Order("due_date ASC").
		Find(&tasks).Error
	return tasks, err
}

// ListActiveForScope returns open tasks matching any field of scope
func (r *GormTaskRepository) ListActiveForScope(ctx context.Context, scope TaskScope) ([]models.Task, error) {
	var parts []string
	var args []any
	if scope.SenderID != "" {
		parts = append(parts, "sender = ?")
		args = append(args, scope.SenderID)
	}
	if scope.SubcontractorName != "" {
		parts = append(parts, "subcontractor_name = ?")
		args = append(args, scope.SubcontractorName)
	}
	if len(scope.ProjectCodes) > 0 {
		parts = append(parts, "project_code IN ?")
		args = append(args, scope.ProjectCodes)
	}
	if len(parts) == 0 {
		return []models.Task{}, nil
	}

	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Scopes(database.ActiveTasks).
		Where("("+strings.Join(parts, " OR ")+")", args...).
		Order("CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date ASC, id ASC").
		Find(&tasks).Error
	return tasks, err
}

// ListBySubcontractor returns every task routed to a subcontractor
func (r *GormTaskRepository) ListBySubcontractor(ctx context.Context, name string) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).Where("subcontractor_name = ?", name).Find(&tasks).Error
	return tasks, err
}

// IsNotFound reports whether err means the row does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
