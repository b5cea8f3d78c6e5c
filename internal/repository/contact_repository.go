package repository

import (
	"context"

	"github.com/hubflo/hubflo/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormContactRepository is a GORM implementation of ContactRepository
type GormContactRepository struct {
	db *gorm.DB
}

// NewContactRepository creates a new ContactRepository
func NewContactRepository(db *gorm.DB) ContactRepository {
	return &GormContactRepository{db: db}
}

// FindBySenderID finds a contact by chat sender id
func (r *GormContactRepository) FindBySenderID(ctx context.Context, senderID string) (*models.Contact, error) {
	var contact models.Contact
	if err := r.db.WithContext(ctx).Where("sender_id = ?", senderID).First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// ListActive lists every active contact
func (r *GormContactRepository) ListActive(ctx context.Context) ([]models.Contact, error) {
	var contacts []models.Contact
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&contacts).Error
	return contacts, err
}

// Upsert creates or updates a contact keyed by sender id
func (r *GormContactRepository) Upsert(ctx context.Context, contact *models.Contact) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sender_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "role", "project_code", "subcontractor_name", "timezone", "active", "updated_at",
		}),
	}).Create(contact).Error
}

// ManagersForProject lists manager sender ids routed to a project
func (r *GormContactRepository) ManagersForProject(ctx context.Context, projectCode string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.ProjectManager{}).
		Where("project_code = ?", projectCode).
		Order("manager_sender_id ASC").
		Pluck("manager_sender_id", &ids).Error
	return ids, err
}

// ProjectsManagedBy lists the project codes a manager is routed to
func (r *GormContactRepository) ProjectsManagedBy(ctx context.Context, managerSenderID string) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).
		Model(&models.ProjectManager{}).
		Where("manager_sender_id = ?", managerSenderID).
		Order("project_code ASC").
		Pluck("project_code", &codes).Error
	return codes, err
}

// AddProjectManager routes a project to a manager; existing pairs are left alone
func (r *GormContactRepository) AddProjectManager(ctx context.Context, projectCode, managerSenderID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ProjectManager{ProjectCode: projectCode, ManagerSenderID: managerSenderID}).Error
}
