package repository

import (
	"context"

	"github.com/hubflo/hubflo/internal/models"
	"gorm.io/gorm"
)

// GormAuditRepository is a GORM implementation of AuditRepository
type GormAuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &GormAuditRepository{db: db}
}

// Append writes one audit record
func (r *GormAuditRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// ListByRef lists the audit trail of one entity, oldest first
func (r *GormAuditRepository) ListByRef(ctx context.Context, refType string, refID uint64) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	err := r.db.WithContext(ctx).
		Where("ref_type = ? AND ref_id = ?", refType, refID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}
