package repository

import (
	"context"

	"github.com/hubflo/hubflo/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedgerRepository is a GORM implementation of LedgerRepository
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &GormLedgerRepository{db: db}
}

// MarkDigestSent inserts the ledger row once per recipient and day
func (r *GormLedgerRepository) MarkDigestSent(ctx context.Context, entry *models.DigestLedger) (bool, error) {
	return r.insertOnce(ctx, entry)
}

// MarkEscalationSent inserts the notice row once per task, bucket and due date
func (r *GormLedgerRepository) MarkEscalationSent(ctx context.Context, notice *models.EscalationNotice) (bool, error) {
	return r.insertOnce(ctx, notice)
}

func (r *GormLedgerRepository) insertOnce(ctx context.Context, row any) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
