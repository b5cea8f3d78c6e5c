package database

import (
	"strings"

	"gorm.io/gorm"

	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/utils"
)

// Paginate applies pagination to a GORM query
func Paginate(params utils.PaginationParams) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(params.Offset).Limit(params.Limit)
	}
}

// ActiveTasks restricts a task query to open work.
func ActiveTasks(db *gorm.DB) *gorm.DB {
	return db.Where("tasks.status IN ?", models.ActiveStatuses)
}

// SearchTasks applies a case-insensitive multi-term search; every term must match
// at least one of text, tag, sender, subcontractor or project.
func SearchTasks(q string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		for _, term := range strings.Fields(q) {
			like := "%" + strings.ToLower(term) + "%"
			db = db.Where(
				"LOWER(COALESCE(tasks.text, '')) LIKE ? OR LOWER(COALESCE(tasks.tag, '')) LIKE ? OR "+
					"LOWER(COALESCE(tasks.sender, '')) LIKE ? OR LOWER(COALESCE(tasks.subcontractor_name, '')) LIKE ? OR "+
					"LOWER(COALESCE(tasks.project_code, '')) LIKE ?",
				like, like, like, like, like,
			)
		}
		return db
	}
}
