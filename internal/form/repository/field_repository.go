package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"gorm.io/gorm"
)

// FieldRepository form field definitions
type FieldRepository struct {
	db *gorm.DB
}

func NewFieldRepository(db *gorm.DB) *FieldRepository {
	return &FieldRepository{db: db}
}

// ActiveVersion returns the highest schema version of formType, 0 when the
// form has no definitions yet.
func (r *FieldRepository) ActiveVersion(ctx context.Context, formType string) (int, error) {
	var version int
	err := r.db.WithContext(ctx).
		Model(&entity.FieldDefinition{}).
		Select("COALESCE(MAX(version), 0)").
		Where("form_type = ?", formType).
		Scan(&version).Error
	return version, err
}

// ListVersion returns the definitions of one schema version in form order.
func (r *FieldRepository) ListVersion(ctx context.Context, formType string, version int) ([]entity.FieldDefinition, error) {
	var defs []entity.FieldDefinition
	err := r.db.WithContext(ctx).
		Where("form_type = ? AND version = ?", formType, version).
		Order("sort_order ASC, id ASC").
		Find(&defs).Error
	return defs, err
}

// CreateVersion stores defs as a new schema version of formType and returns
// the version number. Earlier versions are kept for audit.
func (r *FieldRepository) CreateVersion(ctx context.Context, formType string, defs []entity.FieldDefinition) (int, error) {
	var version int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int
		if err := tx.Model(&entity.FieldDefinition{}).
			Select("COALESCE(MAX(version), 0)").
			Where("form_type = ?", formType).
			Scan(&current).Error; err != nil {
			return err
		}
		version = current + 1
		now := time.Now()
		for i := range defs {
			defs[i].ID = 0
			defs[i].FormType = formType
			defs[i].Version = version
			defs[i].CreatedAt = now
			if defs[i].SortOrder == 0 {
				defs[i].SortOrder = i + 1
			}
		}
		if len(defs) == 0 {
			return nil
		}
		return tx.CreateInBatches(&defs, 200).Error
	})
	return version, err
}
