package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CompanyRepository companies table
type CompanyRepository struct {
	db *gorm.DB
}

func NewCompanyRepository(db *gorm.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *CompanyRepository) WithTx(tx *gorm.DB) *CompanyRepository {
	return &CompanyRepository{db: tx}
}

func (r *CompanyRepository) FindByID(ctx context.Context, id int64) (*entity.Company, error) {
	var company entity.Company
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&company).Error; err != nil {
		return nil, notFound(err)
	}
	return &company, nil
}

// FindForUpdate loads the company under a row lock.
func (r *CompanyRepository) FindForUpdate(ctx context.Context, id int64) (*entity.Company, error) {
	var company entity.Company
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&company).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &company, nil
}

func (r *CompanyRepository) Create(ctx context.Context, company *entity.Company) error {
	return r.db.WithContext(ctx).Create(company).Error
}

// UpdateTabs persists AvailableTabs.
func (r *CompanyRepository) UpdateTabs(ctx context.Context, company *entity.Company) error {
	company.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).
		Model(&entity.Company{}).
		Where("id = ?", company.ID).
		Updates(map[string]interface{}{
			"available_tabs": company.AvailableTabs,
			"updated_at":     company.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
