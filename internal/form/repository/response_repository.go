package repository

import (
	"context"
	"fmt"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResponseRepository reads and writes the per-form-type response tables.
type ResponseRepository struct {
	db *gorm.DB
}

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *ResponseRepository) WithTx(tx *gorm.DB) *ResponseRepository {
	return &ResponseRepository{db: tx}
}

func (r *ResponseRepository) table(ctx context.Context, formType string) (*gorm.DB, error) {
	name, ok := entity.ResponseTable(formType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormType, formType)
	}
	return r.db.WithContext(ctx).Table(name), nil
}

// CountComplete counts COMPLETE responses of a task among keys. Answers to
// fields outside keys, left over from an older schema, are not counted.
func (r *ResponseRepository) CountComplete(ctx context.Context, formType string, taskID int64, keys []string) (int64, error) {
	q, err := r.table(ctx, formType)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	var n int64
	err = q.Where("task_id = ? AND status = ? AND field_key IN ?", taskID, entity.ResponseStatusComplete, keys).
		Count(&n).Error
	return n, err
}

// ListByTask returns every response of a task ordered by field id.
func (r *ResponseRepository) ListByTask(ctx context.Context, formType string, taskID int64) ([]entity.FormResponse, error) {
	q, err := r.table(ctx, formType)
	if err != nil {
		return nil, err
	}
	var rows []entity.FormResponse
	err = q.Where("task_id = ?", taskID).Order("field_id ASC, field_key ASC").Find(&rows).Error
	return rows, err
}

// Upsert inserts responses or overwrites value/status on (task_id, field_key).
func (r *ResponseRepository) Upsert(ctx context.Context, formType string, rows []entity.FormResponse) error {
	if len(rows) == 0 {
		return nil
	}
	q, err := r.table(ctx, formType)
	if err != nil {
		return err
	}
	return q.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}, {Name: "field_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"field_id", "value", "status", "updated_at"}),
	}).Create(&rows).Error
}

// DeleteByTask removes every response of a task and returns how many rows went.
func (r *ResponseRepository) DeleteByTask(ctx context.Context, formType string, taskID int64) (int64, error) {
	q, err := r.table(ctx, formType)
	if err != nil {
		return 0, err
	}
	res := q.Where("task_id = ?", taskID).Delete(&entity.FormResponse{})
	return res.RowsAffected, res.Error
}
