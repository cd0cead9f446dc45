package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskRepository tasks table
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a task repository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *TaskRepository) WithTx(tx *gorm.DB) *TaskRepository {
	return &TaskRepository{db: tx}
}

// FindByID returns ErrNotFound when the task does not exist.
func (r *TaskRepository) FindByID(ctx context.Context, id int64) (*entity.Task, error) {
	var task entity.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// FindForUpdate loads the task holding a row lock until the surrounding
// transaction ends. Two field saves racing on the same task serialize here.
func (r *TaskRepository) FindForUpdate(ctx context.Context, id int64) (*entity.Task, error) {
	var task entity.Task
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&task).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// Create inserts task and fills its ID.
func (r *TaskRepository) Create(ctx context.Context, task *entity.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// UpdateState writes progress, status and metadata in one statement.
func (r *TaskRepository) UpdateState(ctx context.Context, task *entity.Task) error {
	task.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).
		Model(&entity.Task{}).
		Where("id = ?", task.ID).
		Updates(map[string]interface{}{
			"progress":   task.Progress,
			"status":     task.Status,
			"metadata":   task.Metadata,
			"updated_at": task.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskFilter list filters
type TaskFilter struct {
	IDs       []int64
	CompanyID int64
	TaskType  string
	Status    string
}

// List returns tasks ordered by id.
func (r *TaskRepository) List(ctx context.Context, filter TaskFilter) ([]entity.Task, error) {
	var tasks []entity.Task
	query := r.db.WithContext(ctx).Model(&entity.Task{})
	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if filter.CompanyID != 0 {
		query = query.Where("company_id = ?", filter.CompanyID)
	}
	if filter.TaskType != "" {
		query = query.Where("task_type = ?", filter.TaskType)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	err := query.Order("id ASC").Find(&tasks).Error
	return tasks, err
}

// Scan walks every task in batches, stopping at the first error fn returns.
func (r *TaskRepository) Scan(ctx context.Context, batchSize int, fn func([]entity.Task) error) error {
	var batch []entity.Task
	return r.db.WithContext(ctx).
		Model(&entity.Task{}).
		Order("id ASC").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
}
