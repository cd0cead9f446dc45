package repository

import (
	"context"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"gorm.io/gorm"
)

// FileRepository submission artifacts
type FileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *FileRepository) WithTx(tx *gorm.DB) *FileRepository {
	return &FileRepository{db: tx}
}

func (r *FileRepository) Create(ctx context.Context, file *entity.FileRecord) error {
	return r.db.WithContext(ctx).Create(file).Error
}

func (r *FileRepository) FindByID(ctx context.Context, id string) (*entity.FileRecord, error) {
	var file entity.FileRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error; err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

// ActionLogRepository task transition audit
type ActionLogRepository struct {
	db *gorm.DB
}

func NewActionLogRepository(db *gorm.DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *ActionLogRepository) WithTx(tx *gorm.DB) *ActionLogRepository {
	return &ActionLogRepository{db: tx}
}

func (r *ActionLogRepository) Create(ctx context.Context, log *entity.TaskActionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListByTask newest first.
func (r *ActionLogRepository) ListByTask(ctx context.Context, taskID int64) ([]entity.TaskActionLog, error) {
	var logs []entity.TaskActionLog
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}

// MessageLogRepository websocket_messages audit table
type MessageLogRepository struct {
	db *gorm.DB
}

func NewMessageLogRepository(db *gorm.DB) *MessageLogRepository {
	return &MessageLogRepository{db: db}
}

func (r *MessageLogRepository) Create(ctx context.Context, msg *entity.WebsocketMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// ListByTask returns the latest audited broadcasts of a task, newest first.
func (r *MessageLogRepository) ListByTask(ctx context.Context, taskID int64, limit int) ([]entity.WebsocketMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []entity.WebsocketMessage
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}
