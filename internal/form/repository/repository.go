package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrUnknownFormType = errors.New("unknown form type")
)

// Repositories groups every repository of the form domain.
type Repositories struct {
	Task      *TaskRepository
	Response  *ResponseRepository
	Company   *CompanyRepository
	Field     *FieldRepository
	File      *FileRepository
	ActionLog *ActionLogRepository
	Message   *MessageLogRepository
}

// NewRepositories wires every repository to db.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Task:      NewTaskRepository(db),
		Response:  NewResponseRepository(db),
		Company:   NewCompanyRepository(db),
		Field:     NewFieldRepository(db),
		File:      NewFileRepository(db),
		ActionLog: NewActionLogRepository(db),
		Message:   NewMessageLogRepository(db),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
