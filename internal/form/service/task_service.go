package service

import (
	"context"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
)

// TaskService read side used by clients to reconcile after a missed
// broadcast.
type TaskService struct {
	*base
	tabs map[string][]string
}

func (s *TaskService) Get(ctx context.Context, taskID int64) (*entity.Task, error) {
	task, err := s.repos.Task.FindByID(ctx, taskID)
	if err != nil {
		return nil, persistenceFault("get task", err)
	}
	return task, nil
}

// Progress computes live progress without touching the stored value.
func (s *TaskService) Progress(ctx context.Context, taskID int64) (*entity.Task, Progress, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, Progress{}, err
	}
	p, err := s.progress.Compute(ctx, task.ID, task.TaskType)
	if err != nil {
		return nil, Progress{}, err
	}
	return task, p, nil
}

func (s *TaskService) List(ctx context.Context, filter repository.TaskFilter) ([]entity.Task, error) {
	tasks, err := s.repos.Task.List(ctx, filter)
	if err != nil {
		return nil, persistenceFault("list tasks", err)
	}
	return tasks, nil
}

// Responses the stored answers of a task.
func (s *TaskService) Responses(ctx context.Context, taskID int64) ([]entity.FormResponse, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repos.Response.ListByTask(ctx, task.TaskType, task.ID)
	if err != nil {
		return nil, persistenceFault("list responses", err)
	}
	return rows, nil
}

// History transition log of a task, newest first.
func (s *TaskService) History(ctx context.Context, taskID int64) ([]entity.TaskActionLog, error) {
	logs, err := s.repos.ActionLog.ListByTask(ctx, taskID)
	if err != nil {
		return nil, persistenceFault("list action logs", err)
	}
	return logs, nil
}

// Company returns a company with its unlocked tabs.
func (s *TaskService) Company(ctx context.Context, companyID int64) (*entity.Company, error) {
	c, err := s.repos.Company.FindByID(ctx, companyID)
	if err != nil {
		return nil, persistenceFault("get company", err)
	}
	return c, nil
}

// TabsFor tabs a submission of formType unlocks.
func (s *TaskService) TabsFor(formType string) []string {
	return tabsFor(s.tabs, formType)
}
