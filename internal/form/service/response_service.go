package service

import (
	"context"
	"strings"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResponseInput one answer. Complete overrides the default rule that a
// non-blank value is COMPLETE.
type ResponseInput struct {
	Ref      entity.FieldRef
	Value    string
	Complete *bool
}

func (in ResponseInput) status() string {
	complete := strings.TrimSpace(in.Value) != ""
	if in.Complete != nil {
		complete = *in.Complete
	}
	if complete {
		return entity.ResponseStatusComplete
	}
	return entity.ResponseStatusEmpty
}

type SaveRequest struct {
	TaskID      int64
	FormType    string
	Responses   []ResponseInput
	UserID      string
	OperationID string
}

type SaveResult struct {
	Task       *entity.Task `json:"task"`
	Progress   Progress     `json:"progress"`
	Transition Transition   `json:"transition"`
	Saved      int          `json:"saved"`
}

// ResponseService the field save path: responses, then progress, then
// status, then task_update.
type ResponseService struct {
	*base
}

func (s *ResponseService) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	formType := entity.NormalizeFormType(req.FormType)
	if _, ok := entity.ResponseTable(formType); !ok {
		return nil, validationFault("save responses", ErrUnknownFormType, "%q", req.FormType)
	}
	if req.OperationID == "" {
		req.OperationID = uuid.New().String()
	}

	// resolve every reference before anything is written
	rows := make([]entity.FormResponse, 0, len(req.Responses))
	seen := make(map[string]int, len(req.Responses))
	now := time.Now()
	for _, in := range req.Responses {
		def, err := s.catalog.Resolve(ctx, formType, in.Ref)
		if err != nil {
			return nil, err
		}
		row := entity.FormResponse{
			TaskID:    req.TaskID,
			FieldKey:  entity.NormalizeFieldKey(def.FieldKey),
			FieldID:   def.ID,
			Value:     in.Value,
			Status:    in.status(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if i, dup := seen[row.FieldKey]; dup {
			rows[i] = row
			continue
		}
		seen[row.FieldKey] = len(rows)
		rows = append(rows, row)
	}

	unlock := s.lockTask(req.TaskID)
	defer unlock()

	var (
		task     *entity.Task
		progress Progress
		tr       Transition
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = s.loadTaskForUpdate(ctx, tx, req.TaskID, formType)
		if err != nil {
			return err
		}
		if entity.IsPostSubmission(task.Status) {
			return validationFault("save responses", ErrTaskLocked, "task %d is %s", task.ID, task.Status)
		}
		if err := s.repos.Response.WithTx(tx).Upsert(ctx, formType, rows); err != nil {
			return persistenceFault("upsert responses", err)
		}
		progress, err = s.progress.ComputeTx(ctx, tx, task.ID, formType)
		if err != nil {
			return err
		}
		tr, err = s.machine.ApplyProgress(task, progress.Progress, "response_save")
		if err != nil {
			return err
		}
		if err := s.repos.Task.WithTx(tx).UpdateState(ctx, task); err != nil {
			return persistenceFault("update task", err)
		}
		if tr.StatusChanged() {
			return s.logAction(ctx, tx, task.ID, tr, req.UserID, map[string]interface{}{
				"completed": progress.CompletedCount,
				"total":     progress.TotalCount,
			}, "")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ProgressUpdated()

	s.logger.Debug("responses saved",
		zap.Int64("task_id", task.ID),
		zap.Int("saved", len(rows)),
		zap.Int("progress", task.Progress),
		zap.String("status", task.Status))

	s.publishTask(ctx, task, req.OperationID)
	return &SaveResult{Task: task, Progress: progress, Transition: tr, Saved: len(rows)}, nil
}

// Recompute re-derives progress and status from stored responses without
// writing any answer. Locked tasks are left untouched.
func (s *ResponseService) Recompute(ctx context.Context, taskID int64, operatorID string) (*SaveResult, error) {
	unlock := s.lockTask(taskID)
	defer unlock()

	var (
		task     *entity.Task
		progress Progress
		tr       Transition
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = s.loadTaskForUpdate(ctx, tx, taskID, "")
		if err != nil {
			return err
		}
		progress, err = s.progress.ComputeTx(ctx, tx, task.ID, task.TaskType)
		if err != nil {
			return err
		}
		tr, err = s.machine.ApplyProgress(task, progress.Progress, "recompute")
		if err != nil {
			return err
		}
		if !tr.Changed() {
			return nil
		}
		if err := s.repos.Task.WithTx(tx).UpdateState(ctx, task); err != nil {
			return persistenceFault("update task", err)
		}
		if tr.StatusChanged() {
			return s.logAction(ctx, tx, task.ID, tr, operatorID, nil, "recompute")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tr.Changed() {
		s.metrics.ProgressUpdated()
		s.publishTask(ctx, task, "")
	}
	return &SaveResult{Task: task, Progress: progress, Transition: tr}, nil
}
