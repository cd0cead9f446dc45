package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/guard"
	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ClearRequest struct {
	TaskID           int64
	TaskType         string
	PreserveProgress bool
	// OperationID is echoed in the clear_fields broadcast so the issuing
	// client can ignore it; generated when empty.
	OperationID string
	// ClientID connection id of the caller, excluded from the broadcast.
	ClientID string
	UserID   string
}

type ClearResult struct {
	TaskID           int64        `json:"taskId"`
	FormType         string       `json:"formType"`
	PreserveProgress bool         `json:"preserveProgress"`
	OperationID      string       `json:"operationId"`
	Deleted          int64        `json:"deleted"`
	Task             *entity.Task `json:"task"`
	Transition       Transition   `json:"transition"`
}

// ClearFieldsService deletes every response of a task, optionally resetting
// it to NOT_STARTED. Identical requests inside the cooldown are rejected.
type ClearFieldsService struct {
	*base
	guard    guard.OperationGuard
	cooldown time.Duration
}

func clearKey(formType string, taskID int64) string {
	return fmt.Sprintf("clear:%s:%d", formType, taskID)
}

func (s *ClearFieldsService) Clear(ctx context.Context, req ClearRequest) (*ClearResult, error) {
	formType := entity.NormalizeFormType(req.TaskType)
	if _, ok := entity.ResponseTable(formType); !ok {
		s.metrics.Clear("rejected")
		return nil, validationFault("clear fields", ErrUnknownFormType, "%q", req.TaskType)
	}
	if req.OperationID == "" {
		req.OperationID = uuid.New().String()
	}
	log := s.logger.With(
		zap.Int64("task_id", req.TaskID),
		zap.String("form_type", formType),
		zap.String("operation_id", req.OperationID),
		zap.Bool("preserve_progress", req.PreserveProgress))

	key := clearKey(formType, req.TaskID)
	claimed, err := s.guard.Claim(ctx, key, s.cooldown)
	if err != nil {
		log.Warn("clear cooldown store unavailable, continuing without it", zap.Error(err))
		claimed = true
	}
	if !claimed {
		s.metrics.Clear("duplicate")
		log.Info("clear fields suppressed inside cooldown")
		return nil, fmt.Errorf("clear task %d (%s): %w", req.TaskID, formType, ErrDuplicateOperation)
	}

	unlock := s.lockTask(req.TaskID)
	defer unlock()

	result := &ClearResult{
		TaskID:           req.TaskID,
		FormType:         formType,
		PreserveProgress: req.PreserveProgress,
		OperationID:      req.OperationID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := s.loadTaskForUpdate(ctx, tx, req.TaskID, formType)
		if err != nil {
			return err
		}
		if entity.IsPostSubmission(task.Status) {
			return validationFault("clear fields", ErrTaskLocked, "task %d is %s", task.ID, task.Status)
		}
		result.Deleted, err = s.repos.Response.WithTx(tx).DeleteByTask(ctx, formType, task.ID)
		if err != nil {
			return persistenceFault("delete responses", err)
		}
		result.Task = task
		if req.PreserveProgress {
			return nil
		}

		result.Transition, err = s.machine.Reset(task, "clear_fields")
		if err != nil {
			return err
		}
		if err := s.repos.Task.WithTx(tx).UpdateState(ctx, task); err != nil {
			return persistenceFault("update task", err)
		}
		return s.logAction(ctx, tx, task.ID, result.Transition, req.UserID, map[string]interface{}{
			"deleted":     result.Deleted,
			"operationId": req.OperationID,
		}, "")
	})
	if err != nil {
		// a failed clear must not block the retry
		if rerr := s.guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
			log.Warn("release clear cooldown failed", zap.Error(rerr))
		}
		s.metrics.Clear("rejected")
		return nil, err
	}
	s.metrics.Clear("cleared")
	log.Info("fields cleared", zap.Int64("deleted", result.Deleted))

	meta := map[string]interface{}{
		"deleted":   result.Deleted,
		"clearedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if req.UserID != "" {
		meta["clearedBy"] = req.UserID
	}
	s.broadcast(ctx, realtime.TypeClearFields, realtime.ClearFieldsPayload{
		TaskID:           req.TaskID,
		FormType:         formType,
		PreserveProgress: req.PreserveProgress,
		OperationID:      req.OperationID,
		Metadata:         meta,
	}, realtime.Target{TaskID: req.TaskID, OperationID: req.OperationID, Exclude: req.ClientID})

	if !req.PreserveProgress {
		s.publishTask(ctx, result.Task, req.OperationID)
	}
	return result, nil
}
