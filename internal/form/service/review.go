package service

import (
	"context"
	"strings"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ReviewRequest struct {
	TaskID     int64
	Decision   string
	Comment    string
	ReviewerID string
}

// ReviewService approves or rejects submitted tasks.
type ReviewService struct {
	*base
}

func (s *ReviewService) Review(ctx context.Context, req ReviewRequest) (*entity.Task, Transition, error) {
	decision := strings.ToLower(strings.TrimSpace(req.Decision))

	unlock := s.lockTask(req.TaskID)
	defer unlock()

	var (
		task *entity.Task
		tr   Transition
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = s.loadTaskForUpdate(ctx, tx, req.TaskID, "")
		if err != nil {
			return err
		}
		tr, err = s.machine.Review(task, decision, req.ReviewerID, req.Comment)
		if err != nil {
			return err
		}
		if err := s.repos.Task.WithTx(tx).UpdateState(ctx, task); err != nil {
			return persistenceFault("update task", err)
		}
		return s.logAction(ctx, tx, task.ID, tr, req.ReviewerID, map[string]interface{}{
			"decision": decision,
		}, req.Comment)
	})
	if err != nil {
		return nil, Transition{}, err
	}

	s.logger.Info("task reviewed",
		zap.Int64("task_id", task.ID),
		zap.String("decision", decision),
		zap.String("reviewer", req.ReviewerID))
	s.publishTask(ctx, task, "")
	return task, tr, nil
}
