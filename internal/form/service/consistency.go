package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Issue kinds
const (
	IssueStatusSubmission = "status_submission_mismatch"
	IssueProgressDrift    = "progress_drift"
	IssueLegacyProgress   = "legacy_progress_value"
	IssueUnknownStatus    = "unknown_status"
)

// Issue one inconsistency found on a task.
type Issue struct {
	TaskID   int64  `json:"taskId"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
	Stored   string `json:"stored,omitempty"`
	Computed string `json:"computed,omitempty"`
}

// Err the issue as a consistency fault.
func (i Issue) Err() error {
	return &Fault{Kind: ErrConsistency, Op: fmt.Sprintf("task %d", i.TaskID), Err: fmt.Errorf("%s: %s", i.Kind, i.Detail)}
}

type Report struct {
	Checked int     `json:"checked"`
	Issues  []Issue `json:"issues"`
}

// Err joins every issue, nil when the report is clean.
func (r *Report) Err() error {
	if len(r.Issues) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Issues))
	for _, i := range r.Issues {
		errs = append(errs, i.Err())
	}
	return errors.Join(errs...)
}

// TaskIDs distinct ids of tasks with issues, in report order.
func (r *Report) TaskIDs() []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, i := range r.Issues {
		if !seen[i.TaskID] {
			seen[i.TaskID] = true
			ids = append(ids, i.TaskID)
		}
	}
	return ids
}

// ConsistencyService detects and repairs tasks whose status, progress and
// submission record disagree. Writes made before progress had a single home
// are the usual source.
type ConsistencyService struct {
	*base
}

const scanBatch = 200

// Check inspects the tasks matching filter, or every task when filter is
// empty. It never writes.
func (s *ConsistencyService) Check(ctx context.Context, filter repository.TaskFilter) (*Report, error) {
	report := &Report{}
	inspect := func(tasks []entity.Task) error {
		for i := range tasks {
			issues, err := s.inspect(ctx, &tasks[i])
			if err != nil {
				return err
			}
			report.Checked++
			report.Issues = append(report.Issues, issues...)
		}
		return nil
	}

	var err error
	if len(filter.IDs) == 0 && filter.CompanyID == 0 && filter.TaskType == "" && filter.Status == "" {
		err = s.repos.Task.Scan(ctx, scanBatch, inspect)
	} else {
		var tasks []entity.Task
		if tasks, err = s.repos.Task.List(ctx, filter); err == nil {
			err = inspect(tasks)
		}
	}
	if err != nil {
		return nil, persistenceFault("consistency check", err)
	}
	if len(report.Issues) > 0 {
		s.logger.Warn("inconsistent tasks found",
			zap.Int("checked", report.Checked),
			zap.Int("issues", len(report.Issues)))
	}
	return report, nil
}

func (s *ConsistencyService) inspect(ctx context.Context, task *entity.Task) ([]Issue, error) {
	var issues []Issue
	add := func(kind, stored, computed, format string, args ...interface{}) {
		issues = append(issues, Issue{
			TaskID:   task.ID,
			Kind:     kind,
			Detail:   fmt.Sprintf(format, args...),
			Stored:   stored,
			Computed: computed,
		})
	}

	if !entity.IsKnownStatus(task.Status) {
		add(IssueUnknownStatus, task.Status, "", "status %q is not a task state", task.Status)
	}
	if task.Metadata.Has(entity.MetaLegacyProgressValue) {
		add(IssueLegacyProgress, fmt.Sprint(task.Metadata[entity.MetaLegacyProgressValue]), fmt.Sprint(task.Progress),
			"metadata still carries a progress copy")
	}

	rec, hasRecord := entity.SubmissionRecordFrom(task.Metadata)
	switch {
	case entity.IsPostSubmission(task.Status) && (!hasRecord || rec.FileID == ""):
		add(IssueStatusSubmission, task.Status, "", "status %s without a submission record", task.Status)
	case !entity.IsPostSubmission(task.Status) && hasRecord:
		add(IssueStatusSubmission, task.Status, entity.TaskStatusSubmitted, "submission record on a %s task", task.Status)
	}

	if _, ok := entity.ResponseTable(task.TaskType); !ok {
		return issues, nil
	}
	if entity.IsPostSubmission(task.Status) {
		if task.Progress != 100 {
			add(IssueProgressDrift, fmt.Sprint(task.Progress), "100", "submitted task below 100%%")
		}
		return issues, nil
	}
	p, err := s.progress.Compute(ctx, task.ID, task.TaskType)
	if err != nil {
		return nil, err
	}
	if p.Progress != task.Progress {
		add(IssueProgressDrift, fmt.Sprint(task.Progress), fmt.Sprint(p.Progress),
			"%d of %d fields complete", p.CompletedCount, p.TotalCount)
	} else if want := Derive(task.Progress, false); entity.IsKnownStatus(task.Status) && task.Status != want {
		add(IssueStatusSubmission, task.Status, want, "status does not match progress %d", task.Progress)
	}
	return issues, nil
}

// Repair rewrites one task from its responses and submission record.
func (s *ConsistencyService) Repair(ctx context.Context, taskID int64, operatorID string) (*entity.Task, Transition, error) {
	unlock := s.lockTask(taskID)
	defer unlock()

	var (
		task *entity.Task
		tr   Transition
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = s.loadTaskForUpdate(ctx, tx, taskID, "")
		if err != nil {
			return err
		}
		computed := task.Progress
		if _, ok := entity.ResponseTable(task.TaskType); ok {
			p, err := s.progress.ComputeTx(ctx, tx, task.ID, task.TaskType)
			if err != nil {
				return err
			}
			computed = p.Progress
		}
		tr = s.machine.Repair(task, computed)
		if err := s.repos.Task.WithTx(tx).UpdateState(ctx, task); err != nil {
			return persistenceFault("update task", err)
		}
		return s.logAction(ctx, tx, task.ID, tr, operatorID, nil, "consistency repair")
	})
	if err != nil {
		return nil, Transition{}, err
	}

	s.logger.Info("task repaired",
		zap.Int64("task_id", task.ID),
		zap.String("from_status", tr.FromStatus),
		zap.String("to_status", tr.ToStatus),
		zap.Int("from_progress", tr.FromProgress),
		zap.Int("to_progress", tr.ToProgress))
	s.publishTask(ctx, task, "")
	return task, tr, nil
}

// RepairAll repairs every task the report names and returns how many were
// rewritten. It stops at the first failure.
func (s *ConsistencyService) RepairAll(ctx context.Context, report *Report, operatorID string) (int, error) {
	n := 0
	for _, id := range report.TaskIDs() {
		if _, _, err := s.Repair(ctx, id, operatorID); err != nil {
			return n, fmt.Errorf("repair task %d: %w", id, err)
		}
		n++
	}
	return n, nil
}
