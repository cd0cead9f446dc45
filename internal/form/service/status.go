package service

import (
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
)

// Derive maps progress to a status. Out-of-range progress is clamped.
func Derive(progress int, submitted bool) string {
	progress = clampProgress(progress)
	switch {
	case progress == 0:
		return entity.TaskStatusNotStarted
	case progress < 100:
		return entity.TaskStatusInProgress
	case submitted:
		return entity.TaskStatusSubmitted
	default:
		return entity.TaskStatusReadyForSubmission
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Transition the result of applying a state machine rule to a task.
type Transition struct {
	Action       string `json:"action"`
	FromStatus   string `json:"fromStatus"`
	ToStatus     string `json:"toStatus"`
	FromProgress int    `json:"fromProgress"`
	ToProgress   int    `json:"toProgress"`
}

// Changed reports whether status or progress moved.
func (t Transition) Changed() bool {
	return t.FromStatus != t.ToStatus || t.FromProgress != t.ToProgress
}

// StatusChanged reports whether status moved.
func (t Transition) StatusChanged() bool {
	return t.FromStatus != t.ToStatus
}

// Review decisions
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// StatusMachine is the only writer of Task.Status and of the submission
// record in Task.Metadata. Methods mutate the task in memory; callers persist
// it inside their transaction.
type StatusMachine struct {
	now func() time.Time
}

func NewStatusMachine() *StatusMachine {
	return &StatusMachine{now: time.Now}
}

func (m *StatusMachine) begin(task *entity.Task, action string) Transition {
	if task.Metadata == nil {
		task.Metadata = entity.JSONB{}
	} else {
		task.Metadata = task.Metadata.Clone()
	}
	// progress has a single home; the metadata copy is never written back
	delete(task.Metadata, entity.MetaLegacyProgressValue)
	return Transition{Action: action, FromStatus: task.Status, FromProgress: task.Progress}
}

func (m *StatusMachine) finish(task *entity.Task, t Transition) Transition {
	t.ToStatus = task.Status
	t.ToProgress = task.Progress
	return t
}

// ApplyProgress records a recomputed progress and derives the status from it.
// Tasks past submission are locked.
func (m *StatusMachine) ApplyProgress(task *entity.Task, progress int, source string) (Transition, error) {
	if entity.IsPostSubmission(task.Status) {
		return Transition{}, validationFault("apply progress", ErrTaskLocked, "task %d is %s", task.ID, task.Status)
	}
	t := m.begin(task, entity.TaskActionProgress)
	progress = clampProgress(progress)
	task.Progress = progress
	task.Status = Derive(progress, false)
	task.Metadata[entity.MetaLastProgressUpdate] = m.now().UTC().Format(time.RFC3339Nano)
	if source != "" {
		task.Metadata[entity.MetaProgressSource] = source
	}
	return m.finish(task, t), nil
}

// CheckSubmittable validates a submission before any side effect runs.
// Progress may round to 100 with a field still open, so the counts decide.
func (m *StatusMachine) CheckSubmittable(task *entity.Task, computed Progress) error {
	if err := m.checkReady(task, computed.Progress); err != nil {
		return err
	}
	if !computed.Complete() {
		return validationFault("submit", ErrProgressIncomplete, "task %d has %d of %d fields complete",
			task.ID, computed.CompletedCount, computed.TotalCount)
	}
	return nil
}

func (m *StatusMachine) checkReady(task *entity.Task, computed int) error {
	if entity.IsPostSubmission(task.Status) {
		return validationFault("submit", ErrTaskLocked, "task %d is already %s", task.ID, task.Status)
	}
	if computed < 100 || task.Progress < 100 {
		return validationFault("submit", ErrProgressIncomplete, "task %d is at %d%%", task.ID, computed)
	}
	if task.Status != entity.TaskStatusReadyForSubmission {
		return validationFault("submit", ErrInvalidTransition, "task %d is %s, want %s",
			task.ID, task.Status, entity.TaskStatusReadyForSubmission)
	}
	return nil
}

// MarkSubmitted moves a ready task to SUBMITTED and writes the submission
// record in the same step.
func (m *StatusMachine) MarkSubmitted(task *entity.Task, rec entity.SubmissionRecord) (Transition, error) {
	if err := m.checkReady(task, task.Progress); err != nil {
		return Transition{}, err
	}
	t := m.begin(task, entity.TaskActionSubmit)
	if rec.SubmissionDate.IsZero() {
		rec.SubmissionDate = m.now()
	}
	task.Status = Derive(100, true)
	task.Progress = 100
	rec.Apply(task.Metadata)
	return m.finish(task, t), nil
}

// Review applies a reviewer decision to a submitted task. The submission
// record is kept.
func (m *StatusMachine) Review(task *entity.Task, decision, reviewer, comment string) (Transition, error) {
	var to, action string
	switch decision {
	case DecisionApprove:
		to, action = entity.TaskStatusApproved, entity.TaskActionApprove
	case DecisionReject:
		to, action = entity.TaskStatusRejected, entity.TaskActionReject
	default:
		return Transition{}, validationFault("review", ErrInvalidDecision, "%q", decision)
	}
	if task.Status != entity.TaskStatusSubmitted {
		return Transition{}, validationFault("review", ErrInvalidTransition, "task %d is %s, want %s",
			task.ID, task.Status, entity.TaskStatusSubmitted)
	}
	if _, ok := entity.SubmissionRecordFrom(task.Metadata); !ok {
		return Transition{}, validationFault("review", ErrInvalidTransition, "task %d has no submission record", task.ID)
	}
	t := m.begin(task, action)
	task.Status = to
	task.Metadata[entity.MetaReviewedAt] = m.now().UTC().Format(time.RFC3339Nano)
	task.Metadata[entity.MetaReviewedBy] = reviewer
	if comment != "" {
		task.Metadata[entity.MetaReviewComment] = comment
	} else {
		delete(task.Metadata, entity.MetaReviewComment)
	}
	return m.finish(task, t), nil
}

// Reset is the clear-fields path back to NOT_STARTED.
func (m *StatusMachine) Reset(task *entity.Task, source string) (Transition, error) {
	if entity.IsPostSubmission(task.Status) {
		return Transition{}, validationFault("clear fields", ErrTaskLocked, "task %d is %s", task.ID, task.Status)
	}
	t := m.begin(task, entity.TaskActionClear)
	task.Progress = 0
	task.Status = Derive(0, false)
	now := m.now().UTC().Format(time.RFC3339Nano)
	task.Metadata[entity.MetaClearedAt] = now
	task.Metadata[entity.MetaLastProgressUpdate] = now
	if source != "" {
		task.Metadata[entity.MetaProgressSource] = source
	}
	return m.finish(task, t), nil
}

// Repair brings a task back in line with its responses and submission
// record. It is a maintenance operation and never runs on the request path.
//
// A submission record with a file id proves a submission happened, so the
// task returns to SUBMITTED. A post-submission status without a record, or a
// record without a file, is treated as never submitted and re-derived from
// computed progress.
func (m *StatusMachine) Repair(task *entity.Task, computed int) Transition {
	t := m.begin(task, entity.TaskActionRepair)
	rec, hasRecord := entity.SubmissionRecordFrom(task.Metadata)
	validRecord := hasRecord && rec.FileID != ""

	switch {
	case validRecord && entity.IsPostSubmission(task.Status):
		// consistent; only the legacy metadata copy is dropped
	case validRecord:
		task.Status = Derive(100, true)
		task.Progress = 100
	default:
		for _, k := range []string{entity.MetaSubmissionDate, entity.MetaTransactionID, entity.MetaFileID, entity.MetaUnlockedTabs} {
			delete(task.Metadata, k)
		}
		task.Progress = clampProgress(computed)
		task.Status = Derive(task.Progress, false)
	}
	task.Metadata[entity.MetaRepairedAt] = m.now().UTC().Format(time.RFC3339Nano)
	return m.finish(task, t)
}
