package entity

import (
	"time"
)

// Task one assessment form instance assigned to a company
type Task struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title      string    `json:"title" gorm:"size:256;not null"`
	TaskType   string    `json:"task_type" gorm:"size:32;not null;index"`
	Status     string    `json:"status" gorm:"size:32;not null;default:not_started"`
	Progress   int       `json:"progress" gorm:"not null;default:0"`
	CompanyID  int64     `json:"company_id" gorm:"not null;index"`
	AssigneeID *string   `json:"assignee_id" gorm:"size:32"`
	Metadata   JSONB     `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

// Task status
const (
	TaskStatusNotStarted         = "not_started"
	TaskStatusInProgress         = "in_progress"
	TaskStatusReadyForSubmission = "ready_for_submission"
	TaskStatusSubmitted          = "submitted"
	TaskStatusApproved           = "approved"
	TaskStatusRejected           = "rejected"
)

// IsPostSubmission reports whether status can only be reached through a
// completed submission.
func IsPostSubmission(status string) bool {
	switch status {
	case TaskStatusSubmitted, TaskStatusApproved, TaskStatusRejected:
		return true
	}
	return false
}

// IsKnownStatus reports whether status is one of the task states.
func IsKnownStatus(status string) bool {
	switch status {
	case TaskStatusNotStarted, TaskStatusInProgress, TaskStatusReadyForSubmission,
		TaskStatusSubmitted, TaskStatusApproved, TaskStatusRejected:
		return true
	}
	return false
}

// Task metadata keys. Metadata is an audit trail only; progress lives in
// Task.Progress and nowhere else.
const (
	MetaSubmissionDate     = "submissionDate"
	MetaTransactionID      = "transactionId"
	MetaFileID             = "fileId"
	MetaUnlockedTabs       = "unlockedTabs"
	MetaLastProgressUpdate = "lastProgressUpdate"
	MetaProgressSource     = "progressSource"
	MetaClearedAt          = "clearedAt"
	MetaReviewedAt         = "reviewedAt"
	MetaReviewedBy         = "reviewedBy"
	MetaReviewComment      = "reviewComment"
	MetaRepairedAt         = "repairedAt"

	// MetaLegacyProgressValue is the retired duplicate copy of progress. It is
	// only read by the consistency checker and stripped by repair.
	MetaLegacyProgressValue = "progressValue"
)

// SubmissionRecord submission audit embedded in Task.Metadata
type SubmissionRecord struct {
	SubmissionDate time.Time `json:"submissionDate"`
	TransactionID  string    `json:"transactionId"`
	FileID         string    `json:"fileId"`
	UnlockedTabs   []string  `json:"unlockedTabs"`
}

// Apply writes the record into meta.
func (r SubmissionRecord) Apply(meta JSONB) {
	meta[MetaSubmissionDate] = r.SubmissionDate.UTC().Format(time.RFC3339Nano)
	meta[MetaTransactionID] = r.TransactionID
	meta[MetaFileID] = r.FileID
	tabs := make([]interface{}, 0, len(r.UnlockedTabs))
	for _, t := range r.UnlockedTabs {
		tabs = append(tabs, t)
	}
	meta[MetaUnlockedTabs] = tabs
}

// SubmissionRecordFrom reads the submission record out of meta. ok is false
// when no submissionDate is present.
func SubmissionRecordFrom(meta JSONB) (rec SubmissionRecord, ok bool) {
	if !meta.Has(MetaSubmissionDate) {
		return rec, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta.String(MetaSubmissionDate)); err == nil {
		rec.SubmissionDate = ts
	}
	rec.TransactionID = meta.String(MetaTransactionID)
	rec.FileID = meta.String(MetaFileID)
	rec.UnlockedTabs = meta.Strings(MetaUnlockedTabs)
	return rec, true
}

// TaskActionLog audit row for every status transition
type TaskActionLog struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	TaskID       int64     `json:"task_id" gorm:"not null;index"`
	Action       string    `json:"action" gorm:"size:50;not null"`
	FromStatus   string    `json:"from_status" gorm:"size:32"`
	ToStatus     string    `json:"to_status" gorm:"size:32;not null"`
	OperatorID   string    `json:"operator_id" gorm:"size:64;not null"`
	OperatorType string    `json:"operator_type" gorm:"size:20;default:user"`
	EventData    JSONB     `json:"event_data" gorm:"type:jsonb"`
	Comment      string    `json:"comment" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
}

func (TaskActionLog) TableName() string {
	return "task_action_logs"
}

// Task actions
const (
	TaskActionProgress = "progress"
	TaskActionClear    = "clear_fields"
	TaskActionSubmit   = "submit"
	TaskActionApprove  = "approve"
	TaskActionReject   = "reject"
	TaskActionRepair   = "repair"
)
