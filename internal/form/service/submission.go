package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/guard"
	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/form/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SubmitRequest struct {
	TaskID int64
	// FormType is optional; when set it must match the task.
	FormType string
	UserID   string
	ClientID string
}

type SubmissionResult struct {
	TaskID         int64        `json:"taskId"`
	FormType       string       `json:"formType"`
	Status         string       `json:"status"`
	CompanyID      int64        `json:"companyId"`
	FileID         string       `json:"fileId"`
	FileName       string       `json:"fileName"`
	UnlockedTabs   []string     `json:"unlockedTabs"`
	AvailableTabs  []string     `json:"availableTabs"`
	TransactionID  string       `json:"transactionId"`
	SubmissionDate time.Time    `json:"submissionDate"`
	Task           *entity.Task `json:"task"`
}

// SubmissionOrchestrator runs a submission in a fixed order inside one
// transaction: artifact, tab unlock, status. Clients hear about it only
// after the commit.
type SubmissionOrchestrator struct {
	*base
	store         storage.ObjectStore
	generator     ArtifactGenerator
	artifactRetry RetryPolicy
	unlockRetry   RetryPolicy
	tabs          map[string][]string
	inFlight      *guard.InFlight
	now           func() time.Time
}

func newSubmissionOrchestrator(b *base, store storage.ObjectStore, gen ArtifactGenerator, opts Options) *SubmissionOrchestrator {
	return &SubmissionOrchestrator{
		base:          b,
		store:         store,
		generator:     gen,
		artifactRetry: opts.ArtifactRetry,
		unlockRetry:   opts.UnlockRetry,
		tabs:          opts.Tabs,
		inFlight:      guard.NewInFlight(),
		now:           time.Now,
	}
}

// WithGenerator replaces the artifact generator.
func (o *SubmissionOrchestrator) WithGenerator(gen ArtifactGenerator) *SubmissionOrchestrator {
	o.generator = gen
	return o
}

func (o *SubmissionOrchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmissionResult, error) {
	key := fmt.Sprintf("submit:%d", req.TaskID)
	if !o.inFlight.Acquire(key) {
		return nil, fmt.Errorf("submit task %d: %w", req.TaskID, ErrSubmissionInProgress)
	}
	defer o.inFlight.Release(key)

	unlock := o.lockTask(req.TaskID)
	defer unlock()

	started := o.now()
	log := o.logger.With(zap.Int64("task_id", req.TaskID), zap.String("user_id", req.UserID))

	// 1. validate before any side effect
	task, err := o.repos.Task.FindByID(ctx, req.TaskID)
	if err != nil {
		return nil, persistenceFault("load task", err)
	}
	if err := checkTaskType(task, req.FormType); err != nil {
		return nil, err
	}
	formType := entity.NormalizeFormType(task.TaskType)
	computed, err := o.progress.Compute(ctx, task.ID, formType)
	if err != nil {
		return nil, err
	}
	if err := o.machine.CheckSubmittable(task, computed); err != nil {
		o.metrics.Submission(formType, "rejected", 0)
		return nil, err
	}

	result := &SubmissionResult{
		TaskID:        task.ID,
		FormType:      formType,
		CompanyID:     task.CompanyID,
		UnlockedTabs:  tabsFor(o.tabs, formType),
		TransactionID: uuid.New().String(),
	}
	var uploaded []string

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err = o.loadTaskForUpdate(ctx, tx, req.TaskID, "")
		if err != nil {
			return err
		}
		p, err := o.progress.ComputeTx(ctx, tx, task.ID, formType)
		if err != nil {
			return err
		}
		if err := o.machine.CheckSubmittable(task, p); err != nil {
			return err
		}

		// 2. artifact, retrievable before moving on
		art, err := o.generateArtifact(ctx, tx, task, formType, result.TransactionID, req.UserID, &uploaded)
		if err != nil {
			return err
		}
		result.FileID, result.FileName = art.FileID, art.Name

		// 3. tabs on the owning company, verified
		company, err := o.unlockTabs(ctx, tx, task.CompanyID, result.UnlockedTabs)
		if err != nil {
			return err
		}
		result.AvailableTabs = []string(company.AvailableTabs)

		// 4. status and submission record together
		tr, err := o.machine.MarkSubmitted(task, entity.SubmissionRecord{
			SubmissionDate: started,
			TransactionID:  result.TransactionID,
			FileID:         art.FileID,
			UnlockedTabs:   result.UnlockedTabs,
		})
		if err != nil {
			return err
		}
		if err := o.repos.Task.WithTx(tx).UpdateState(ctx, task); err != nil {
			return persistenceFault("update task", err)
		}
		return o.logAction(ctx, tx, task.ID, tr, req.UserID, map[string]interface{}{
			"transactionId": result.TransactionID,
			"fileId":        art.FileID,
			"unlockedTabs":  result.UnlockedTabs,
		}, "")
	})
	if err != nil {
		o.discard(ctx, log, uploaded)
		o.metrics.Submission(formType, "failed", 0)
		log.Error("submission rolled back", zap.Error(err))
		if errors.Is(err, ErrArtifactGeneration) {
			o.broadcast(ctx, realtime.TypeFormSubmissionCompleted, realtime.SubmissionPayload{
				TaskID:    req.TaskID,
				FormType:  formType,
				Status:    realtime.SubmissionError,
				CompanyID: result.CompanyID,
				Error:     "submission failed, please retry",
			}, realtime.Target{TaskID: req.TaskID, CompanyID: result.CompanyID})
		}
		return nil, err
	}

	rec, _ := entity.SubmissionRecordFrom(task.Metadata)
	result.Status = task.Status
	result.SubmissionDate = rec.SubmissionDate
	result.Task = task
	o.metrics.Submission(formType, "success", o.now().Sub(started).Seconds())
	log.Info("task submitted",
		zap.String("file_id", result.FileID),
		zap.Strings("unlocked_tabs", result.UnlockedTabs),
		zap.String("transaction_id", result.TransactionID))

	// 5. after commit only
	o.broadcast(ctx, realtime.TypeFormSubmissionCompleted, realtime.SubmissionPayload{
		TaskID:       task.ID,
		FormType:     formType,
		Status:       realtime.SubmissionSuccess,
		CompanyID:    task.CompanyID,
		FileID:       result.FileID,
		UnlockedTabs: result.UnlockedTabs,
	}, realtime.Target{TaskID: task.ID, CompanyID: task.CompanyID, OperationID: result.TransactionID})
	o.broadcast(ctx, realtime.TypeCompanyTabsUpdated, realtime.CompanyTabsPayload{
		CompanyID:         task.CompanyID,
		AvailableTabs:     result.AvailableTabs,
		Timestamp:         o.now().UTC(),
		CacheInvalidation: true,
	}, realtime.Target{CompanyID: task.CompanyID, OperationID: result.TransactionID})
	o.publishTask(ctx, task, result.TransactionID)

	return result, nil
}

func (o *SubmissionOrchestrator) generateArtifact(ctx context.Context, tx *gorm.DB, task *entity.Task, formType, txID, userID string, uploaded *[]string) (Artifact, error) {
	schema, err := o.catalog.Schema(ctx, formType)
	if err != nil {
		return Artifact{}, err
	}
	responses, err := o.repos.Response.WithTx(tx).ListByTask(ctx, formType, task.ID)
	if err != nil {
		return Artifact{}, persistenceFault("list responses", err)
	}
	in := ArtifactInput{
		Task:          task,
		FormType:      formType,
		Schema:        schema,
		Responses:     responses,
		TransactionID: txID,
		GeneratedBy:   userID,
		GeneratedAt:   o.now(),
	}

	var art Artifact
	err = o.artifactRetry.Do(ctx, o.logger, "generate artifact", func(actx context.Context) error {
		a, err := o.generator.Generate(actx, in)
		if err != nil {
			return err
		}
		if err := verifyArtifact(actx, o.store, a); err != nil {
			o.discard(ctx, o.logger, []string{a.ObjectKey})
			return err
		}
		*uploaded = append(*uploaded, a.ObjectKey)
		art = a
		return nil
	})
	if err != nil {
		return Artifact{}, artifactFault("generate artifact", err)
	}

	err = tx.Transaction(func(stx *gorm.DB) error {
		return o.repos.File.WithTx(stx).Create(ctx, &entity.FileRecord{
			ID:          art.FileID,
			TaskID:      task.ID,
			CompanyID:   task.CompanyID,
			Name:        art.Name,
			ObjectKey:   art.ObjectKey,
			ContentType: art.ContentType,
			Size:        art.Size,
			CreatedBy:   userID,
			CreatedAt:   o.now(),
		})
	})
	if err != nil {
		return Artifact{}, persistenceFault("record artifact", err)
	}
	return art, nil
}

// unlockTabs merges tabs into the company row. Each attempt runs in its own
// savepoint so a failed attempt leaves the outer transaction usable.
func (o *SubmissionOrchestrator) unlockTabs(ctx context.Context, tx *gorm.DB, companyID int64, tabs []string) (*entity.Company, error) {
	var company *entity.Company
	err := o.unlockRetry.Do(ctx, o.logger, "unlock tabs", func(actx context.Context) error {
		return tx.Transaction(func(stx *gorm.DB) error {
			repo := o.repos.Company.WithTx(stx)
			c, err := repo.FindForUpdate(actx, companyID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return Permanent(fmt.Errorf("company %d: %w", companyID, err))
				}
				return err
			}
			if c.MergeTabs(tabs) {
				if err := repo.UpdateTabs(actx, c); err != nil {
					return err
				}
			}
			check, err := repo.FindByID(actx, companyID)
			if err != nil {
				return err
			}
			if !check.HasTabs(tabs) {
				return fmt.Errorf("company %d: tab unlock not persisted", companyID)
			}
			company = check
			return nil
		})
	})
	if err != nil {
		return nil, persistenceFault("unlock tabs", err)
	}
	return company, nil
}

// discard removes artifacts uploaded by a rolled-back submission.
func (o *SubmissionOrchestrator) discard(ctx context.Context, log *zap.Logger, keys []string) {
	if len(keys) == 0 || o.store == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := o.store.Remove(rctx, key); err != nil {
			log.Warn("orphaned artifact left in store", zap.String("object_key", key), zap.Error(err))
		}
	}
}
