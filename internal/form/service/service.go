package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/guard"
	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/form/storage"
	"github.com/bitfantasy/formflow/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Broadcaster pushes committed state changes to subscribed clients.
// realtime.Coordinator implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, msgType string, payload interface{}, target realtime.Target) bool
}

// Options wiring of the services
type Options struct {
	ClearCooldown   time.Duration
	CatalogCacheTTL time.Duration
	ArtifactRetry   RetryPolicy
	UnlockRetry     RetryPolicy
	Tabs            map[string][]string
	Guard           guard.OperationGuard
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// Services every task service over one database
type Services struct {
	Catalog     *FieldCatalog
	Progress    *ProgressCalculator
	Machine     *StatusMachine
	Task        *TaskService
	Response    *ResponseService
	Clear       *ClearFieldsService
	Submission  *SubmissionOrchestrator
	Review      *ReviewService
	Consistency *ConsistencyService
	Fields      *FieldService
	Access      *AccessPolicy
}

// NewServices wires every service over one database and broadcaster.
func NewServices(db *gorm.DB, repos *repository.Repositories, store storage.ObjectStore, bc Broadcaster, opts Options) *Services {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Guard == nil {
		opts.Guard = guard.NewMemoryGuard()
	}
	if opts.ClearCooldown <= 0 {
		opts.ClearCooldown = 5 * time.Second
	}
	if opts.ArtifactRetry.Attempts == 0 {
		opts.ArtifactRetry = RetryPolicy{Attempts: 3, Initial: 200 * time.Millisecond, Max: 2 * time.Second, Timeout: 30 * time.Second}
	}
	if opts.UnlockRetry.Attempts == 0 {
		opts.UnlockRetry = RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond, Max: time.Second, Timeout: 5 * time.Second}
	}
	if opts.Tabs == nil {
		opts.Tabs = DefaultTabs()
	}

	catalog := NewFieldCatalog(repos.Field, opts.CatalogCacheTTL)
	b := &base{
		db:          db,
		repos:       repos,
		catalog:     catalog,
		progress:    NewProgressCalculator(repos.Response, catalog),
		machine:     NewStatusMachine(),
		broadcaster: bc,
		locks:       guard.NewKeyedMutex(),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}

	return &Services{
		Catalog:     catalog,
		Progress:    b.progress,
		Machine:     b.machine,
		Task:        &TaskService{base: b, tabs: opts.Tabs},
		Response:    &ResponseService{base: b},
		Clear:       &ClearFieldsService{base: b, guard: opts.Guard, cooldown: opts.ClearCooldown},
		Submission:  newSubmissionOrchestrator(b, store, NewXLSXArtifactGenerator(store), opts),
		Review:      &ReviewService{base: b},
		Consistency: &ConsistencyService{base: b},
		Fields:      &FieldService{repo: repos.Field, catalog: catalog, logger: opts.Logger},
		Access:      NewAccessPolicy(repos.Task),
	}
}

// base dependencies shared by the task-mutating services. locks serialises
// work per task from transaction start until the broadcast is queued, which
// is what keeps per-task message order equal to commit order.
type base struct {
	db          *gorm.DB
	repos       *repository.Repositories
	catalog     *FieldCatalog
	progress    *ProgressCalculator
	machine     *StatusMachine
	broadcaster Broadcaster
	locks       *guard.KeyedMutex
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func (b *base) lockTask(taskID int64) func() {
	return b.locks.Lock(fmt.Sprintf("task:%d", taskID))
}

// loadTaskForUpdate locks the task row inside tx and checks its form type
// when formType is set.
func (b *base) loadTaskForUpdate(ctx context.Context, tx *gorm.DB, taskID int64, formType string) (*entity.Task, error) {
	task, err := b.repos.Task.WithTx(tx).FindForUpdate(ctx, taskID)
	if err != nil {
		return nil, persistenceFault("load task", err)
	}
	if err := checkTaskType(task, formType); err != nil {
		return nil, err
	}
	return task, nil
}

func checkTaskType(task *entity.Task, formType string) error {
	if formType == "" {
		return nil
	}
	formType = entity.NormalizeFormType(formType)
	if _, ok := entity.ResponseTable(formType); !ok {
		return validationFault("check task", ErrUnknownFormType, "%q", formType)
	}
	if entity.NormalizeFormType(task.TaskType) != formType {
		return validationFault("check task", ErrTaskTypeMismatch, "task %d is %s, not %s", task.ID, task.TaskType, formType)
	}
	return nil
}

// logAction writes the transition audit row inside tx.
func (b *base) logAction(ctx context.Context, tx *gorm.DB, taskID int64, t Transition, operatorID string, eventData map[string]interface{}, comment string) error {
	actionLog := entity.TaskActionLog{
		ID:           uuid.New().String(),
		TaskID:       taskID,
		Action:       t.Action,
		FromStatus:   t.FromStatus,
		ToStatus:     t.ToStatus,
		OperatorID:   operatorID,
		OperatorType: "user",
		Comment:      comment,
		CreatedAt:    time.Now(),
	}
	if operatorID == "" || operatorID == "system" {
		actionLog.OperatorID = "system"
		actionLog.OperatorType = "system"
	}
	data := entity.JSONB{"fromProgress": t.FromProgress, "toProgress": t.ToProgress}
	for k, v := range eventData {
		data[k] = v
	}
	actionLog.EventData = data

	if err := b.repos.ActionLog.WithTx(tx).Create(ctx, &actionLog); err != nil {
		return persistenceFault("write action log", err)
	}
	return nil
}

// publishTask broadcasts the committed task row.
func (b *base) publishTask(ctx context.Context, task *entity.Task, operationID string) bool {
	if b.broadcaster == nil {
		return false
	}
	return b.broadcaster.Broadcast(ctx, realtime.TypeTaskUpdate, taskUpdatePayload(task), realtime.Target{
		TaskID:      task.ID,
		OperationID: operationID,
		Revision:    strconv.FormatInt(task.UpdatedAt.UnixNano(), 10),
	})
}

func taskUpdatePayload(task *entity.Task) realtime.TaskUpdatePayload {
	return realtime.TaskUpdatePayload{
		TaskID:    task.ID,
		ID:        task.ID,
		Status:    task.Status,
		Progress:  task.Progress,
		Metadata:  task.Metadata,
		Timestamp: task.UpdatedAt.UTC(),
	}
}

func (b *base) broadcast(ctx context.Context, msgType string, payload interface{}, target realtime.Target) bool {
	if b.broadcaster == nil {
		return false
	}
	return b.broadcaster.Broadcast(ctx, msgType, payload, target)
}
