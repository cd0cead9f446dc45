package service

import (
	"context"
	"testing"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/form/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClearFieldsResetsTask(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, task, _ := env.seedTask(t, entity.FormTypeKYB, 10, 10)
	require.Equal(t, entity.TaskStatusReadyForSubmission, task.Status)

	res, err := env.svc.Clear.Clear(ctx, ClearRequest{
		TaskID:      task.ID,
		TaskType:    entity.FormTypeKYB,
		OperationID: "op-clear",
		ClientID:    "conn-a",
		UserID:      "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Deleted)
	assert.Equal(t, "op-clear", res.OperationID)

	stored := testutil.ReloadTask(t, env.db, task.ID)
	assert.Equal(t, 0, stored.Progress)
	assert.Equal(t, entity.TaskStatusNotStarted, stored.Status)

	rows, err := env.svc.Task.Responses(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	msgs := env.bc.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, realtime.TypeClearFields, msgs[0].Type)
	assert.Equal(t, "op-clear", msgs[0].Target.OperationID)
	assert.Equal(t, "conn-a", msgs[0].Target.Exclude)
	payload := msgs[0].Payload.(realtime.ClearFieldsPayload)
	assert.Equal(t, "op-clear", payload.OperationID)
	assert.False(t, payload.PreserveProgress)
	assert.Equal(t, realtime.TypeTaskUpdate, msgs[1].Type)
	assert.Equal(t, 0, msgs[1].Payload.(realtime.TaskUpdatePayload).Progress)
}

func TestClearFieldsDuplicateWithinCooldown(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, task, keys := env.seedTask(t, entity.FormTypeKYB, 10, 5)
	req := ClearRequest{TaskID: task.ID, TaskType: entity.FormTypeKYB}

	_, err := env.svc.Clear.Clear(ctx, req)
	require.NoError(t, err)
	first := testutil.ReloadTask(t, env.db, task.ID)

	// answers saved in between must survive the rejected duplicate
	_, err = env.svc.Response.Save(ctx, SaveRequest{TaskID: task.ID, FormType: entity.FormTypeKYB, Responses: answers(keys[0])})
	require.NoError(t, err)
	env.bc.reset()

	env.clock.Advance(2 * time.Second)
	_, err = env.svc.Clear.Clear(ctx, req)
	assert.ErrorIs(t, err, ErrDuplicateOperation)
	assert.Empty(t, env.bc.messages())
	rows, err := env.svc.Task.Responses(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, entity.TaskStatusNotStarted, first.Status)

	env.clock.Advance(4 * time.Second)
	res, err := env.svc.Clear.Clear(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted)
}

func TestClearFieldsCooldownIsPerTaskAndType(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, a, _ := env.seedTask(t, entity.FormTypeKYB, 4, 2)
	b := testutil.SeedTask(t, env.db, a.CompanyID, entity.FormTypeKYB)

	_, err := env.svc.Clear.Clear(ctx, ClearRequest{TaskID: a.ID, TaskType: entity.FormTypeKYB})
	require.NoError(t, err)
	_, err = env.svc.Clear.Clear(ctx, ClearRequest{TaskID: b.ID, TaskType: entity.FormTypeKYB})
	require.NoError(t, err)
}

func TestClearFieldsPreserveProgress(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, task, _ := env.seedTask(t, entity.FormTypeKYB, 10, 5)
	require.Equal(t, 50, task.Progress)

	res, err := env.svc.Clear.Clear(ctx, ClearRequest{TaskID: task.ID, TaskType: entity.FormTypeKYB, PreserveProgress: true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Deleted)
	assert.True(t, res.PreserveProgress)

	stored := testutil.ReloadTask(t, env.db, task.ID)
	assert.Equal(t, 50, stored.Progress)
	assert.Equal(t, entity.TaskStatusInProgress, stored.Status)

	msgs := env.bc.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, realtime.TypeClearFields, msgs[0].Type)
	assert.True(t, msgs[0].Payload.(realtime.ClearFieldsPayload).PreserveProgress)
}

func TestClearFieldsLockedTaskReleasesCooldown(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, task, _ := env.seedTask(t, entity.FormTypeKYB, 2, 2)
	_, err := env.svc.Submission.Submit(ctx, SubmitRequest{TaskID: task.ID})
	require.NoError(t, err)
	env.bc.reset()

	req := ClearRequest{TaskID: task.ID, TaskType: entity.FormTypeKYB}
	_, err = env.svc.Clear.Clear(ctx, req)
	assert.ErrorIs(t, err, ErrTaskLocked)
	_, err = env.svc.Clear.Clear(ctx, req)
	assert.ErrorIs(t, err, ErrTaskLocked, "a failed clear does not hold the cooldown")
	assert.Empty(t, env.bc.messages())
}

func TestClearFieldsUnknownType(t *testing.T) {
	env := setupServices(t)
	_, err := env.svc.Clear.Clear(context.Background(), ClearRequest{TaskID: 1, TaskType: "loan"})
	assert.ErrorIs(t, err, ErrUnknownFormType)
	assert.Equal(t, 0, env.guard.Len())
}
