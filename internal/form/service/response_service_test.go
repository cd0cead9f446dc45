package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/form/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveResponsesDrivesProgressAndStatus(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, task, keys := env.seedTask(t, entity.FormTypeKY3P, 120, 90)
	assert.Equal(t, 75, task.Progress)
	assert.Equal(t, entity.TaskStatusInProgress, task.Status)

	res, err := env.svc.Response.Save(ctx, SaveRequest{
		TaskID:      task.ID,
		FormType:    "KY3P",
		Responses:   answers(keys[90]),
		UserID:      "user-1",
		OperationID: "op-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 76, res.Task.Progress)
	assert.Equal(t, Progress{Progress: 76, CompletedCount: 91, TotalCount: 120}, res.Progress)

	msgs := env.bc.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, realtime.TypeTaskUpdate, msgs[0].Type)
	assert.Equal(t, "op-1", msgs[0].Target.OperationID)
	payload := msgs[0].Payload.(realtime.TaskUpdatePayload)
	assert.Equal(t, 76, payload.Progress)
	assert.Equal(t, entity.TaskStatusInProgress, payload.Status)

	res, err = env.svc.Response.Save(ctx, SaveRequest{TaskID: task.ID, FormType: "ky3p", Responses: answers(keys[91:]...)})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Task.Progress)
	assert.Equal(t, entity.TaskStatusReadyForSubmission, res.Task.Status)
	assert.True(t, res.Transition.StatusChanged())

	stored := testutil.ReloadTask(t, env.db, task.ID)
	assert.Equal(t, 100, stored.Progress)
	assert.Equal(t, entity.TaskStatusReadyForSubmission, stored.Status)
	assert.False(t, stored.Metadata.Has(entity.MetaLegacyProgressValue))

	history, err := env.svc.Task.History(ctx, task.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, entity.TaskStatusReadyForSubmission, history[0].ToStatus)
}

func TestSaveResponsesReusedOperationIDCarriesCommitRevision(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, task, keys := env.seedTask(t, entity.FormTypeKYB, 10, 0)

	for _, k := range keys[:2] {
		_, err := env.svc.Response.Save(ctx, SaveRequest{
			TaskID:      task.ID,
			FormType:    "kyb",
			Responses:   answers(k),
			OperationID: "op-reused",
		})
		require.NoError(t, err)
	}

	msgs := env.bc.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].Target.OperationID, msgs[1].Target.OperationID)
	assert.NotEmpty(t, msgs[0].Target.Revision)
	assert.NotEqual(t, msgs[0].Target.Revision, msgs[1].Target.Revision)
	assert.Equal(t, 20, msgs[1].Payload.(realtime.TaskUpdatePayload).Progress)
}

func TestSaveResponsesResolvesNumericFieldIDs(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, task, _ := env.seedTask(t, entity.FormTypeKYB, 4, 0)

	schema, err := env.svc.Catalog.Schema(ctx, entity.FormTypeKYB)
	require.NoError(t, err)
	id := schema.Fields[2].ID

	res, err := env.svc.Response.Save(ctx, SaveRequest{
		TaskID:    task.ID,
		FormType:  entity.FormTypeKYB,
		Responses: []ResponseInput{{Ref: entity.ParseFieldRef("  " + strconv.FormatInt(id, 10)), Value: "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 25, res.Task.Progress)

	rows, err := env.svc.Task.Responses(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, schema.Fields[2].FieldKey, rows[0].FieldKey)
	assert.Equal(t, id, rows[0].FieldID)

	// same field by key overwrites instead of adding a row
	_, err = env.svc.Response.Save(ctx, SaveRequest{
		TaskID:    task.ID,
		FormType:  entity.FormTypeKYB,
		Responses: answers(schema.Fields[2].FieldKey),
	})
	require.NoError(t, err)
	rows, err = env.svc.Task.Responses(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSaveResponsesRejectsUnknownFieldsWithoutWriting(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, task, keys := env.seedTask(t, entity.FormTypeKYB, 4, 0)

	_, err := env.svc.Response.Save(ctx, SaveRequest{
		TaskID:    task.ID,
		FormType:  entity.FormTypeKYB,
		Responses: append(answers(keys[0]), ResponseInput{Ref: entity.FieldKeyRef("nope"), Value: "x"}),
	})
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.True(t, IsValidation(err))

	rows, err := env.svc.Task.Responses(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, env.bc.messages())
}

func TestSaveResponsesRejectsWrongFormType(t *testing.T) {
	env := setupServices(t)
	_, task, keys := env.seedTask(t, entity.FormTypeKYB, 4, 0)
	testutil.SeedFields(t, env.db, entity.FormTypeCard, 4)

	_, err := env.svc.Response.Save(context.Background(), SaveRequest{
		TaskID:    task.ID,
		FormType:  entity.FormTypeCard,
		Responses: answers(keys[0]),
	})
	assert.ErrorIs(t, err, ErrTaskTypeMismatch)
}

func TestSaveResponsesLockedAfterSubmission(t *testing.T) {
	env := setupServices(t)
	_, task, keys := env.seedTask(t, entity.FormTypeKYB, 4, 4)
	_, err := env.svc.Submission.Submit(context.Background(), SubmitRequest{TaskID: task.ID, UserID: "u"})
	require.NoError(t, err)
	env.bc.reset()

	_, err = env.svc.Response.Save(context.Background(), SaveRequest{
		TaskID:    task.ID,
		FormType:  entity.FormTypeKYB,
		Responses: answers(keys[0]),
	})
	assert.ErrorIs(t, err, ErrTaskLocked)
	assert.Empty(t, env.bc.messages())
	assert.Equal(t, entity.TaskStatusSubmitted, testutil.ReloadTask(t, env.db, task.ID).Status)
}

func TestSaveResponsesUnknownTask(t *testing.T) {
	env := setupServices(t)
	testutil.SeedFields(t, env.db, entity.FormTypeKYB, 2)
	_, err := env.svc.Response.Save(context.Background(), SaveRequest{
		TaskID:    999,
		FormType:  entity.FormTypeKYB,
		Responses: answers("field_1"),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
