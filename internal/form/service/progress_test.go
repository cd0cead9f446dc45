package service

import (
	"context"
	"testing"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateProgress(t *testing.T) {
	cases := []struct {
		completed, total int64
		want             int
	}{
		{0, 120, 0},
		{1, 120, 1},
		{60, 120, 50},
		{90, 120, 75},
		{91, 120, 76},
		{119, 120, 99},
		{120, 120, 100},
		{130, 120, 100},
		{1, 3, 33},
		{2, 3, 67},
		{199, 200, 100},
		{239, 240, 100},
		{237, 240, 99},
		{5, 0, 0},
		{0, 0, 0},
		{-1, 10, 0},
	}
	for _, tc := range cases {
		got := CalculateProgress(tc.completed, tc.total)
		assert.Equal(t, tc.want, got, "%d/%d", tc.completed, tc.total)
		assert.True(t, got >= 0 && got <= 100)
	}
}

func TestProgressCalculatorCountsOnlyComplete(t *testing.T) {
	env := setupServices(t)
	_, task, keys := env.seedTask(t, entity.FormTypeKY3P, 120, 90)

	p, err := env.svc.Progress.Compute(context.Background(), task.ID, task.TaskType)
	require.NoError(t, err)
	assert.Equal(t, Progress{Progress: 75, CompletedCount: 90, TotalCount: 120}, p)

	// an explicitly incomplete answer does not count
	incomplete := false
	_, err = env.svc.Response.Save(context.Background(), SaveRequest{
		TaskID:    task.ID,
		FormType:  task.TaskType,
		Responses: []ResponseInput{{Ref: entity.FieldKeyRef(keys[100]), Value: "draft", Complete: &incomplete}},
	})
	require.NoError(t, err)

	p, err = env.svc.Progress.Compute(context.Background(), task.ID, task.TaskType)
	require.NoError(t, err)
	assert.Equal(t, int64(90), p.CompletedCount)
}

func TestProgressCalculatorFollowsActiveSchema(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, task, keys := env.seedTask(t, entity.FormTypeKYB, 3, 3)
	require.Equal(t, entity.TaskStatusReadyForSubmission, task.Status)

	// next version drops field_3 and adds a new required field
	_, err := env.repos.Field.CreateVersion(ctx, entity.FormTypeKYB, []entity.FieldDefinition{
		{FieldKey: keys[0], Label: "Question 1", Required: true},
		{FieldKey: keys[1], Label: "Question 2", Required: true},
		{FieldKey: "beneficial_owner", Label: "Beneficial owner", Required: true},
	})
	require.NoError(t, err)
	env.svc.Catalog.Invalidate(entity.FormTypeKYB)

	p, err := env.svc.Progress.Compute(ctx, task.ID, task.TaskType)
	require.NoError(t, err)
	assert.Equal(t, Progress{Progress: 67, CompletedCount: 2, TotalCount: 3}, p)

	res, err := env.svc.Response.Recompute(ctx, task.ID, "system")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusInProgress, res.Task.Status)
	assert.Equal(t, 67, res.Task.Progress)

	_, err = env.svc.Submission.Submit(ctx, SubmitRequest{TaskID: task.ID})
	assert.ErrorIs(t, err, ErrProgressIncomplete)
	assert.Equal(t, entity.TaskStatusInProgress, testutil.ReloadTask(t, env.db, task.ID).Status)
}

func TestProgressCalculatorUnknownFormType(t *testing.T) {
	env := setupServices(t)
	_, err := env.svc.Progress.Compute(context.Background(), 1, "mortgage")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrUnknownFormType)
}
