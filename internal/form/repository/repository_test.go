package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/form/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseRepository_UpsertCountDelete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	company := testutil.SeedCompany(t, db, "Acme Ltd")
	task := testutil.SeedTask(t, db, company.ID, entity.FormTypeKY3P)
	repo := repository.NewResponseRepository(db)
	keys := []string{"mfa", "dpo"}

	now := time.Now()
	rows := []entity.FormResponse{
		{TaskID: task.ID, FieldKey: "mfa", Value: "yes", Status: entity.ResponseStatusComplete, CreatedAt: now, UpdatedAt: now},
		{TaskID: task.ID, FieldKey: "dpo", Value: "", Status: entity.ResponseStatusEmpty, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, repo.Upsert(ctx, entity.FormTypeKY3P, rows))

	n, err := repo.CountComplete(ctx, entity.FormTypeKY3P, task.ID, keys)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// overwrite on (task_id, field_key)
	update := []entity.FormResponse{
		{TaskID: task.ID, FieldKey: "dpo", Value: "Jane", Status: entity.ResponseStatusComplete, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, repo.Upsert(ctx, entity.FormTypeKY3P, update))
	n, err = repo.CountComplete(ctx, entity.FormTypeKY3P, task.ID, keys)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// only keys of the given schema count
	n, err = repo.CountComplete(ctx, entity.FormTypeKY3P, task.ID, []string{"dpo", "retention"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.CountComplete(ctx, entity.FormTypeKY3P, task.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := repo.ListByTask(ctx, entity.FormTypeKY3P, task.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// other form tables are separate
	n, err = repo.CountComplete(ctx, entity.FormTypeKYB, task.ID, keys)
	require.NoError(t, err)
	assert.Zero(t, n)

	deleted, err := repo.DeleteByTask(ctx, entity.FormTypeKY3P, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = repo.CountComplete(ctx, "payroll", task.ID, keys)
	assert.ErrorIs(t, err, repository.ErrUnknownFormType)
}

func TestFieldRepository_Versions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewFieldRepository(db)

	v, err := repo.ActiveVersion(ctx, entity.FormTypeCard)
	require.NoError(t, err)
	assert.Zero(t, v)

	testutil.SeedFields(t, db, entity.FormTypeCard, 3)
	testutil.SeedFields(t, db, entity.FormTypeCard, 5)

	v, err = repo.ActiveVersion(ctx, entity.FormTypeCard)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	defs, err := repo.ListVersion(ctx, entity.FormTypeCard, v)
	require.NoError(t, err)
	require.Len(t, defs, 5)
	assert.Equal(t, "field_1", defs[0].FieldKey)
	assert.Equal(t, 1, defs[0].SortOrder)

	old, err := repo.ListVersion(ctx, entity.FormTypeCard, 1)
	require.NoError(t, err)
	assert.Len(t, old, 3)
}

func TestTaskRepository_StateListScan(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewTaskRepository(db)

	acme := testutil.SeedCompany(t, db, "Acme Ltd")
	other := testutil.SeedCompany(t, db, "Other Inc")
	t1 := testutil.SeedTask(t, db, acme.ID, entity.FormTypeKYB)
	testutil.SeedTask(t, db, acme.ID, entity.FormTypeCard)
	testutil.SeedTask(t, db, other.ID, entity.FormTypeKYB)

	t1.Progress = 40
	t1.Status = entity.TaskStatusInProgress
	t1.Metadata[entity.MetaProgressSource] = "test"
	require.NoError(t, repo.UpdateState(ctx, t1))

	got, err := repo.FindByID(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "test", got.Metadata.String(entity.MetaProgressSource))

	missing := &entity.Task{ID: 9999, Metadata: entity.JSONB{}}
	assert.True(t, errors.Is(repo.UpdateState(ctx, missing), repository.ErrNotFound))
	_, err = repo.FindByID(ctx, 9999)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	list, err := repo.List(ctx, repository.TaskFilter{CompanyID: acme.ID})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	list, err = repo.List(ctx, repository.TaskFilter{TaskType: entity.FormTypeKYB, Status: entity.TaskStatusNotStarted})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	var batches, seen int
	err = repo.Scan(ctx, 2, func(tasks []entity.Task) error {
		batches++
		seen += len(tasks)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, batches)
	assert.Equal(t, 3, seen)
}

func TestCompanyRepository_Tabs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repository.NewCompanyRepository(db)
	company := testutil.SeedCompany(t, db, "Acme Ltd", "overview")

	c, err := repo.FindForUpdate(ctx, company.ID)
	require.NoError(t, err)
	assert.True(t, c.MergeTabs([]string{"file_vault", "overview"}))
	require.NoError(t, repo.UpdateTabs(ctx, c))

	c, err = repo.FindByID(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"overview", "file_vault"}, []string(c.AvailableTabs))
	assert.True(t, c.HasTabs([]string{"file_vault"}))
	assert.False(t, c.MergeTabs([]string{"file_vault"}))
}
