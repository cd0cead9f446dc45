package service

import (
	"context"
	"testing"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func artifactInput() ArtifactInput {
	fields := []entity.FieldDefinition{
		{ID: 1, FieldKey: "legal_name", Label: "Legal name", Section: "Profile"},
		{ID: 2, FieldKey: "country", Label: "Country", Section: "Profile"},
	}
	return ArtifactInput{
		Task:          &entity.Task{ID: 12, Title: "KYB", CompanyID: 3},
		FormType:      entity.FormTypeKYB,
		Schema:        newSchema(entity.FormTypeKYB, 2, fields),
		Responses:     []entity.FormResponse{{FieldKey: "legal_name", Value: "Acme Ltd", Status: entity.ResponseStatusComplete}},
		TransactionID: "tx-9",
		GeneratedBy:   "user-1",
		GeneratedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRenderWorkbook(t *testing.T) {
	f, err := RenderWorkbook(artifactInput())
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Responses")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Section", "Field Key", "Label", "Value", "Status"}, rows[0])
	assert.Equal(t, []string{"Profile", "legal_name", "Legal name", "Acme Ltd", entity.ResponseStatusComplete}, rows[1])
	assert.Equal(t, entity.ResponseStatusEmpty, rows[2][4])

	v, err := f.GetCellValue("Summary", "B6")
	require.NoError(t, err)
	assert.Equal(t, "tx-9", v)
}

func TestXLSXArtifactGeneratorStoresReadableFile(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	art, err := NewXLSXArtifactGenerator(store).Generate(ctx, artifactInput())
	require.NoError(t, err)
	assert.Len(t, art.FileID, 32)
	assert.Equal(t, "submissions/kyb/12/"+art.FileID+".xlsx", art.ObjectKey)
	require.NoError(t, verifyArtifact(ctx, store, art))

	rc, err := store.Get(ctx, art.ObjectKey)
	require.NoError(t, err)
	defer rc.Close()
	f, err := excelize.OpenReader(rc)
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Responses")
}

func TestXLSXArtifactGeneratorHonoursCancellation(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewXLSXArtifactGenerator(store).Generate(ctx, artifactInput())
	assert.ErrorIs(t, err, context.Canceled)
}
