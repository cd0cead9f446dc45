package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/storage"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ArtifactInput everything a generator needs; it never touches the database.
type ArtifactInput struct {
	Task          *entity.Task
	FormType      string
	Schema        *Schema
	Responses     []entity.FormResponse
	TransactionID string
	GeneratedBy   string
	GeneratedAt   time.Time
}

// Artifact a stored submission file.
type Artifact struct {
	FileID      string
	Name        string
	ObjectKey   string
	ContentType string
	Size        int64
}

// ArtifactGenerator renders and stores the submission file. It must honour
// ctx and return only once the object is written.
type ArtifactGenerator interface {
	Generate(ctx context.Context, in ArtifactInput) (Artifact, error)
}

// XLSXArtifactGenerator renders the answers as a workbook.
type XLSXArtifactGenerator struct {
	store storage.ObjectStore
}

func NewXLSXArtifactGenerator(store storage.ObjectStore) *XLSXArtifactGenerator {
	return &XLSXArtifactGenerator{store: store}
}

func (g *XLSXArtifactGenerator) Generate(ctx context.Context, in ArtifactInput) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	f, err := RenderWorkbook(in)
	if err != nil {
		return Artifact{}, err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return Artifact{}, fmt.Errorf("write workbook: %w", err)
	}

	fileID := strings.ReplaceAll(uuid.New().String(), "-", "")
	art := Artifact{
		FileID:      fileID,
		Name:        fmt.Sprintf("%s_task_%d_%s.xlsx", in.FormType, in.Task.ID, in.GeneratedAt.UTC().Format("20060102T150405")),
		ObjectKey:   fmt.Sprintf("submissions/%s/%d/%s.xlsx", in.FormType, in.Task.ID, fileID),
		ContentType: xlsxContentType,
		Size:        int64(buf.Len()),
	}
	if _, err := g.store.Put(ctx, art.ObjectKey, buf, art.Size, art.ContentType); err != nil {
		return Artifact{}, err
	}
	return art, nil
}

// RenderWorkbook builds the submission workbook: a Summary sheet and one row
// per schema field on the Responses sheet.
func RenderWorkbook(in ArtifactInput) (*excelize.File, error) {
	f := excelize.NewFile()

	const summary, answers = "Summary", "Responses"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(answers); err != nil {
		f.Close()
		return nil, err
	}

	rows := [][]interface{}{
		{"Task ID", in.Task.ID},
		{"Title", in.Task.Title},
		{"Form Type", in.FormType},
		{"Company ID", in.Task.CompanyID},
		{"Schema Version", schemaVersion(in.Schema)},
		{"Transaction ID", in.TransactionID},
		{"Submitted By", in.GeneratedBy},
		{"Generated At", in.GeneratedAt.UTC().Format(time.RFC3339)},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			f.Close()
			return nil, err
		}
	}

	header := []interface{}{"Section", "Field Key", "Label", "Value", "Status"}
	if err := f.SetSheetRow(answers, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetRowStyle(answers, 1, 1, style)
	}

	byKey := make(map[string]entity.FormResponse, len(in.Responses))
	for _, r := range in.Responses {
		byKey[entity.NormalizeFieldKey(r.FieldKey)] = r
	}
	line := 2
	if in.Schema != nil {
		for _, field := range in.Schema.Fields {
			resp, ok := byKey[entity.NormalizeFieldKey(field.FieldKey)]
			status := entity.ResponseStatusEmpty
			if ok {
				status = resp.Status
			}
			row := []interface{}{field.Section, field.FieldKey, field.Label, resp.Value, status}
			cell, _ := excelize.CoordinatesToCellName(1, line)
			if err := f.SetSheetRow(answers, cell, &row); err != nil {
				f.Close()
				return nil, err
			}
			line++
		}
	}
	_ = f.SetColWidth(answers, "A", "B", 24)
	_ = f.SetColWidth(answers, "C", "D", 48)
	return f, nil
}

func schemaVersion(s *Schema) int {
	if s == nil {
		return 0
	}
	return s.Version
}

// verifyArtifact fails unless the object is readable back from the store.
func verifyArtifact(ctx context.Context, store storage.ObjectStore, art Artifact) error {
	info, err := store.Stat(ctx, art.ObjectKey)
	if err != nil {
		return fmt.Errorf("verify artifact %s: %w", art.ObjectKey, err)
	}
	if art.Size > 0 && info.Size != art.Size {
		return fmt.Errorf("verify artifact %s: size %d, want %d", art.ObjectKey, info.Size, art.Size)
	}
	return nil
}
