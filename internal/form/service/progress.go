package service

import (
	"context"
	"math"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"gorm.io/gorm"
)

// Progress a computed completion ratio.
type Progress struct {
	Progress       int   `json:"progress"`
	CompletedCount int64 `json:"completedCount"`
	TotalCount     int64 `json:"totalCount"`
}

// CalculateProgress maps completed/total to round(min(100, ratio*100)).
// A near-complete ratio may round to 100; submission checks the counts.
func CalculateProgress(completed, total int64) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return int(math.Round(float64(completed) * 100 / float64(total)))
}

// Complete reports whether every field of the schema is answered.
func (p Progress) Complete() bool {
	return p.TotalCount > 0 && p.CompletedCount >= p.TotalCount
}

// ProgressCalculator counts COMPLETE responses against the active schema.
type ProgressCalculator struct {
	responses *repository.ResponseRepository
	catalog   *FieldCatalog
}

func NewProgressCalculator(responses *repository.ResponseRepository, catalog *FieldCatalog) *ProgressCalculator {
	return &ProgressCalculator{responses: responses, catalog: catalog}
}

// Compute reads outside any transaction.
func (p *ProgressCalculator) Compute(ctx context.Context, taskID int64, taskType string) (Progress, error) {
	return p.compute(ctx, p.responses, taskID, taskType)
}

// ComputeTx reads through tx so uncommitted response writes are counted.
func (p *ProgressCalculator) ComputeTx(ctx context.Context, tx *gorm.DB, taskID int64, taskType string) (Progress, error) {
	return p.compute(ctx, p.responses.WithTx(tx), taskID, taskType)
}

func (p *ProgressCalculator) compute(ctx context.Context, responses *repository.ResponseRepository, taskID int64, taskType string) (Progress, error) {
	taskType = entity.NormalizeFormType(taskType)
	schema, err := p.catalog.Schema(ctx, taskType)
	if err != nil {
		return Progress{}, err
	}
	total := schema.Total()
	completed, err := responses.CountComplete(ctx, taskType, taskID, schema.Keys())
	if err != nil {
		return Progress{}, persistenceFault("count responses", err)
	}
	return Progress{
		Progress:       CalculateProgress(completed, total),
		CompletedCount: completed,
		TotalCount:     total,
	}, nil
}
