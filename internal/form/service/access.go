package service

import (
	"context"
	"errors"

	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/form/repository"
)

// ErrForbidden the caller's company does not own the resource.
var ErrForbidden = errors.New("resource belongs to another company")

// AccessPolicy scopes callers bound to a company to that company's tasks.
// A zero company id means an unscoped caller (operators, reviewers).
type AccessPolicy struct {
	tasks *repository.TaskRepository
}

func NewAccessPolicy(tasks *repository.TaskRepository) *AccessPolicy {
	return &AccessPolicy{tasks: tasks}
}

// Task returns ErrForbidden when companyID may not see taskID.
func (p *AccessPolicy) Task(ctx context.Context, companyID, taskID int64) error {
	if companyID == 0 {
		return nil
	}
	task, err := p.tasks.FindByID(ctx, taskID)
	if err != nil {
		return persistenceFault("check access", err)
	}
	if task.CompanyID != companyID {
		return ErrForbidden
	}
	return nil
}

// Company returns ErrForbidden when companyID may not see target.
func (p *AccessPolicy) Company(companyID, target int64) error {
	if companyID == 0 || companyID == target {
		return nil
	}
	return ErrForbidden
}

// CanSubscribe implements realtime.Authorizer.
func (p *AccessPolicy) CanSubscribe(ctx context.Context, conn *realtime.Conn, s realtime.Scope) bool {
	switch s.Kind {
	case realtime.ScopeTask:
		return p.Task(ctx, conn.CompanyID, s.ID) == nil
	case realtime.ScopeCompany:
		return p.Company(conn.CompanyID, s.ID) == nil
	}
	return false
}
