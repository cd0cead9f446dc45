package handler

import (
	"github.com/bitfantasy/formflow/internal/form/service"
	"github.com/gin-gonic/gin"
)

// CompanyHandler company tabs
type CompanyHandler struct {
	tasks  *service.TaskService
	access *service.AccessPolicy
}

func NewCompanyHandler(tasks *service.TaskService, access *service.AccessPolicy) *CompanyHandler {
	return &CompanyHandler{tasks: tasks, access: access}
}

// Tabs GET /api/companies/:companyId/tabs
func (h *CompanyHandler) Tabs(c *gin.Context) {
	id, ok := pathID(c, "companyId")
	if !ok {
		return
	}
	if err := h.access.Company(GetCompanyID(c), id); err != nil {
		Fail(c, err)
		return
	}
	company, err := h.tasks.Company(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	tabs := []string(company.AvailableTabs)
	if tabs == nil {
		tabs = []string{}
	}
	Success(c, gin.H{
		"companyId":     company.ID,
		"name":          company.Name,
		"availableTabs": tabs,
	})
}
