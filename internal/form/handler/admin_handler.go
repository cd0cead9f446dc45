package handler

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/form/service"
	"github.com/gin-gonic/gin"
)

const maxFieldFileSize = 4 << 20

// AdminHandler consistency tooling and field schema import
type AdminHandler struct {
	consistency *service.ConsistencyService
	fields      *service.FieldService
}

func NewAdminHandler(consistency *service.ConsistencyService, fields *service.FieldService) *AdminHandler {
	return &AdminHandler{consistency: consistency, fields: fields}
}

// Consistency GET /api/admin/consistency?taskType=&status=&companyId=
func (h *AdminHandler) Consistency(c *gin.Context) {
	filter := repository.TaskFilter{
		TaskType: entity.NormalizeFormType(c.Query("taskType")),
		Status:   c.Query("status"),
	}
	if v := c.Query("companyId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			BadRequest(c, "invalid companyId")
			return
		}
		filter.CompanyID = id
	}
	report, err := h.consistency.Check(c.Request.Context(), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	if report.Issues == nil {
		report.Issues = []service.Issue{}
	}
	Success(c, report)
}

// Repair POST /api/admin/consistency/:taskId/repair
func (h *AdminHandler) Repair(c *gin.Context) {
	id, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	task, tr, err := h.consistency.Repair(c.Request.Context(), id, GetUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"task": task, "transition": tr})
}

// RepairAll POST /api/admin/consistency/repair
func (h *AdminHandler) RepairAll(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := h.consistency.Check(ctx, repository.TaskFilter{})
	if err != nil {
		Fail(c, err)
		return
	}
	repaired, err := h.consistency.RepairAll(ctx, report, GetUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"checked": report.Checked, "issues": len(report.Issues), "repaired": repaired})
}

// ImportFields POST /api/admin/fields/:formType
// The body is a CSV sheet, or a YAML seed file when the content type says so.
func (h *AdminHandler) ImportFields(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFieldFileSize+1))
	if err != nil {
		BadRequest(c, "read body: "+err.Error())
		return
	}
	if len(body) > maxFieldFileSize {
		BadRequest(c, "field file too large")
		return
	}

	formType := entity.NormalizeFormType(c.Param("formType"))
	var defs []entity.FieldDefinition
	if strings.Contains(c.ContentType(), "yaml") {
		var fileType string
		fileType, defs, err = service.LoadFieldYAML(bytes.NewReader(body))
		if err == nil && fileType != formType {
			err = fmt.Errorf("%w: file is for %q", service.ErrInvalidFieldFile, fileType)
		}
	} else {
		defs, err = service.ParseFieldCSV(bytes.NewReader(body))
	}
	if err != nil {
		Fail(c, err)
		return
	}

	res, err := h.fields.Import(c.Request.Context(), formType, defs)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

// Fields GET /api/admin/fields/:formType
func (h *AdminHandler) Fields(c *gin.Context) {
	schema, err := h.fields.Active(c.Request.Context(), c.Param("formType"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{
		"formType": schema.FormType,
		"version":  schema.Version,
		"total":    schema.Total(),
		"fields":   schema.Fields,
	})
}
