package handler

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/service"
	"github.com/gin-gonic/gin"
)

// FormHandler field saves and clear-fields
type FormHandler struct {
	response *service.ResponseService
	clear    *service.ClearFieldsService
	access   *service.AccessPolicy
}

func NewFormHandler(response *service.ResponseService, clear *service.ClearFieldsService, access *service.AccessPolicy) *FormHandler {
	return &FormHandler{response: response, clear: clear, access: access}
}

// fieldRef accepts "field_key", "12" or 12.
type fieldRef struct {
	entity.FieldRef
}

func (r *fieldRef) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		if n <= 0 {
			return fmt.Errorf("field id %d", n)
		}
		r.FieldRef = entity.FieldIDRef(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("field must be a key or a numeric id")
	}
	r.FieldRef = entity.ParseFieldRef(s)
	return nil
}

type responseItem struct {
	Field    fieldRef `json:"field"`
	FieldKey string   `json:"fieldKey"`
	FieldID  int64    `json:"fieldId"`
	Value    string   `json:"value"`
	Complete *bool    `json:"complete"`
}

func (i responseItem) ref() entity.FieldRef {
	switch {
	case !i.Field.IsZero():
		return i.Field.FieldRef
	case i.FieldKey != "":
		return entity.FieldKeyRef(i.FieldKey)
	default:
		return entity.FieldIDRef(i.FieldID)
	}
}

type saveResponsesRequest struct {
	Responses   []responseItem `json:"responses" binding:"required"`
	OperationID string         `json:"operationId"`
}

// SaveResponses PUT /api/:formType/responses/:taskId
func (h *FormHandler) SaveResponses(c *gin.Context) {
	taskID, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	var req saveResponsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.access.Task(c.Request.Context(), GetCompanyID(c), taskID); err != nil {
		Fail(c, err)
		return
	}

	inputs := make([]service.ResponseInput, len(req.Responses))
	for i, item := range req.Responses {
		inputs[i] = service.ResponseInput{Ref: item.ref(), Value: item.Value, Complete: item.Complete}
	}
	opID := req.OperationID
	if opID == "" {
		opID = c.GetHeader(HeaderOperationID)
	}
	res, err := h.response.Save(c.Request.Context(), service.SaveRequest{
		TaskID:      taskID,
		FormType:    c.Param("formType"),
		Responses:   inputs,
		UserID:      GetUserID(c),
		OperationID: opID,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{
		"taskId":         res.Task.ID,
		"status":         res.Task.Status,
		"progress":       res.Progress.Progress,
		"completedCount": res.Progress.CompletedCount,
		"totalCount":     res.Progress.TotalCount,
		"saved":          res.Saved,
	})
}

type clearFieldsRequest struct {
	PreserveProgress *bool  `json:"preserveProgress"`
	OperationID      string `json:"operationId"`
}

// ClearFields POST /api/:formType/clear-fields/:taskId?preserveProgress=bool
func (h *FormHandler) ClearFields(c *gin.Context) {
	taskID, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	var req clearFieldsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	preserve := false
	if req.PreserveProgress != nil {
		preserve = *req.PreserveProgress
	}
	if v := c.Query("preserveProgress"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(c, "invalid preserveProgress")
			return
		}
		preserve = b
	}
	if err := h.access.Task(c.Request.Context(), GetCompanyID(c), taskID); err != nil {
		Fail(c, err)
		return
	}

	opID := req.OperationID
	if opID == "" {
		opID = c.GetHeader(HeaderOperationID)
	}
	res, err := h.clear.Clear(c.Request.Context(), service.ClearRequest{
		TaskID:           taskID,
		TaskType:         c.Param("formType"),
		PreserveProgress: preserve,
		OperationID:      opID,
		ClientID:         c.GetHeader(HeaderClientID),
		UserID:           GetUserID(c),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	data := gin.H{
		"taskId":           res.TaskID,
		"formType":         res.FormType,
		"deleted":          res.Deleted,
		"preserveProgress": res.PreserveProgress,
		"operationId":      res.OperationID,
		"status":           res.Task.Status,
		"progress":         res.Task.Progress,
	}
	Success(c, data)
}
