package handler

import (
	"github.com/bitfantasy/formflow/internal/form/service"
	"github.com/gin-gonic/gin"
)

// SubmissionHandler final submission of a task
type SubmissionHandler struct {
	submission *service.SubmissionOrchestrator
	access     *service.AccessPolicy
}

func NewSubmissionHandler(submission *service.SubmissionOrchestrator, access *service.AccessPolicy) *SubmissionHandler {
	return &SubmissionHandler{submission: submission, access: access}
}

type submitRequest struct {
	TaskID   int64  `json:"taskId" binding:"required"`
	FormType string `json:"formType"`
}

// Submit POST /api/form-submission
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.submit(c, req.TaskID, req.FormType)
}

// SubmitForm POST /api/:formType/submit/:taskId
func (h *SubmissionHandler) SubmitForm(c *gin.Context) {
	taskID, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	h.submit(c, taskID, c.Param("formType"))
}

func (h *SubmissionHandler) submit(c *gin.Context, taskID int64, formType string) {
	if err := h.access.Task(c.Request.Context(), GetCompanyID(c), taskID); err != nil {
		Fail(c, err)
		return
	}
	res, err := h.submission.Submit(c.Request.Context(), service.SubmitRequest{
		TaskID:   taskID,
		FormType: formType,
		UserID:   GetUserID(c),
		ClientID: c.GetHeader(HeaderClientID),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}
