package handler

import (
	"strconv"
	"strings"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/form/service"
	"github.com/gin-gonic/gin"
)

// TaskHandler task read side, review and recompute
type TaskHandler struct {
	tasks    *service.TaskService
	response *service.ResponseService
	review   *service.ReviewService
	access   *service.AccessPolicy
}

func NewTaskHandler(tasks *service.TaskService, response *service.ResponseService, review *service.ReviewService, access *service.AccessPolicy) *TaskHandler {
	return &TaskHandler{tasks: tasks, response: response, review: review, access: access}
}

// taskID parses :taskId and checks the caller may see the task.
func (h *TaskHandler) taskID(c *gin.Context) (int64, bool) {
	id, ok := pathID(c, "taskId")
	if !ok {
		return 0, false
	}
	if err := h.access.Task(c.Request.Context(), GetCompanyID(c), id); err != nil {
		Fail(c, err)
		return 0, false
	}
	return id, true
}

// List GET /api/tasks?companyId=&taskType=&status=
func (h *TaskHandler) List(c *gin.Context) {
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
	if own := GetCompanyID(c); own != 0 {
		if filter.CompanyID != 0 && filter.CompanyID != own {
			Fail(c, service.ErrForbidden)
			return
		}
		filter.CompanyID = own
	}
	tasks, err := h.tasks.List(c.Request.Context(), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": tasks, "total": len(tasks)})
}

// Get GET /api/tasks/:taskId
func (h *TaskHandler) Get(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, task)
}

// Progress GET /api/tasks/:taskId/progress
func (h *TaskHandler) Progress(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	task, p, err := h.tasks.Progress(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{
		"taskId":         task.ID,
		"status":         task.Status,
		"storedProgress": task.Progress,
		"progress":       p.Progress,
		"completedCount": p.CompletedCount,
		"totalCount":     p.TotalCount,
	})
}

// Responses GET /api/tasks/:taskId/responses
func (h *TaskHandler) Responses(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	rows, err := h.tasks.Responses(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

// History GET /api/tasks/:taskId/history
func (h *TaskHandler) History(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	logs, err := h.tasks.History(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": logs})
}

// Recompute POST /api/tasks/:taskId/recompute
func (h *TaskHandler) Recompute(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	res, err := h.response.Recompute(c.Request.Context(), id, GetUserID(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

type reviewRequest struct {
	Decision string `json:"decision" binding:"required"`
	Comment  string `json:"comment"`
}

// Review POST /api/tasks/:taskId/review
func (h *TaskHandler) Review(c *gin.Context) {
	id, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	task, tr, err := h.review.Review(c.Request.Context(), service.ReviewRequest{
		TaskID:     id,
		Decision:   strings.TrimSpace(req.Decision),
		Comment:    req.Comment,
		ReviewerID: GetUserID(c),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"task": task, "transition": tr})
}
