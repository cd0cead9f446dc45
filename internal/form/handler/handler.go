package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/form/service"
	"github.com/bitfantasy/formflow/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Headers a browser tab sends so it can recognise its own operations.
const (
	HeaderClientID    = "X-Client-ID"
	HeaderOperationID = "X-Operation-ID"
)

// Handlers every HTTP handler of the service
type Handlers struct {
	Task       *TaskHandler
	Form       *FormHandler
	Submission *SubmissionHandler
	Company    *CompanyHandler
	Admin      *AdminHandler
	Realtime   *RealtimeHandler
	System     *SystemHandler
}

// Deps what NewHandlers wires the handlers from
type Deps struct {
	Services *service.Services
	Realtime *realtime.Server
	Metrics  *metrics.Metrics
	DB       *gorm.DB
	Version  string
	Logger   *zap.Logger
}

// NewHandlers creates the handler set
func NewHandlers(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	svc := d.Services
	return &Handlers{
		Task:       NewTaskHandler(svc.Task, svc.Response, svc.Review, svc.Access),
		Form:       NewFormHandler(svc.Response, svc.Clear, svc.Access),
		Submission: NewSubmissionHandler(svc.Submission, svc.Access),
		Company:    NewCompanyHandler(svc.Task, svc.Access),
		Admin:      NewAdminHandler(svc.Consistency, svc.Fields),
		Realtime:   NewRealtimeHandler(d.Realtime, d.Logger),
		System:     NewSystemHandler(d.DB, d.Metrics, d.Version),
	}
}

// Response common response envelope
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success success response
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error error response; the HTTP status is code/100
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest invalid parameter response
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Forbidden forbidden response
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound missing resource response
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError server error response
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// ErrorCode maps a service error to a response code.
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, service.ErrDuplicateOperation):
		return 42900
	case errors.Is(err, service.ErrSubmissionInProgress):
		return 40900
	case errors.Is(err, service.ErrForbidden):
		return 40300
	case errors.Is(err, service.ErrNotFound):
		return 40400
	case errors.Is(err, service.ErrArtifactGeneration):
		return 50200
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrTaskLocked):
		return 40900
	case errors.Is(err, service.ErrProgressIncomplete):
		return 40901
	case service.IsValidation(err), errors.Is(err, service.ErrInvalidFieldFile):
		return 40000
	}
	return 50000
}

// Fail writes err through ErrorCode. Persistence details are not echoed.
func Fail(c *gin.Context, err error) {
	code := ErrorCode(err)
	msg := err.Error()
	if code == 50000 {
		_ = c.Error(err)
		msg = "internal error"
	}
	Error(c, code, msg)
}

// GetUserID user id from the context
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetCompanyID company the caller is bound to, 0 when unscoped
func GetCompanyID(c *gin.Context) int64 {
	v, _ := c.Get("company_id")
	if id, ok := v.(int64); ok {
		return id
	}
	return 0
}

// pathID parses an int64 path param, writing a 400 when it is not one.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
