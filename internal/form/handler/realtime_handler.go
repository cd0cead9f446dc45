package handler

import (
	"errors"
	"net/http"

	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RealtimeHandler websocket and SSE endpoints
type RealtimeHandler struct {
	server *realtime.Server
	logger *zap.Logger
}

func NewRealtimeHandler(server *realtime.Server, logger *zap.Logger) *RealtimeHandler {
	return &RealtimeHandler{server: server, logger: logger}
}

func (h *RealtimeHandler) client(c *gin.Context) realtime.Client {
	return realtime.Client{UserID: GetUserID(c), CompanyID: GetCompanyID(c)}
}

// WebSocket GET /api/ws?token=&taskId=&companyId=
func (h *RealtimeHandler) WebSocket(c *gin.Context) {
	if h.server == nil {
		Error(c, 50300, "realtime disabled")
		return
	}
	// Upgrade failures have already been answered by the upgrader.
	if err := h.server.ServeWS(c.Writer, c.Request, h.client(c)); err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
	}
}

// Stream GET /api/sse/events?token=&taskId=&companyId=
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.server == nil {
		Error(c, 50300, "realtime disabled")
		return
	}
	if err := h.server.ServeSSE(c.Writer, c.Request, h.client(c)); err != nil {
		if errors.Is(err, realtime.ErrStreamingUnsupported) {
			Error(c, http.StatusNotImplemented*100, err.Error())
			return
		}
		h.logger.Warn("sse stream ended", zap.Error(err))
	}
}
