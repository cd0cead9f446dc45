package handler

import (
	"net/http"

	"github.com/bitfantasy/formflow/internal/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts every endpoint on r.
func RegisterRoutes(r *gin.Engine, h *Handlers, jwtSecret string) {
	r.GET("/health/live", h.System.Live)
	r.GET("/health/ready", h.System.Ready)
	r.GET("/version", h.System.Version)
	r.GET("/metrics", h.System.Metrics)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "Not found"})
	})

	api := r.Group("/api")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		api.GET("/ws", h.Realtime.WebSocket)
		api.GET("/sse/events", h.Realtime.Stream)

		tasks := api.Group("/tasks")
		{
			tasks.GET("", h.Task.List)
			tasks.GET("/:taskId", h.Task.Get)
			tasks.GET("/:taskId/progress", h.Task.Progress)
			tasks.GET("/:taskId/responses", h.Task.Responses)
			tasks.GET("/:taskId/history", h.Task.History)
			tasks.POST("/:taskId/recompute", h.Task.Recompute)
			tasks.POST("/:taskId/review", middleware.RequireRole(middleware.RoleReviewer), h.Task.Review)
		}

		api.GET("/companies/:companyId/tabs", h.Company.Tabs)
		api.POST("/form-submission", h.Submission.Submit)

		admin := api.Group("/admin")
		admin.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			admin.GET("/consistency", h.Admin.Consistency)
			admin.POST("/consistency/repair", h.Admin.RepairAll)
			admin.POST("/consistency/:taskId/repair", h.Admin.Repair)
			admin.GET("/fields/:formType", h.Admin.Fields)
			admin.POST("/fields/:formType", h.Admin.ImportFields)
		}

		form := api.Group("/:formType")
		{
			form.PUT("/responses/:taskId", h.Form.SaveResponses)
			form.POST("/clear-fields/:taskId", h.Form.ClearFields)
			form.POST("/submit/:taskId", h.Submission.SubmitForm)
		}
	}
}
