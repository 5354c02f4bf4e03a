package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jobflow-dev/jobflow-be/internal/api/handler"
)

// Config holds router-level settings on top of the handler dependencies.
type Config struct {
	Handler       *handler.Dependencies
	CallbackToken string
	HealthCheck   func(c *gin.Context)
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(cfg *Config) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(cfg.Handler.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	if cfg.HealthCheck != nil {
		r.GET("/health", cfg.HealthCheck)
	} else {
		r.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "healthy",
				"service": "job-api-service",
			})
		})
	}

	jobHandler := handler.NewJobHandler(cfg.Handler)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")

		// The callback route is authenticated by the dispatcher channel, not
		// by an end-user identity.
		jobs.POST("/:job_id/process", CallbackAuthMiddleware(cfg.CallbackToken), jobHandler.ProcessJob)

		owned := jobs.Group("", RequireUserMiddleware())
		{
			owned.POST("", jobHandler.CreateJob)
			owned.GET("", jobHandler.ListJobs)
			owned.GET("/stats", jobHandler.JobStats)
			owned.GET("/:job_id", jobHandler.GetJob)
			owned.PATCH("/:job_id", jobHandler.UpdateJob)
			owned.POST("/:job_id/cancel", jobHandler.CancelJob)
			owned.DELETE("/:job_id", jobHandler.DeleteJob)
		}
	}

	return r
}
