package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/report-queue/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "report-queue-api",
		})
	})

	queueHandler := handler.NewQueueHandler(deps)

	api := r.Group("/api")
	{
		reports := api.Group("/reports")
		{
			// POST /api/reports/enqueue - Submit a report execution job
			reports.POST("/enqueue", queueHandler.EnqueueReport)
		}

		queues := api.Group("/queues")
		{
			// GET /api/queues/main/messages - Inspect the main queue
			queues.GET("/main/messages", queueHandler.ListMainMessages)

			// GET /api/queues/error/messages - Inspect the error queue
			queues.GET("/error/messages", queueHandler.ListErrorMessages)

			// POST /api/queues/error/move/:message_id - Replay one message
			queues.POST("/error/move/:message_id", queueHandler.MoveErrorMessage)

			// POST /api/queues/error/move-all - Replay the whole error queue
			queues.POST("/error/move-all", queueHandler.MoveAllErrorMessages)
		}
	}

	return r
}
