package router

import (
	"github.com/gin-gonic/gin"

	"github.com/mdlforge/conversiond/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	conversionHandler := handler.NewConversionHandler(deps)

	// GET /health - liveness and registry load
	r.GET("/health", conversionHandler.Health)

	// POST /upload - submit an FBX model for conversion
	r.POST("/upload", conversionHandler.Upload)

	// GET /status/:job_id - poll a job's state
	r.GET("/status/:job_id", conversionHandler.Status)

	// GET /download/:job_id - fetch the result bundle
	r.GET("/download/:job_id", conversionHandler.Download)

	// POST /cancel/:job_id - cancel a queued or processing job
	r.POST("/cancel/:job_id", conversionHandler.Cancel)

	return r
}
