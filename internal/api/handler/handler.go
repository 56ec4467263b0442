package handler

import (
	"log/slog"

	"github.com/mdlforge/conversiond/internal/job"
	"github.com/mdlforge/conversiond/internal/ratelimit"
	"github.com/mdlforge/conversiond/internal/upload"
)

// Submitter enqueues an accepted job for execution.
type Submitter interface {
	Submit(id string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Registry  *job.Registry
	Scheduler Submitter
	Limiter   *ratelimit.Limiter
	Validator *upload.Validator
	WorkRoot  string
	LogTail   int
}

// ConversionHandler handles conversion-related HTTP requests
type ConversionHandler struct {
	logger    *slog.Logger
	registry  *job.Registry
	scheduler Submitter
	limiter   *ratelimit.Limiter
	validator *upload.Validator
	workRoot  string
	logTail   int
}

// NewConversionHandler creates a new ConversionHandler instance
func NewConversionHandler(deps *Dependencies) *ConversionHandler {
	return &ConversionHandler{
		logger:    deps.Logger,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		limiter:   deps.Limiter,
		validator: deps.Validator,
		workRoot:  deps.WorkRoot,
		logTail:   deps.LogTail,
	}
}
