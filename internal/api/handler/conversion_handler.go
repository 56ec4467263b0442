package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mdlforge/conversiond/internal/api/dto"
	"github.com/mdlforge/conversiond/internal/job"
	"github.com/mdlforge/conversiond/internal/scheduler"
	"github.com/mdlforge/conversiond/internal/upload"
)

const (
	defaultScale      = 1.0
	maxScale          = 100.0
	defaultBodygroup  = "default"
	maxBodygroupChars = 32
)

// Upload handles POST /upload
// Accepts an FBX model and enqueues a conversion job
func (h *ConversionHandler) Upload(c *gin.Context) {
	clientKey := c.ClientIP()

	if !h.limiter.Allow(clientKey) {
		h.logger.Warn("Upload rejected - rate limit exceeded",
			slog.String("client", clientKey),
		)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded, try again later",
		})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "multipart field 'file' is required",
		})
		return
	}
	defer file.Close()

	opts, err := parseOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	// Read at most one byte over the cap so oversized bodies are rejected
	// without buffering them whole.
	data, err := io.ReadAll(io.LimitReader(file, h.validator.MaxSize+1))
	if err != nil {
		h.logger.Error("Failed to read upload body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read uploaded file",
		})
		return
	}

	if err := h.validator.Validate(data, header.Filename); err != nil {
		h.logger.Info("Upload rejected - validation failed",
			slog.String("client", clientKey),
			slog.String("filename", header.Filename),
			slog.String("reason", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	jobID := uuid.New().String()
	workDir := filepath.Join(h.workRoot, jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		h.logger.Error("Failed to create working directory",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to prepare job storage",
		})
		return
	}

	inputPath := filepath.Join(workDir, jobID+"_"+upload.SanitizeFilename(header.Filename))
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		h.logger.Error("Failed to store uploaded file",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		os.RemoveAll(workDir)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to store uploaded file",
		})
		return
	}

	h.registry.Create(jobID, opts, inputPath, workDir)

	if err := h.scheduler.Submit(jobID); err != nil {
		// Capacity rejection must leave no trace: the record and the stored
		// upload are unwound before responding.
		h.registry.Remove(jobID)
		os.RemoveAll(workDir)

		if errors.Is(err, scheduler.ErrQueueFull) {
			h.logger.Warn("Upload rejected - queue full",
				slog.String("client", clientKey),
			)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "conversion queue is full, try again later",
			})
			return
		}
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to enqueue job",
		})
		return
	}

	h.logger.Info("Upload accepted",
		slog.String("job_id", jobID),
		slog.String("client", clientKey),
		slog.String("filename", header.Filename),
		slog.Int("size", len(data)),
	)

	c.JSON(http.StatusAccepted, dto.UploadResponse{
		JobID:   jobID,
		Status:  string(job.StatusQueued),
		Message: "model accepted for conversion",
	})
}

// parseOptions reads and bounds the optional form parameters.
func parseOptions(c *gin.Context) (job.Options, error) {
	opts := job.Options{Scale: defaultScale, BodygroupName: defaultBodygroup}

	if raw := c.PostForm("scale"); raw != "" {
		scale, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return job.Options{}, fmt.Errorf("scale must be a number, got %q", raw)
		}
		if scale <= 0 || scale > maxScale {
			return job.Options{}, fmt.Errorf("scale must be greater than 0 and at most %g", maxScale)
		}
		opts.Scale = scale
	}

	if raw := c.PostForm("bodygroup_name"); raw != "" {
		name := strings.TrimSpace(raw)
		if len(name) > maxBodygroupChars {
			return job.Options{}, fmt.Errorf("bodygroup_name must be at most %d characters", maxBodygroupChars)
		}
		opts.BodygroupName = name
	}

	return opts, nil
}

// Status handles GET /status/:job_id
// Returns the current state of a conversion job for polling
func (h *ConversionHandler) Status(c *gin.Context) {
	jobID := c.Param("job_id")

	j, err := h.registry.Get(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}

	resp := dto.StatusResponse{
		JobID:     j.ID,
		Status:    string(j.Status),
		Progress:  j.Progress,
		Log:       j.LogTail(h.logTail),
		HasResult: j.HasResult(),
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
	}
	if resp.Log == nil {
		resp.Log = []string{}
	}
	if j.Err != nil {
		resp.Error = &dto.FailureDTO{
			Kind:    j.Err.Kind,
			Stage:   j.Err.Stage,
			Message: j.Err.Message,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Download handles GET /download/:job_id
// Streams the result bundle of a completed job
func (h *ConversionHandler) Download(c *gin.Context) {
	jobID := c.Param("job_id")

	j, err := h.registry.Get(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}

	if !j.HasResult() {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "job has no downloadable result",
			"status": string(j.Status),
		})
		return
	}

	h.logger.Info("Bundle download",
		slog.String("job_id", jobID),
	)
	c.FileAttachment(j.BundlePath, "converted_model_"+jobID+".zip")
}

// Cancel handles POST /cancel/:job_id
// Cancels a queued or processing job
func (h *ConversionHandler) Cancel(c *gin.Context) {
	jobID := c.Param("job_id")

	err := h.registry.Cancel(jobID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"job_id": jobID,
			"status": string(job.StatusCancelled),
		})
	case errors.Is(err, job.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
	default:
		c.JSON(http.StatusConflict, gin.H{
			"error": "job is already finished",
		})
	}
}

// Health handles GET /health
// Reports liveness and current registry load
func (h *ConversionHandler) Health(c *gin.Context) {
	active, total := h.registry.Counts()
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:      "healthy",
		Service:     "conversiond",
		ActiveJobs:  active,
		TrackedJobs: total,
	})
}
