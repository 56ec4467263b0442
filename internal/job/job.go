package job

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a conversion job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs never change
// status, progress, or error again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions is the complete set of legal status edges. Anything not listed
// here is an internal consistency error.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether the edge s -> to is legal.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned when a job id is unknown to the registry.
	ErrNotFound = errors.New("job not found")

	// ErrIllegalTransition is returned on a status edge outside the state
	// machine. It fails the affected job only, never the process.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrAlreadyTerminal is returned when mutating a job that has already
	// reached a terminal status.
	ErrAlreadyTerminal = errors.New("job already in terminal status")

	// ErrProgressRegression is returned when a progress update would move
	// the value backwards.
	ErrProgressRegression = errors.New("progress regression rejected")
)

// Failure kinds stored in a failed job's error field.
const (
	FailureStage     = "stage_failure"
	FailureTimeout   = "stage_timeout"
	FailurePackaging = "packaging_error"
	FailureInternal  = "internal_error"
)

// Failure describes why a job reached the failed status.
type Failure struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// Options is the immutable snapshot of submission parameters. Validated at
// creation, never mutated afterwards.
type Options struct {
	Scale         float64
	BodygroupName string
}

// Job is one tracked conversion. Values handed out by the registry are
// snapshots; mutating them has no effect on the registry's record.
type Job struct {
	ID          string
	Status      Status
	Progress    int
	Log         []string
	Err         *Failure
	Options     Options
	InputPath   string
	OutputPaths []string
	BundlePath  string
	WorkDir     string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// HasResult reports whether a downloadable bundle exists for the job.
func (j Job) HasResult() bool {
	return j.Status == StatusCompleted && j.BundlePath != ""
}

// LogTail returns at most n trailing log lines.
func (j Job) LogTail(n int) []string {
	if n <= 0 || len(j.Log) <= n {
		return j.Log
	}
	return j.Log[len(j.Log)-n:]
}
