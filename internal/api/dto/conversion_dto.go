package dto

// UploadResponse is returned when a model is accepted for conversion.
type UploadResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// FailureDTO describes a failed job's error to pollers.
type FailureDTO struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// StatusResponse is one poll of a job's state.
type StatusResponse struct {
	JobID     string      `json:"job_id"`
	Status    string      `json:"status"`
	Progress  int         `json:"progress"`
	Log       []string    `json:"log"`
	Error     *FailureDTO `json:"error,omitempty"`
	HasResult bool        `json:"has_result"`
	CreatedAt string      `json:"created_at"`
}

// HealthResponse reports service liveness and registry load.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ActiveJobs  int    `json:"active_jobs"`
	TrackedJobs int    `json:"total_jobs"`
}
