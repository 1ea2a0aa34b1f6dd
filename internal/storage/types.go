package storage

import "time"

// JobStatus tracks a transcode job through its lifecycle. Transitions are
// Pending -> Processing on spawn, then Processing -> Completed or Failed.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// TranscodeJob is the durable record of one conversion request. Multiple jobs
// may share a BaseName (retries); the most recently created one is
// authoritative for that asset. The orchestrator is the sole writer of
// Status, Error, and UpdatedAt.
type TranscodeJob struct {
	ID              string    `json:"id"`
	SourcePath      string    `json:"sourcePath"`
	BaseName        string    `json:"baseName"`
	OutputDirectory string    `json:"outputDirectory"`
	ManifestPath    string    `json:"manifestPath"`
	Status          JobStatus `json:"status"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// JobUpdate carries a partial mutation of a job record. Nil fields are left
// untouched; UpdatedAt is always refreshed by the store.
type JobUpdate struct {
	Status *JobStatus
	Error  *string
}
