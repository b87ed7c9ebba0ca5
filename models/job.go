package models

import (
	"time"
)

type JobStatus string

// Job states on the wire match the progress API: a job is created pending,
// moves to processing once submitted, and ends in exactly one of the three
// terminal states.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
	JobError      JobStatus = "error"
)

// Terminal reports whether no further job transitions may occur.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobError
}

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskSkipped   TaskState = "skipped_cancelled"
)

func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskSkipped
}

// TaskOutcome records what a successful conversion produced. The artifact
// itself lives in the cache under the task fingerprint.
type TaskOutcome struct {
	Format         string  `json:"format"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	FileSize       int     `json:"file_size"`
	ProcessingTime float64 `json:"processing_time"`
}

// TaskError is the recorded failure of one task. Per-file errors never
// abort the job.
type TaskError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FileTask is one unit of work within a job.
type FileTask struct {
	ID          int
	FileName    string
	SourcePath  string // set when the upload was spooled to disk
	Data        []byte // set when the upload fits in memory
	Fingerprint string
	State       TaskState
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcome     *TaskOutcome
	Err         *TaskError
}

// Counters are derived from task states and kept consistent under the
// job lock: Completed == Succeeded + Failed + Skipped at all times.
type Counters struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Job is the canonical record of a batch. The registry exclusively owns
// Job instances; everything outside the registry sees snapshots.
type Job struct {
	ID         string
	Options    ProcessingOptions
	Tasks      []*FileTask
	Status     JobStatus
	Cancelled  bool
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Counters   Counters
}

// FailedFileDetail appears in terminal snapshots for each failed task.
type FailedFileDetail struct {
	FilePath string `json:"file_path"`
	Error    string `json:"error"`
}

// SuccessfulResult appears in terminal snapshots for each succeeded task.
type SuccessfulResult struct {
	FilePath       string  `json:"file_path"`
	Format         string  `json:"format"`
	Size           [2]int  `json:"size"`
	FileSize       int     `json:"file_size"`
	ProcessingTime float64 `json:"processing_time"`
}

// JobSnapshot is the read-only projection served by the progress API and
// carried in progress events. Field names are load-bearing for client
// compatibility.
type JobSnapshot struct {
	QueueID                string    `json:"queue_id"`
	TotalFiles             int       `json:"total_files"`
	CompletedFiles         int       `json:"completed_files"`
	CurrentFile            string    `json:"current_file"`
	EstimatedTimeRemaining float64   `json:"estimated_time_remaining"`
	Status                 JobStatus `json:"status"`
	ErrorCount             int       `json:"error_count"`
	StartTime              float64   `json:"start_time"`
	CurrentFileProgress    float64   `json:"current_file_progress"`
	ProgressPercentage     float64   `json:"progress_percentage"`
	SuccessRate            float64   `json:"success_rate"`

	// Populated only once the job is terminal.
	SuccessfulFiles       *int               `json:"successful_files,omitempty"`
	FailedFiles           *int               `json:"failed_files,omitempty"`
	SkippedFiles          *int               `json:"skipped_files,omitempty"`
	AverageProcessingTime *float64           `json:"average_processing_time,omitempty"`
	TotalProcessingTime   *float64           `json:"total_processing_time,omitempty"`
	SuccessfulResults     []SuccessfulResult `json:"successful_results,omitempty"`
	FailedFileDetails     []FailedFileDetail `json:"failed_file_details,omitempty"`
}

// QueueInfo is the per-queue block of the batch status endpoint.
type QueueInfo struct {
	QueueID         string    `json:"queue_id"`
	Status          JobStatus `json:"status"`
	TotalFiles      int       `json:"total_files"`
	PendingFiles    int       `json:"pending_files"`
	ProcessingFiles int       `json:"processing_files"`
	CompletedFiles  int       `json:"completed_files"`
	ErrorFiles      int       `json:"error_files"`
	CreatedTime     float64   `json:"created_time"`
	StartedTime     float64   `json:"started_time"`
	CompletedTime   float64   `json:"completed_time"`
	Cancelled       bool      `json:"cancelled"`
}

// UnixSeconds converts a wall-clock time to the float seconds the wire
// format uses; the zero time maps to 0.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
