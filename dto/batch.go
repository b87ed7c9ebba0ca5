package dto

import "imageConverter/models"

// FileRejection explains why one uploaded file was refused admission.
type FileRejection struct {
	FileName string `json:"file_name"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

// BatchRejectionResponse is returned when no file in a batch passed
// admission: the per-file reasons accompany the top-level error.
type BatchRejectionResponse struct {
	Error         string          `json:"error"`
	Code          string          `json:"code"`
	TraceID       string          `json:"trace_id,omitempty"`
	RejectedFiles []FileRejection `json:"rejected_files"`
}

// BatchStartResponse is returned when a batch has been accepted.
type BatchStartResponse struct {
	QueueID       string          `json:"queue_id"`
	TotalFiles    int             `json:"total_files"`
	Status        string          `json:"status"`
	Message       string          `json:"message"`
	RejectedFiles []FileRejection `json:"rejected_files,omitempty"`
}

type BatchCancelResponse struct {
	QueueID string `json:"queue_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BatchStatistics aggregates registry-wide totals for the status endpoint.
type BatchStatistics struct {
	TotalQueues     int `json:"total_queues"`
	ActiveQueues    int `json:"active_queues"`
	CompletedQueues int `json:"completed_queues"`
	CancelledQueues int `json:"cancelled_queues"`
	ErrorQueues     int `json:"error_queues"`
	TotalFiles      int `json:"total_files"`
	CompletedFiles  int `json:"completed_files"`
	MaxConcurrent   int `json:"max_concurrent"`
	MaxQueueSize    int `json:"max_queue_size"`
}

type BatchStatusResponse struct {
	ActiveTasks []string                    `json:"active_tasks"`
	AllQueues   map[string]models.QueueInfo `json:"all_queues"`
	Statistics  BatchStatistics             `json:"statistics"`
	Timestamp   float64                     `json:"timestamp"`
}

type BatchCleanupRequest struct {
	MaxAgeHours *float64 `json:"max_age_hours"`
}

type BatchCleanupResponse struct {
	CleanedTasks    int    `json:"cleaned_tasks"`
	CleanedQueues   int    `json:"cleaned_queues"`
	CleanedTracking int    `json:"cleaned_tracking"`
	Message         string `json:"message"`
}

type CacheClearResponse struct {
	EntriesRemoved int     `json:"entries_removed"`
	SpaceFreedMB   float64 `json:"space_freed_mb"`
}
