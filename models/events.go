package models

type EventType string

const (
	EventBatchStarted   EventType = "batch_started"
	EventBatchProgress  EventType = "batch_progress"
	EventFileProcessed  EventType = "file_processed"
	EventBatchCompleted EventType = "batch_completed"
	EventBatchCancelled EventType = "batch_cancelled"
	EventBatchError     EventType = "batch_error"
)

// Terminal reports whether the event closes its job's stream. Terminal
// events are never dropped by subscription buffers.
func (t EventType) Terminal() bool {
	return t == EventBatchCompleted || t == EventBatchCancelled || t == EventBatchError
}

// FileProcessedPayload accompanies a file_processed event.
type FileProcessedPayload struct {
	QueueID  string       `json:"queue_id"`
	TaskID   int          `json:"task_id"`
	FileName string       `json:"file_name"`
	State    TaskState    `json:"state"`
	Outcome  *TaskOutcome `json:"outcome,omitempty"`
	Error    *TaskError   `json:"error,omitempty"`
}

// Event is one published progress notification. Data is a JobSnapshot for
// batch-level events and a FileProcessedPayload for per-file events.
type Event struct {
	Type       EventType   `json:"event"`
	QueueID    string      `json:"queue_id"`
	Data       interface{} `json:"data"`
	EventsLost bool        `json:"events_lost,omitempty"`
	Timestamp  float64     `json:"timestamp"`
}
