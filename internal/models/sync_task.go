package models

import "time"

// Task types handled by the background worker.
const (
	TaskNotifyStatus = "notify_status"
	TaskSheetUpsert  = "sheet_upsert"
	TaskSheetStatus  = "sheet_status"
)

// Queue states of a persisted task.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// SyncTask is a persisted background job: a customer notification or a
// spreadsheet sync for one booking.
type SyncTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}
