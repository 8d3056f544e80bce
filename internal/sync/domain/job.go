package domain

import "time"

// JobStatus is the lifecycle state of a sync job. Transitions only move
// forward: pending -> processing -> completed | failed | cancelled.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// SyncJob is one execution attempt of mailbox synchronization for a
// provider. The engine never deletes job rows; retention is external.
type SyncJob struct {
	ID                string     `json:"id" gorm:"primaryKey"`
	ProviderID        string     `json:"provider_id" gorm:"index;not null"`
	UserID            string     `json:"user_id" gorm:"index;not null"`
	Status            JobStatus  `json:"status" gorm:"index;default:pending"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	MessagesFound     int        `json:"messages_found"`
	MessagesProcessed int        `json:"messages_processed"`
	ReceiptsFound     int        `json:"receipts_found"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CancelRequested   bool       `json:"cancel_requested" gorm:"default:false"`
	DateRangeStart    *time.Time `json:"date_range_start,omitempty"`
	DateRangeEnd      *time.Time `json:"date_range_end,omitempty"`
	MessageLimit      int        `json:"message_limit"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_jobs"
}
