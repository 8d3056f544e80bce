package repository

import (
	"time"

	syncdomain "fintrack-backend/internal/sync/domain"
)

// JobRepository defines the interface for sync job persistence. Status
// mutations are guarded so a terminal job never re-enters processing.
type JobRepository interface {
	Create(job *syncdomain.SyncJob) error
	FindByID(id string) (*syncdomain.SyncJob, error)
	// FindByProviderID returns jobs most-recent-first
	FindByProviderID(providerID string) ([]*syncdomain.SyncJob, error)
	// FindByUserID returns the user's jobs most-recent-first
	FindByUserID(userID string) ([]*syncdomain.SyncJob, error)
	// HasActiveJob reports whether the provider has a non-terminal job
	HasActiveJob(providerID string) (bool, error)
	// MarkProcessing moves pending -> processing and stamps started-at
	MarkProcessing(id string, startedAt time.Time) error
	// UpdateCounters persists running progress on a processing job
	UpdateCounters(id string, found, processed, ingested int) error
	// RequestCancel sets the cooperative cancel flag on a non-terminal job
	RequestCancel(id string) error
	// Finish moves processing -> terminal status exactly once
	Finish(id string, status syncdomain.JobStatus, errorMessage string, completedAt time.Time) error
	// RequestCancelForProvider flags every non-terminal job of a provider
	RequestCancelForProvider(providerID string) error
	// FailInterrupted sweeps every non-terminal job to failed. A job left
	// pending or processing by a dead process has no runner to finish it.
	FailInterrupted(errorMessage string, completedAt time.Time) (int64, error)
	DeleteByProviderID(providerID string) error
}
