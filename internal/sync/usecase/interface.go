package usecase

import (
	"context"

	providerdomain "fintrack-backend/internal/provider/domain"
	syncdomain "fintrack-backend/internal/sync/domain"
	syncdto "fintrack-backend/internal/sync/dto"
)

// SyncUsecase drives email receipt synchronization jobs
type SyncUsecase interface {
	// StartSync validates the request, creates a pending job and launches it
	// in the background. It never waits for completion.
	StartSync(ctx context.Context, userID string, req *syncdto.StartSyncRequest) (*syncdomain.SyncJob, error)
	GetJob(userID, jobID string) (*syncdomain.SyncJob, error)
	// CancelJob sets the cooperative cancel flag; the job reaches a terminal
	// state at its next message boundary, not immediately. A job with no
	// runner in this process is finished as cancelled right away.
	CancelJob(userID, jobID string) (*syncdomain.SyncJob, error)
	ListJobs(userID, providerID string) ([]*syncdomain.SyncJob, error)
	// RecoverInterrupted fails every job a previous process left non-terminal.
	// Called once at startup, before any new job can start.
	RecoverInterrupted() (int64, error)
}

// TokenSource yields usable tokens for a provider, refreshing when needed.
// Satisfied by the provider token manager.
type TokenSource interface {
	EnsureValid(ctx context.Context, provider *providerdomain.EmailProvider) (providerdomain.TokenBundle, error)
}
