package dto

import (
	"time"

	syncdomain "fintrack-backend/internal/sync/domain"
)

type StartSyncRequest struct {
	ProviderID     string     `json:"provider_id" binding:"required"`
	DateRangeStart *time.Time `json:"date_range_start"`
	DateRangeEnd   *time.Time `json:"date_range_end"`
	Limit          int        `json:"limit"`
}

type JobsResponse struct {
	Jobs []*syncdomain.SyncJob `json:"jobs"`
}
