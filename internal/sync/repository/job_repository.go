package repository

import (
	"errors"
	"time"

	syncdomain "fintrack-backend/internal/sync/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// jobRepository implements JobRepository interface
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new instance of jobRepository
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{
		db: db,
	}
}

func (r *jobRepository) Create(job *syncdomain.SyncJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = syncdomain.JobStatusPending
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	return r.db.Create(job).Error
}

func (r *jobRepository) FindByID(id string) (*syncdomain.SyncJob, error) {
	var job syncdomain.SyncJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) FindByProviderID(providerID string) ([]*syncdomain.SyncJob, error) {
	var jobs []*syncdomain.SyncJob
	err := r.db.Where("provider_id = ?", providerID).Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) FindByUserID(userID string) ([]*syncdomain.SyncJob, error) {
	var jobs []*syncdomain.SyncJob
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) HasActiveJob(providerID string) (bool, error) {
	var count int64
	err := r.db.Model(&syncdomain.SyncJob{}).
		Where("provider_id = ? AND status IN ?", providerID, []syncdomain.JobStatus{syncdomain.JobStatusPending, syncdomain.JobStatusProcessing}).
		Count(&count).Error
	return count > 0, err
}

func (r *jobRepository) MarkProcessing(id string, startedAt time.Time) error {
	result := r.db.Model(&syncdomain.SyncJob{}).
		Where("id = ? AND status = ?", id, syncdomain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     syncdomain.JobStatusProcessing,
			"started_at": startedAt,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("job is not pending")
	}
	return nil
}

func (r *jobRepository) UpdateCounters(id string, found, processed, ingested int) error {
	return r.db.Model(&syncdomain.SyncJob{}).
		Where("id = ? AND status = ?", id, syncdomain.JobStatusProcessing).
		Updates(map[string]interface{}{
			"messages_found":     found,
			"messages_processed": processed,
			"receipts_found":     ingested,
			"updated_at":         time.Now(),
		}).Error
}

func (r *jobRepository) RequestCancel(id string) error {
	return r.db.Model(&syncdomain.SyncJob{}).
		Where("id = ? AND status IN ?", id, []syncdomain.JobStatus{syncdomain.JobStatusPending, syncdomain.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       time.Now(),
		}).Error
}

func (r *jobRepository) Finish(id string, status syncdomain.JobStatus, errorMessage string, completedAt time.Time) error {
	if !status.Terminal() {
		return errors.New("finish requires a terminal status")
	}
	result := r.db.Model(&syncdomain.SyncJob{}).
		Where("id = ? AND status IN ?", id, []syncdomain.JobStatus{syncdomain.JobStatusPending, syncdomain.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errorMessage,
			"completed_at":  completedAt,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("job already terminal")
	}
	return nil
}

func (r *jobRepository) RequestCancelForProvider(providerID string) error {
	return r.db.Model(&syncdomain.SyncJob{}).
		Where("provider_id = ? AND status IN ?", providerID, []syncdomain.JobStatus{syncdomain.JobStatusPending, syncdomain.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       time.Now(),
		}).Error
}

func (r *jobRepository) FailInterrupted(errorMessage string, completedAt time.Time) (int64, error) {
	result := r.db.Model(&syncdomain.SyncJob{}).
		Where("status IN ?", []syncdomain.JobStatus{syncdomain.JobStatusPending, syncdomain.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":        syncdomain.JobStatusFailed,
			"error_message": errorMessage,
			"completed_at":  completedAt,
			"updated_at":    time.Now(),
		})
	return result.RowsAffected, result.Error
}

func (r *jobRepository) DeleteByProviderID(providerID string) error {
	return r.db.Delete(&syncdomain.SyncJob{}, "provider_id = ?", providerID).Error
}
