package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	providerdomain "fintrack-backend/internal/provider/domain"
	providerrepo "fintrack-backend/internal/provider/repository"
	receiptusecase "fintrack-backend/internal/receipt/usecase"
	syncdomain "fintrack-backend/internal/sync/domain"
	syncdto "fintrack-backend/internal/sync/dto"
	"fintrack-backend/internal/sync/repository"
	"fintrack-backend/pkg/ai"
	"fintrack-backend/pkg/htmltext"
)

var (
	ErrInvalidDateRange = errors.New("date_range_end must not precede date_range_start")
	ErrSyncInProgress   = errors.New("a sync is already running for this provider")
	ErrProviderNotFound = errors.New("provider not found")
	ErrJobNotFound      = errors.New("job not found")
)

const (
	// providerRetryBudget bounds retries of search/fetch calls that fail
	// with a transient provider error before the job fails.
	providerRetryBudget = 3

	// attachmentRetryThreshold: a non-receipt verdict below this confidence
	// triggers a second classification pass with attachment text included.
	attachmentRetryThreshold = 0.5
)

// syncUsecase implements SyncUsecase. One goroutine per job; independent
// jobs share nothing beyond their own row and the provider token bundle.
type syncUsecase struct {
	jobRepo      repository.JobRepository
	providerRepo providerrepo.ProviderRepository
	registry     *providerdomain.Registry
	tokens       TokenSource
	extractor    ai.ExtractorService
	ingester     receiptusecase.IngestService

	extractTimeout time.Duration
	retryDelay     time.Duration

	// running guards one active job per provider within this process; the
	// job table guards across processes.
	running   map[string]struct{}
	runningMu sync.Mutex
}

// NewSyncUsecase creates a new instance of syncUsecase
func NewSyncUsecase(
	jobRepo repository.JobRepository,
	providerRepo providerrepo.ProviderRepository,
	registry *providerdomain.Registry,
	tokens TokenSource,
	extractor ai.ExtractorService,
	ingester receiptusecase.IngestService,
	extractTimeout time.Duration,
) SyncUsecase {
	if extractTimeout <= 0 {
		extractTimeout = 45 * time.Second
	}
	return &syncUsecase{
		jobRepo:        jobRepo,
		providerRepo:   providerRepo,
		registry:       registry,
		tokens:         tokens,
		extractor:      extractor,
		ingester:       ingester,
		extractTimeout: extractTimeout,
		retryDelay:     2 * time.Second,
		running:        make(map[string]struct{}),
	}
}

func (u *syncUsecase) StartSync(ctx context.Context, userID string, req *syncdto.StartSyncRequest) (*syncdomain.SyncJob, error) {
	if req.DateRangeStart != nil && req.DateRangeEnd != nil && req.DateRangeEnd.Before(*req.DateRangeStart) {
		return nil, ErrInvalidDateRange
	}

	provider, err := u.providerRepo.FindByID(req.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider == nil || provider.UserID != userID {
		return nil, ErrProviderNotFound
	}
	if _, ok := u.registry.Lookup(provider.ProviderType); !ok {
		return nil, fmt.Errorf("no adapter registered for provider type %s", provider.ProviderType)
	}

	if !u.claim(provider.ID) {
		return nil, ErrSyncInProgress
	}

	active, err := u.jobRepo.HasActiveJob(provider.ID)
	if err != nil {
		u.release(provider.ID)
		return nil, err
	}
	if active {
		u.release(provider.ID)
		return nil, ErrSyncInProgress
	}

	job := &syncdomain.SyncJob{
		ProviderID:     provider.ID,
		UserID:         userID,
		Status:         syncdomain.JobStatusPending,
		DateRangeStart: req.DateRangeStart,
		DateRangeEnd:   req.DateRangeEnd,
		MessageLimit:   req.Limit,
	}
	if err := u.jobRepo.Create(job); err != nil {
		u.release(provider.ID)
		return nil, err
	}

	go u.runJob(job.ID, provider.ID)

	return job, nil
}

func (u *syncUsecase) GetJob(userID, jobID string) (*syncdomain.SyncJob, error) {
	job, err := u.jobRepo.FindByID(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (u *syncUsecase) CancelJob(userID, jobID string) (*syncdomain.SyncJob, error) {
	job, err := u.GetJob(userID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		if err := u.jobRepo.RequestCancel(jobID); err != nil {
			return nil, err
		}
		// A job whose provider holds no claim has no runner to observe the
		// flag (the row outlived a crashed process); finish it here so it
		// never shows processing forever or blocks future syncs.
		if !u.isRunning(job.ProviderID) {
			u.finishJob(jobID, syncdomain.JobStatusCancelled, "")
		}
	}
	return u.jobRepo.FindByID(jobID)
}

// RecoverInterrupted sweeps jobs orphaned by a restart to failed. Their
// counters stay as last persisted; receipts they ingested remain committed.
func (u *syncUsecase) RecoverInterrupted() (int64, error) {
	swept, err := u.jobRepo.FailInterrupted("interrupted by restart", time.Now())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		log.Printf("[SyncJob] failed %d job(s) interrupted by a previous run", swept)
	}
	return swept, nil
}

func (u *syncUsecase) ListJobs(userID, providerID string) ([]*syncdomain.SyncJob, error) {
	if providerID == "" {
		return u.jobRepo.FindByUserID(userID)
	}

	jobs, err := u.jobRepo.FindByProviderID(providerID)
	if err != nil {
		return nil, err
	}
	owned := make([]*syncdomain.SyncJob, 0, len(jobs))
	for _, job := range jobs {
		if job.UserID == userID {
			owned = append(owned, job)
		}
	}
	return owned, nil
}

// runJob executes one sync job to a terminal state.
func (u *syncUsecase) runJob(jobID, providerID string) {
	defer u.release(providerID)

	ctx := context.Background()
	now := time.Now()

	job, err := u.jobRepo.FindByID(jobID)
	if err != nil || job == nil {
		log.Printf("[SyncJob] %s: unable to load job: %v", jobID, err)
		return
	}

	if err := u.jobRepo.MarkProcessing(jobID, now); err != nil {
		log.Printf("[SyncJob] %s: unable to start: %v", jobID, err)
		return
	}

	provider, err := u.providerRepo.FindByID(job.ProviderID)
	if err != nil || provider == nil {
		u.failJob(jobID, provider, fmt.Errorf("provider no longer exists"))
		return
	}

	adapter, ok := u.registry.Lookup(provider.ProviderType)
	if !ok {
		u.failJob(jobID, provider, fmt.Errorf("no adapter registered for provider type %s", provider.ProviderType))
		return
	}

	tokens, err := u.tokens.EnsureValid(ctx, provider)
	if err != nil {
		u.failJob(jobID, provider, err)
		return
	}

	query := adapter.BuildSearchQuery(providerdomain.SearchOptions{
		DateRangeStart: job.DateRangeStart,
		DateRangeEnd:   job.DateRangeEnd,
	})

	// A missing or zero limit falls back to the adapter's page size; a sync
	// is never unbounded.
	limit := job.MessageLimit
	if limit <= 0 {
		limit = adapter.DefaultPageSize()
	}

	ids, err := u.searchWithRetry(ctx, adapter, tokens, query, limit)
	if err != nil {
		u.failJob(jobID, provider, err)
		return
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	found := len(ids)
	processed := 0
	ingested := 0
	_ = u.jobRepo.UpdateCounters(jobID, found, processed, ingested)

	for _, messageID := range ids {
		// Cancellation and disconnect are both observed here, between
		// messages, never mid-message.
		current, err := u.jobRepo.FindByID(jobID)
		if err != nil || current == nil {
			log.Printf("[SyncJob] %s: job row gone, stopping", jobID)
			return
		}
		if current.CancelRequested {
			u.finishJob(jobID, syncdomain.JobStatusCancelled, "")
			return
		}

		msg, err := u.fetchWithRetry(ctx, adapter, tokens, messageID)
		if err != nil {
			u.failJob(jobID, provider, err)
			return
		}

		result := u.classifyMessage(ctx, adapter, tokens, msg)
		processed++

		if result != nil && result.IsReceipt {
			outcome, err := u.ingester.Ingest(ctx, result, msg.ID, provider.ID, job.UserID)
			switch {
			case err != nil:
				log.Printf("[SyncJob] %s: ingest failed for message %s: %v", jobID, msg.ID, err)
			case outcome == receiptusecase.ResultInserted:
				ingested++
			case outcome == receiptusecase.ResultDuplicate:
				log.Printf("[SyncJob] %s: message %s already ingested, skipping", jobID, msg.ID)
			}
		}

		_ = u.jobRepo.UpdateCounters(jobID, found, processed, ingested)
	}

	u.finishJob(jobID, syncdomain.JobStatusCompleted, "")
	_ = u.providerRepo.UpdateLastSynced(provider.ID, time.Now())
	log.Printf("[SyncJob] %s: completed, %d/%d messages yielded %d receipts", jobID, processed, found, ingested)
}

// classifyMessage runs the extractor over the flattened message text under a
// bounded budget. Extraction failures skip the message, never the job. When
// the first pass is an unconfident non-receipt and the message carries a
// text attachment, the attachment text gets one more pass.
func (u *syncUsecase) classifyMessage(ctx context.Context, adapter providerdomain.MailProvider, tokens providerdomain.TokenBundle, msg *providerdomain.Message) *ai.ReceiptExtraction {
	text := flattenMessage(msg)

	extractCtx, cancel := context.WithTimeout(ctx, u.extractTimeout)
	defer cancel()

	result, err := u.extractor.ClassifyReceipt(extractCtx, text)
	if err != nil {
		log.Printf("[Extractor] message %s: %v", msg.ID, err)
		return nil
	}

	if !result.IsReceipt && result.Confidence < attachmentRetryThreshold {
		if att := pickTextAttachment(msg.Attachments); att != nil {
			data, err := adapter.FetchAttachment(ctx, tokens, msg.ID, att.ID)
			if err != nil {
				log.Printf("[Extractor] message %s: attachment fetch failed: %v", msg.ID, err)
				return result
			}

			extra := string(data)
			if strings.Contains(att.MimeType, "html") || strings.HasSuffix(att.Filename, ".html") {
				extra = htmltext.Flatten(extra)
			}

			retryCtx, cancelRetry := context.WithTimeout(ctx, u.extractTimeout)
			defer cancelRetry()
			if retried, err := u.extractor.ClassifyReceipt(retryCtx, text+"\n\nATTACHMENT:\n"+extra); err == nil {
				return retried
			}
		}
	}

	return result
}

func (u *syncUsecase) searchWithRetry(ctx context.Context, adapter providerdomain.MailProvider, tokens providerdomain.TokenBundle, query string, max int) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < providerRetryBudget; attempt++ {
		ids, err := adapter.Search(ctx, tokens, query, max)
		if err == nil {
			return ids, nil
		}
		if !errors.Is(err, providerdomain.ErrProviderUnavailable) {
			return nil, err
		}
		lastErr = err
		time.Sleep(u.retryDelay * time.Duration(attempt+1))
	}
	return nil, fmt.Errorf("search retries exhausted: %w", lastErr)
}

func (u *syncUsecase) fetchWithRetry(ctx context.Context, adapter providerdomain.MailProvider, tokens providerdomain.TokenBundle, messageID string) (*providerdomain.Message, error) {
	var lastErr error
	for attempt := 0; attempt < providerRetryBudget; attempt++ {
		msg, err := adapter.FetchMessage(ctx, tokens, messageID)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, providerdomain.ErrProviderUnavailable) {
			return nil, err
		}
		lastErr = err
		time.Sleep(u.retryDelay * time.Duration(attempt+1))
	}
	return nil, fmt.Errorf("fetch retries exhausted for message %s: %w", messageID, lastErr)
}

// failJob records an unrecoverable error. Receipts ingested by earlier
// messages of this job stay committed.
func (u *syncUsecase) failJob(jobID string, provider *providerdomain.EmailProvider, cause error) {
	if errors.Is(cause, providerdomain.ErrAuthExpired) && provider != nil {
		_ = u.providerRepo.MarkAuthInvalid(provider.ID)
	}
	u.finishJob(jobID, syncdomain.JobStatusFailed, cause.Error())
	log.Printf("[SyncJob] %s: failed: %v", jobID, cause)
}

func (u *syncUsecase) finishJob(jobID string, status syncdomain.JobStatus, errorMessage string) {
	if err := u.jobRepo.Finish(jobID, status, errorMessage, time.Now()); err != nil {
		log.Printf("[SyncJob] %s: unable to finish as %s: %v", jobID, status, err)
	}
}

func (u *syncUsecase) claim(providerID string) bool {
	u.runningMu.Lock()
	defer u.runningMu.Unlock()
	if _, exists := u.running[providerID]; exists {
		return false
	}
	u.running[providerID] = struct{}{}
	return true
}

func (u *syncUsecase) release(providerID string) {
	u.runningMu.Lock()
	defer u.runningMu.Unlock()
	delete(u.running, providerID)
}

func (u *syncUsecase) isRunning(providerID string) bool {
	u.runningMu.Lock()
	defer u.runningMu.Unlock()
	_, ok := u.running[providerID]
	return ok
}

func flattenMessage(msg *providerdomain.Message) string {
	body := msg.Body
	if msg.IsHTML {
		body = htmltext.Flatten(body)
	}
	return fmt.Sprintf("Subject: %s\nFrom: %s\nDate: %s\n\n%s",
		msg.Subject, msg.From, msg.Date.Format("2006-01-02"), body)
}

func pickTextAttachment(attachments []providerdomain.AttachmentRef) *providerdomain.AttachmentRef {
	for i, att := range attachments {
		if strings.HasPrefix(att.MimeType, "text/") ||
			strings.HasSuffix(att.Filename, ".txt") ||
			strings.HasSuffix(att.Filename, ".csv") ||
			strings.HasSuffix(att.Filename, ".html") {
			return &attachments[i]
		}
	}
	return nil
}
