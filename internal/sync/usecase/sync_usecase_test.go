package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	providerdomain "fintrack-backend/internal/provider/domain"
	receiptdomain "fintrack-backend/internal/receipt/domain"
	receiptusecase "fintrack-backend/internal/receipt/usecase"
	syncdomain "fintrack-backend/internal/sync/domain"
	syncdto "fintrack-backend/internal/sync/dto"
	"fintrack-backend/pkg/ai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*syncdomain.SyncJob
	seq  int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*syncdomain.SyncJob)}
}

func (r *fakeJobRepo) Create(job *syncdomain.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", r.seq)
	}
	stored := *job
	r.jobs[job.ID] = &stored
	return nil
}

func (r *fakeJobRepo) FindByID(id string) (*syncdomain.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (r *fakeJobRepo) FindByProviderID(providerID string) ([]*syncdomain.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*syncdomain.SyncJob
	for _, job := range r.jobs {
		if job.ProviderID == providerID {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) FindByUserID(userID string) ([]*syncdomain.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*syncdomain.SyncJob
	for _, job := range r.jobs {
		if job.UserID == userID {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) HasActiveJob(providerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.ProviderID == providerID && !job.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeJobRepo) MarkProcessing(id string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != syncdomain.JobStatusPending {
		return fmt.Errorf("job %s is not pending", id)
	}
	job.Status = syncdomain.JobStatusProcessing
	job.StartedAt = &startedAt
	return nil
}

func (r *fakeJobRepo) UpdateCounters(id string, found, processed, ingested int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != syncdomain.JobStatusProcessing {
		return fmt.Errorf("job %s is not processing", id)
	}
	job.MessagesFound = found
	job.MessagesProcessed = processed
	job.ReceiptsFound = ingested
	return nil
}

func (r *fakeJobRepo) RequestCancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok && !job.Status.Terminal() {
		job.CancelRequested = true
	}
	return nil
}

func (r *fakeJobRepo) Finish(id string, status syncdomain.JobStatus, errorMessage string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return fmt.Errorf("job %s is already terminal", id)
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	job.CompletedAt = &completedAt
	return nil
}

func (r *fakeJobRepo) RequestCancelForProvider(providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.ProviderID == providerID && !job.Status.Terminal() {
			job.CancelRequested = true
		}
	}
	return nil
}

func (r *fakeJobRepo) FailInterrupted(errorMessage string, completedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var swept int64
	for _, job := range r.jobs {
		if !job.Status.Terminal() {
			job.Status = syncdomain.JobStatusFailed
			job.ErrorMessage = errorMessage
			job.CompletedAt = &completedAt
			swept++
		}
	}
	return swept, nil
}

func (r *fakeJobRepo) DeleteByProviderID(providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, job := range r.jobs {
		if job.ProviderID == providerID {
			delete(r.jobs, id)
		}
	}
	return nil
}

type fakeProviderRepo struct {
	mu            sync.Mutex
	providers     map[string]*providerdomain.EmailProvider
	markedInvalid []string
	lastSynced    []string
}

func newFakeProviderRepo(providers ...*providerdomain.EmailProvider) *fakeProviderRepo {
	repo := &fakeProviderRepo{providers: make(map[string]*providerdomain.EmailProvider)}
	for _, p := range providers {
		repo.providers[p.ID] = p
	}
	return repo
}

func (r *fakeProviderRepo) Create(provider *providerdomain.EmailProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID] = provider
	return nil
}

func (r *fakeProviderRepo) FindByID(id string) (*providerdomain.EmailProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[id], nil
}

func (r *fakeProviderRepo) FindByUserID(userID string) ([]*providerdomain.EmailProvider, error) {
	return nil, nil
}

func (r *fakeProviderRepo) FindByAddress(userID string, providerType providerdomain.ProviderType, emailAddress string) (*providerdomain.EmailProvider, error) {
	return nil, nil
}

func (r *fakeProviderRepo) UpdateTokens(id string, tokens providerdomain.TokenBundle) error {
	return nil
}

func (r *fakeProviderRepo) MarkAuthInvalid(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markedInvalid = append(r.markedInvalid, id)
	return nil
}

func (r *fakeProviderRepo) UpdateLastSynced(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSynced = append(r.lastSynced, id)
	return nil
}

func (r *fakeProviderRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, id)
	return nil
}

func (r *fakeProviderRepo) invalidated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.markedInvalid...)
}

func (r *fakeProviderRepo) synced() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lastSynced...)
}

type fakeReceiptRepo struct {
	mu       sync.Mutex
	receipts []*receiptdomain.Receipt
}

func (r *fakeReceiptRepo) Create(receipt *receiptdomain.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, receipt)
	return nil
}

func (r *fakeReceiptRepo) ExistsBySource(providerID, sourceMessageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.receipts {
		if rec.ProviderID == providerID && rec.SourceMessageID == sourceMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeReceiptRepo) FindByUserID(userID string, limit, offset int) ([]*receiptdomain.Receipt, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*receiptdomain.Receipt
	for _, rec := range r.receipts {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeReceiptRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.receipts)
}

type fakeAdapter struct {
	mu          sync.Mutex
	messages    []*providerdomain.Message
	pageSize    int
	searchErrs  []error
	fetchErrs   map[string]error
	attachments map[string][]byte
	searchCalls int
}

func (a *fakeAdapter) Authorize(ctx context.Context, code string) (providerdomain.TokenBundle, string, error) {
	return providerdomain.TokenBundle{}, "", nil
}

func (a *fakeAdapter) BuildSearchQuery(opts providerdomain.SearchOptions) string {
	return "receipt OR invoice"
}

func (a *fakeAdapter) Search(ctx context.Context, tokens providerdomain.TokenBundle, query string, max int) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.searchCalls++
	if len(a.searchErrs) > 0 {
		err := a.searchErrs[0]
		a.searchErrs = a.searchErrs[1:]
		return nil, err
	}
	var ids []string
	for _, msg := range a.messages {
		if len(ids) == max {
			break
		}
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func (a *fakeAdapter) FetchMessage(ctx context.Context, tokens providerdomain.TokenBundle, id string) (*providerdomain.Message, error) {
	if err := a.fetchErrs[id]; err != nil {
		return nil, err
	}
	for _, msg := range a.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("%w: message %s not found", providerdomain.ErrProviderUnavailable, id)
}

func (a *fakeAdapter) FetchAttachment(ctx context.Context, tokens providerdomain.TokenBundle, messageID, attachmentID string) ([]byte, error) {
	data, ok := a.attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, fmt.Errorf("%w: attachment not found", providerdomain.ErrProviderUnavailable)
	}
	return data, nil
}

func (a *fakeAdapter) searchCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.searchCalls
}

func (a *fakeAdapter) DefaultPageSize() int {
	if a.pageSize <= 0 {
		return 50
	}
	return a.pageSize
}

type fakeExtractor struct {
	mu       sync.Mutex
	classify func(text string) (*ai.ReceiptExtraction, error)
	onCall   func(n int)
	calls    int
}

func (e *fakeExtractor) ClassifyReceipt(ctx context.Context, emailText string) (*ai.ReceiptExtraction, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	hook := e.onCall
	e.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return e.classify(emailText)
}

func (e *fakeExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type staticTokens struct {
	err error
}

func (s staticTokens) EnsureValid(ctx context.Context, provider *providerdomain.EmailProvider) (providerdomain.TokenBundle, error) {
	if s.err != nil {
		return providerdomain.TokenBundle{}, s.err
	}
	return providerdomain.TokenBundle{AccessToken: "token", Expiry: time.Now().Add(time.Hour)}, nil
}

// ---- fixtures ----

func testProvider() *providerdomain.EmailProvider {
	return &providerdomain.EmailProvider{
		ID:           "prov-1",
		UserID:       "user-1",
		ProviderType: providerdomain.ProviderGmail,
		EmailAddress: "user@gmail.com",
	}
}

func message(id, subject string) *providerdomain.Message {
	return &providerdomain.Message{
		ID:      id,
		Subject: subject,
		From:    "sender@example.com",
		Date:    time.Date(2026, 7, 14, 10, 0, 0, 0, time.UTC),
		Body:    subject,
	}
}

// classifyBySubject yields extractions keyed on subject keywords flowing
// through the flattened text.
func classifyBySubject(text string) (*ai.ReceiptExtraction, error) {
	switch {
	case strings.Contains(text, "Amazon"):
		return &ai.ReceiptExtraction{
			IsReceipt:  true,
			Confidence: 0.95,
			Merchant:   "Amazon",
			Date:       "2026-07-14",
			Total:      176.02,
			Currency:   "USD",
			Items: []ai.ReceiptItem{
				{Name: "USB-C cable", Price: 12.99, Quantity: 1},
				{Name: "Mechanical keyboard", Price: 163.03, Quantity: 1},
			},
		}, nil
	case strings.Contains(text, "Grocery"):
		return &ai.ReceiptExtraction{
			IsReceipt:  true,
			Confidence: 0.8,
			Merchant:   "FreshMart",
			Date:       "2026-07-15",
			Total:      35.02,
			Currency:   "USD",
		}, nil
	default:
		return &ai.ReceiptExtraction{IsReceipt: false, Confidence: 0.9}, nil
	}
}

type harness struct {
	usecase      *syncUsecase
	jobRepo      *fakeJobRepo
	providerRepo *fakeProviderRepo
	receiptRepo  *fakeReceiptRepo
}

func newHarness(t *testing.T, adapter *fakeAdapter, extractor *fakeExtractor) *harness {
	t.Helper()

	jobRepo := newFakeJobRepo()
	providerRepo := newFakeProviderRepo(testProvider())
	receiptRepo := &fakeReceiptRepo{}

	registry := providerdomain.NewRegistry()
	registry.Register(providerdomain.ProviderGmail, adapter)

	u := NewSyncUsecase(
		jobRepo,
		providerRepo,
		registry,
		staticTokens{},
		extractor,
		receiptusecase.NewIngestService(receiptRepo),
		time.Second,
	).(*syncUsecase)
	u.retryDelay = time.Millisecond

	return &harness{usecase: u, jobRepo: jobRepo, providerRepo: providerRepo, receiptRepo: receiptRepo}
}

func (h *harness) awaitTerminal(t *testing.T, jobID string) *syncdomain.SyncJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.jobRepo.FindByID(jobID)
		require.NoError(t, err)
		if job != nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

// ---- tests ----

func TestStartSyncRejectsInvertedDateRange(t *testing.T) {
	h := newHarness(t, &fakeAdapter{}, &fakeExtractor{classify: classifyBySubject})

	start := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{
		ProviderID:     "prov-1",
		DateRangeStart: &start,
		DateRangeEnd:   &end,
	})

	assert.ErrorIs(t, err, ErrInvalidDateRange)
	jobs, _ := h.jobRepo.FindByUserID("user-1")
	assert.Empty(t, jobs, "a rejected request must not leave a job row behind")
}

func TestStartSyncRejectsForeignProvider(t *testing.T) {
	h := newHarness(t, &fakeAdapter{}, &fakeExtractor{classify: classifyBySubject})

	_, err := h.usecase.StartSync(context.Background(), "someone-else", &syncdto.StartSyncRequest{ProviderID: "prov-1"})

	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestStartSyncRefusesSecondActiveJob(t *testing.T) {
	h := newHarness(t, &fakeAdapter{}, &fakeExtractor{classify: classifyBySubject})

	require.NoError(t, h.jobRepo.Create(&syncdomain.SyncJob{
		ProviderID: "prov-1",
		UserID:     "user-1",
		Status:     syncdomain.JobStatusProcessing,
	}))

	_, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})

	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSyncThreeMessagesTwoReceipts(t *testing.T) {
	adapter := &fakeAdapter{
		messages: []*providerdomain.Message{
			message("msg-1", "Your Amazon order receipt"),
			message("msg-2", "Weekly newsletter"),
			message("msg-3", "Grocery purchase"),
		},
	}
	h := newHarness(t, adapter, &fakeExtractor{classify: classifyBySubject})

	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	assert.Equal(t, syncdomain.JobStatusPending, job.Status)

	done := h.awaitTerminal(t, job.ID)

	assert.Equal(t, syncdomain.JobStatusCompleted, done.Status)
	assert.Equal(t, 3, done.MessagesFound)
	assert.Equal(t, 3, done.MessagesProcessed)
	assert.Equal(t, 2, done.ReceiptsFound)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	receipts, total, err := h.receiptRepo.FindByUserID("user-1", 50, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	byMerchant := make(map[string]*receiptdomain.Receipt)
	for _, rec := range receipts {
		byMerchant[rec.Merchant] = rec
	}
	require.Contains(t, byMerchant, "Amazon")
	assert.InDelta(t, 176.02, byMerchant["Amazon"].Total, 0.001)
	assert.Len(t, byMerchant["Amazon"].Items, 2)
	require.Contains(t, byMerchant, "FreshMart")
	assert.InDelta(t, 35.02, byMerchant["FreshMart"].Total, 0.001)

	// The last-synced stamp lands just after the job turns terminal.
	assert.Eventually(t, func() bool {
		return len(h.providerRepo.synced()) == 1
	}, time.Second, 2*time.Millisecond)
}

func TestSyncIsIdempotentAcrossRuns(t *testing.T) {
	adapter := &fakeAdapter{
		messages: []*providerdomain.Message{
			message("msg-1", "Your Amazon order receipt"),
			message("msg-3", "Grocery purchase"),
		},
	}
	h := newHarness(t, adapter, &fakeExtractor{classify: classifyBySubject})

	first, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	h.awaitTerminal(t, first.ID)
	require.Equal(t, 2, h.receiptRepo.count())

	second, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	done := h.awaitTerminal(t, second.ID)

	assert.Equal(t, syncdomain.JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.MessagesProcessed)
	assert.Equal(t, 0, done.ReceiptsFound, "a re-run over the same messages must insert nothing")
	assert.Equal(t, 2, h.receiptRepo.count())
}

func TestSyncHonorsMessageLimit(t *testing.T) {
	adapter := &fakeAdapter{}
	for i := 1; i <= 10; i++ {
		adapter.messages = append(adapter.messages, message(fmt.Sprintf("msg-%d", i), "Grocery purchase"))
	}
	h := newHarness(t, adapter, &fakeExtractor{classify: classifyBySubject})

	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1", Limit: 3})
	require.NoError(t, err)
	done := h.awaitTerminal(t, job.ID)

	assert.Equal(t, syncdomain.JobStatusCompleted, done.Status)
	assert.Equal(t, 3, done.MessagesFound)
	assert.Equal(t, 3, done.MessagesProcessed)
	assert.Equal(t, 3, h.receiptRepo.count())
}

func TestSyncWithoutLimitUsesAdapterPageSize(t *testing.T) {
	adapter := &fakeAdapter{pageSize: 2}
	for i := 1; i <= 10; i++ {
		adapter.messages = append(adapter.messages, message(fmt.Sprintf("msg-%d", i), "Grocery purchase"))
	}
	h := newHarness(t, adapter, &fakeExtractor{classify: classifyBySubject})

	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	done := h.awaitTerminal(t, job.ID)

	assert.Equal(t, 2, done.MessagesProcessed, "an unbounded sync must fall back to the adapter page size")
}

func TestSyncCancelsAtMessageBoundary(t *testing.T) {
	adapter := &fakeAdapter{}
	for i := 1; i <= 5; i++ {
		adapter.messages = append(adapter.messages, message(fmt.Sprintf("msg-%d", i), "Grocery purchase"))
	}

	extractor := &fakeExtractor{classify: classifyBySubject}
	h := newHarness(t, adapter, extractor)
	extractor.onCall = func(n int) {
		if n == 1 {
			_ = h.jobRepo.RequestCancelForProvider("prov-1")
		}
	}

	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	done := h.awaitTerminal(t, job.ID)

	assert.Equal(t, syncdomain.JobStatusCancelled, done.Status)
	// The in-flight message finishes; nothing after the boundary starts.
	assert.Equal(t, 1, done.MessagesProcessed)
	assert.LessOrEqual(t, h.receiptRepo.count(), done.MessagesProcessed)
}

func TestSyncKeepsEarlierReceiptsWhenAuthDies(t *testing.T) {
	adapter := &fakeAdapter{
		fetchErrs: map[string]error{
			"msg-5": fmt.Errorf("%w: token revoked", providerdomain.ErrAuthExpired),
		},
	}
	for i := 1; i <= 5; i++ {
		adapter.messages = append(adapter.messages, message(fmt.Sprintf("msg-%d", i), "Grocery purchase"))
	}
	h := newHarness(t, adapter, &fakeExtractor{classify: classifyBySubject})

	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	done := h.awaitTerminal(t, job.ID)

	assert.Equal(t, syncdomain.JobStatusFailed, done.Status)
	assert.NotEmpty(t, done.ErrorMessage)
	assert.Equal(t, 4, done.MessagesProcessed)
	assert.Equal(t, 4, h.receiptRepo.count(), "receipts ingested before the failure stay committed")
	assert.Contains(t, h.providerRepo.invalidated(), "prov-1")
}

func TestSyncRetriesTransientSearchFailures(t *testing.T) {
	adapter := &fakeAdapter{
		messages: []*providerdomain.Message{message("msg-1", "Grocery purchase")},
		searchErrs: []error{
			fmt.Errorf("%w: 503", providerdomain.ErrProviderUnavailable),
			fmt.Errorf("%w: 503", providerdomain.ErrProviderUnavailable),
		},
	}
	h := newHarness(t, adapter, &fakeExtractor{classify: classifyBySubject})

	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	done := h.awaitTerminal(t, job.ID)

	assert.Equal(t, syncdomain.JobStatusCompleted, done.Status)
	assert.Equal(t, 3, adapter.searchCallCount())
	assert.Equal(t, 1, h.receiptRepo.count())
}

func TestSyncFailsAfterRetryBudgetExhausted(t *testing.T) {
	unavailable := fmt.Errorf("%w: 503", providerdomain.ErrProviderUnavailable)
	adapter := &fakeAdapter{
		searchErrs: []error{unavailable, unavailable, unavailable},
	}
	h := newHarness(t, adapter, &fakeExtractor{classify: classifyBySubject})

	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	done := h.awaitTerminal(t, job.ID)

	assert.Equal(t, syncdomain.JobStatusFailed, done.Status)
	assert.NotEmpty(t, done.ErrorMessage)
	assert.Empty(t, h.providerRepo.invalidated(), "transient faults must not flag the connection")
}

func TestSyncSkipsMessageWhenExtractionFails(t *testing.T) {
	adapter := &fakeAdapter{
		messages: []*providerdomain.Message{
			message("msg-1", "Grocery purchase"),
			message("msg-2", "Corrupted body"),
			message("msg-3", "Your Amazon order receipt"),
		},
	}
	extractor := &fakeExtractor{classify: func(text string) (*ai.ReceiptExtraction, error) {
		if strings.Contains(text, "Corrupted") {
			return nil, fmt.Errorf("model returned garbage")
		}
		return classifyBySubject(text)
	}}
	h := newHarness(t, adapter, extractor)

	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	done := h.awaitTerminal(t, job.ID)

	assert.Equal(t, syncdomain.JobStatusCompleted, done.Status, "one bad extraction must not fail the job")
	assert.Equal(t, 3, done.MessagesProcessed)
	assert.Equal(t, 2, done.ReceiptsFound)
}

func TestSyncRetriesUnconfidentVerdictWithAttachment(t *testing.T) {
	msg := message("msg-1", "Your order")
	msg.Attachments = []providerdomain.AttachmentRef{
		{ID: "att-1", Filename: "receipt.txt", MimeType: "text/plain"},
	}
	adapter := &fakeAdapter{
		messages:    []*providerdomain.Message{msg},
		attachments: map[string][]byte{"msg-1/att-1": []byte("FreshMart Grocery total 35.02")},
	}
	extractor := &fakeExtractor{classify: func(text string) (*ai.ReceiptExtraction, error) {
		if strings.Contains(text, "ATTACHMENT:") {
			return classifyBySubject(text)
		}
		return &ai.ReceiptExtraction{IsReceipt: false, Confidence: 0.3}, nil
	}}
	h := newHarness(t, adapter, extractor)

	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	done := h.awaitTerminal(t, job.ID)

	assert.Equal(t, syncdomain.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.ReceiptsFound)
	assert.Equal(t, 2, extractor.callCount(), "the attachment pass runs exactly once")
}

func TestCancelJobFinishesJobWithoutRunner(t *testing.T) {
	adapter := &fakeAdapter{
		messages: []*providerdomain.Message{message("msg-1", "Grocery purchase")},
	}
	h := newHarness(t, adapter, &fakeExtractor{classify: classifyBySubject})

	// A processing row with no goroutine behind it, as left by a process
	// that died mid-job.
	started := time.Now()
	orphan := &syncdomain.SyncJob{ProviderID: "prov-1", UserID: "user-1", Status: syncdomain.JobStatusPending}
	require.NoError(t, h.jobRepo.Create(orphan))
	require.NoError(t, h.jobRepo.MarkProcessing(orphan.ID, started))

	got, err := h.usecase.CancelJob("user-1", orphan.ID)

	require.NoError(t, err)
	assert.Equal(t, syncdomain.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// The provider is free again.
	job, err := h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	require.NoError(t, err)
	done := h.awaitTerminal(t, job.ID)
	assert.Equal(t, syncdomain.JobStatusCompleted, done.Status)
}

func TestRecoverInterruptedFailsStaleJobs(t *testing.T) {
	h := newHarness(t, &fakeAdapter{}, &fakeExtractor{classify: classifyBySubject})

	started := time.Now()
	stalePending := &syncdomain.SyncJob{ProviderID: "prov-1", UserID: "user-1", Status: syncdomain.JobStatusPending}
	require.NoError(t, h.jobRepo.Create(stalePending))
	staleProcessing := &syncdomain.SyncJob{ProviderID: "prov-1", UserID: "user-1", Status: syncdomain.JobStatusPending}
	require.NoError(t, h.jobRepo.Create(staleProcessing))
	require.NoError(t, h.jobRepo.MarkProcessing(staleProcessing.ID, started))
	finished := &syncdomain.SyncJob{ProviderID: "prov-1", UserID: "user-1", Status: syncdomain.JobStatusPending}
	require.NoError(t, h.jobRepo.Create(finished))
	require.NoError(t, h.jobRepo.MarkProcessing(finished.ID, started))
	require.NoError(t, h.jobRepo.Finish(finished.ID, syncdomain.JobStatusCompleted, "", started))

	swept, err := h.usecase.RecoverInterrupted()

	require.NoError(t, err)
	assert.EqualValues(t, 2, swept)
	for _, id := range []string{stalePending.ID, staleProcessing.ID} {
		job, err := h.jobRepo.FindByID(id)
		require.NoError(t, err)
		assert.Equal(t, syncdomain.JobStatusFailed, job.Status)
		assert.Equal(t, "interrupted by restart", job.ErrorMessage)
	}
	done, err := h.jobRepo.FindByID(finished.ID)
	require.NoError(t, err)
	assert.Equal(t, syncdomain.JobStatusCompleted, done.Status, "terminal jobs are untouched")

	// The swept provider accepts new syncs again.
	_, err = h.usecase.StartSync(context.Background(), "user-1", &syncdto.StartSyncRequest{ProviderID: "prov-1"})
	assert.NoError(t, err)
}

func TestCancelJobIsIdempotentOnTerminalJobs(t *testing.T) {
	h := newHarness(t, &fakeAdapter{}, &fakeExtractor{classify: classifyBySubject})

	completed := time.Now()
	job := &syncdomain.SyncJob{ProviderID: "prov-1", UserID: "user-1", Status: syncdomain.JobStatusPending}
	require.NoError(t, h.jobRepo.Create(job))
	require.NoError(t, h.jobRepo.MarkProcessing(job.ID, completed))
	require.NoError(t, h.jobRepo.Finish(job.ID, syncdomain.JobStatusCompleted, "", completed))

	got, err := h.usecase.CancelJob("user-1", job.ID)

	require.NoError(t, err)
	assert.Equal(t, syncdomain.JobStatusCompleted, got.Status)
	assert.False(t, got.CancelRequested)
}

func TestGetJobHidesForeignJobs(t *testing.T) {
	h := newHarness(t, &fakeAdapter{}, &fakeExtractor{classify: classifyBySubject})

	job := &syncdomain.SyncJob{ProviderID: "prov-1", UserID: "user-1", Status: syncdomain.JobStatusPending}
	require.NoError(t, h.jobRepo.Create(job))

	_, err := h.usecase.GetJob("someone-else", job.ID)

	assert.ErrorIs(t, err, ErrJobNotFound)
}
