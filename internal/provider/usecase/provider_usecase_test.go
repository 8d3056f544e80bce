package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	providerdomain "fintrack-backend/internal/provider/domain"
	providerdto "fintrack-backend/internal/provider/dto"
	syncdomain "fintrack-backend/internal/sync/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	authorizedCode string
	bundle         providerdomain.TokenBundle
	address        string
	authURL        string
}

func (a *stubAdapter) Authorize(ctx context.Context, code string) (providerdomain.TokenBundle, string, error) {
	a.authorizedCode = code
	return a.bundle, a.address, nil
}

func (a *stubAdapter) BuildSearchQuery(opts providerdomain.SearchOptions) string { return "" }

func (a *stubAdapter) Search(ctx context.Context, tokens providerdomain.TokenBundle, query string, max int) ([]string, error) {
	return nil, nil
}

func (a *stubAdapter) FetchMessage(ctx context.Context, tokens providerdomain.TokenBundle, id string) (*providerdomain.Message, error) {
	return nil, nil
}

func (a *stubAdapter) FetchAttachment(ctx context.Context, tokens providerdomain.TokenBundle, messageID, attachmentID string) ([]byte, error) {
	return nil, nil
}

func (a *stubAdapter) DefaultPageSize() int { return 50 }

func (a *stubAdapter) AuthCodeURL(state string) string { return a.authURL + "?state=" + state }

type stubJobRepo struct {
	cancelledProviders []string
	deletedProviders   []string
}

func (r *stubJobRepo) Create(job *syncdomain.SyncJob) error                  { return nil }
func (r *stubJobRepo) FindByID(id string) (*syncdomain.SyncJob, error)       { return nil, nil }
func (r *stubJobRepo) FindByProviderID(id string) ([]*syncdomain.SyncJob, error) { return nil, nil }
func (r *stubJobRepo) FindByUserID(id string) ([]*syncdomain.SyncJob, error) { return nil, nil }
func (r *stubJobRepo) HasActiveJob(providerID string) (bool, error)          { return false, nil }
func (r *stubJobRepo) MarkProcessing(id string, startedAt time.Time) error   { return nil }
func (r *stubJobRepo) UpdateCounters(id string, found, processed, ingested int) error {
	return nil
}
func (r *stubJobRepo) RequestCancel(id string) error { return nil }
func (r *stubJobRepo) Finish(id string, status syncdomain.JobStatus, errorMessage string, completedAt time.Time) error {
	return nil
}
func (r *stubJobRepo) FailInterrupted(errorMessage string, completedAt time.Time) (int64, error) {
	return 0, nil
}
func (r *stubJobRepo) RequestCancelForProvider(providerID string) error {
	r.cancelledProviders = append(r.cancelledProviders, providerID)
	return nil
}
func (r *stubJobRepo) DeleteByProviderID(providerID string) error {
	r.deletedProviders = append(r.deletedProviders, providerID)
	return nil
}

func newProviderUsecaseForTest(repo *fakeProviderRepo, jobRepo *stubJobRepo, adapters map[providerdomain.ProviderType]providerdomain.MailProvider) ProviderUsecase {
	registry := providerdomain.NewRegistry()
	for t, a := range adapters {
		registry.Register(t, a)
	}
	return NewProviderUsecase(repo, jobRepo, registry, "test-secret")
}

func TestOAuthStateRoundTrip(t *testing.T) {
	adapter := &stubAdapter{
		authURL: "https://accounts.example.com/consent",
		bundle:  providerdomain.TokenBundle{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)},
		address: "user@gmail.com",
	}
	repo := newFakeProviderRepo()
	u := newProviderUsecaseForTest(repo, &stubJobRepo{}, map[providerdomain.ProviderType]providerdomain.MailProvider{
		providerdomain.ProviderGmail: adapter,
	})

	authURL, err := u.GetAuthURL("user-1", providerdomain.ProviderGmail)
	require.NoError(t, err)
	require.Contains(t, authURL, "state=")

	state := authURL[len(adapter.authURL+"?state="):]
	provider, err := u.HandleCallback(context.Background(), "oauth-code", state)

	require.NoError(t, err)
	assert.Equal(t, "user-1", provider.UserID)
	assert.Equal(t, providerdomain.ProviderGmail, provider.ProviderType)
	assert.Equal(t, "user@gmail.com", provider.EmailAddress)
	assert.Equal(t, "oauth-code", adapter.authorizedCode)
}

func TestHandleCallbackRejectsForgedState(t *testing.T) {
	u := newProviderUsecaseForTest(newFakeProviderRepo(), &stubJobRepo{}, map[providerdomain.ProviderType]providerdomain.MailProvider{
		providerdomain.ProviderGmail: &stubAdapter{},
	})

	_, err := u.HandleCallback(context.Background(), "code", "not-a-signed-state")

	assert.Error(t, err)
}

func TestGetAuthURLRejectsPasswordVendors(t *testing.T) {
	// The IMAP adapter satisfies MailProvider but not OAuthStarter, so a
	// consent URL request for it must fail cleanly.
	u := newProviderUsecaseForTest(newFakeProviderRepo(), &stubJobRepo{}, map[providerdomain.ProviderType]providerdomain.MailProvider{
		providerdomain.ProviderIMAP: passwordOnlyAdapter{},
	})

	_, err := u.GetAuthURL("user-1", providerdomain.ProviderIMAP)

	assert.Error(t, err)
}

// passwordOnlyAdapter implements MailProvider without OAuthStarter.
type passwordOnlyAdapter struct{}

func (passwordOnlyAdapter) Authorize(ctx context.Context, code string) (providerdomain.TokenBundle, string, error) {
	return providerdomain.TokenBundle{}, "", nil
}
func (passwordOnlyAdapter) BuildSearchQuery(opts providerdomain.SearchOptions) string { return "" }
func (passwordOnlyAdapter) Search(ctx context.Context, tokens providerdomain.TokenBundle, query string, max int) ([]string, error) {
	return nil, nil
}
func (passwordOnlyAdapter) FetchMessage(ctx context.Context, tokens providerdomain.TokenBundle, id string) (*providerdomain.Message, error) {
	return nil, nil
}
func (passwordOnlyAdapter) FetchAttachment(ctx context.Context, tokens providerdomain.TokenBundle, messageID, attachmentID string) ([]byte, error) {
	return nil, nil
}
func (passwordOnlyAdapter) DefaultPageSize() int { return 50 }

func TestConnectIMAPPacksCredentials(t *testing.T) {
	adapter := &stubAdapter{
		bundle:  providerdomain.TokenBundle{AccessToken: `{"host":"mail.example.com"}`},
		address: "user@example.com",
	}
	repo := newFakeProviderRepo()
	u := newProviderUsecaseForTest(repo, &stubJobRepo{}, map[providerdomain.ProviderType]providerdomain.MailProvider{
		providerdomain.ProviderIMAP: adapter,
	})

	provider, err := u.ConnectIMAP(context.Background(), "user-1", &providerdto.ConnectIMAPRequest{
		Host:     "mail.example.com",
		Port:     993,
		Username: "user@example.com",
		Password: "hunter2",
	})

	require.NoError(t, err)
	assert.Equal(t, providerdomain.ProviderIMAP, provider.ProviderType)

	raw, err := base64.StdEncoding.DecodeString(adapter.authorizedCode)
	require.NoError(t, err)
	var decoded providerdto.ConnectIMAPRequest
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "mail.example.com", decoded.Host)
	assert.Equal(t, "hunter2", decoded.Password)
}

func TestReconnectRotatesTokensInsteadOfDuplicating(t *testing.T) {
	adapter := &stubAdapter{
		bundle:  providerdomain.TokenBundle{AccessToken: "fresh", RefreshToken: "fresh-rt", Expiry: time.Now().Add(time.Hour)},
		address: "user@gmail.com",
	}
	existing := gmailProvider(time.Now().Add(-time.Hour))
	existing.AuthInvalid = true
	repo := newFakeProviderRepo(existing)
	u := newProviderUsecaseForTest(repo, &stubJobRepo{}, map[providerdomain.ProviderType]providerdomain.MailProvider{
		providerdomain.ProviderGmail: adapter,
	})

	authURL, err := u.GetAuthURL("user-1", providerdomain.ProviderGmail)
	require.NoError(t, err)
	state := authURL[len(adapter.authURL+"?state="):]

	provider, err := u.HandleCallback(context.Background(), "code", state)

	require.NoError(t, err)
	assert.Equal(t, existing.ID, provider.ID, "reconnecting the same mailbox must not add a row")
	assert.False(t, provider.AuthInvalid)
	require.Len(t, repo.updatedTokens, 1)
	assert.Equal(t, "fresh", repo.updatedTokens[0].AccessToken)
	assert.Len(t, repo.providers, 1)
}

func TestDisconnectCancelsJobsAndDeletes(t *testing.T) {
	provider := gmailProvider(time.Now().Add(time.Hour))
	repo := newFakeProviderRepo(provider)
	jobRepo := &stubJobRepo{}
	u := newProviderUsecaseForTest(repo, jobRepo, nil)

	err := u.Disconnect(context.Background(), "user-1", provider.ID)

	require.NoError(t, err)
	assert.Equal(t, []string{provider.ID}, jobRepo.cancelledProviders)
	assert.Equal(t, []string{provider.ID}, jobRepo.deletedProviders)
	assert.Empty(t, repo.providers)
}

func TestDisconnectHidesForeignProviders(t *testing.T) {
	provider := gmailProvider(time.Now().Add(time.Hour))
	repo := newFakeProviderRepo(provider)
	u := newProviderUsecaseForTest(repo, &stubJobRepo{}, nil)

	err := u.Disconnect(context.Background(), "someone-else", provider.ID)

	assert.Error(t, err)
	assert.Len(t, repo.providers, 1)
}
