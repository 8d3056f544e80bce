package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	providerdomain "fintrack-backend/internal/provider/domain"
	providerdto "fintrack-backend/internal/provider/dto"
	"fintrack-backend/internal/provider/repository"
	syncrepo "fintrack-backend/internal/sync/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OAuthStarter is implemented by adapters whose connect flow begins with a
// browser redirect.
type OAuthStarter interface {
	AuthCodeURL(state string) string
}

// ProviderUsecase manages mailbox connections
type ProviderUsecase interface {
	GetAuthURL(userID string, providerType providerdomain.ProviderType) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*providerdomain.EmailProvider, error)
	ConnectIMAP(ctx context.Context, userID string, req *providerdto.ConnectIMAPRequest) (*providerdomain.EmailProvider, error)
	List(userID string) ([]*providerdomain.EmailProvider, error)
	Disconnect(ctx context.Context, userID, providerID string) error
}

// providerUsecase implements ProviderUsecase interface
type providerUsecase struct {
	providerRepo repository.ProviderRepository
	jobRepo      syncrepo.JobRepository
	registry     *providerdomain.Registry
	jwtSecret    string
}

// NewProviderUsecase creates a new instance of providerUsecase
func NewProviderUsecase(providerRepo repository.ProviderRepository, jobRepo syncrepo.JobRepository, registry *providerdomain.Registry, jwtSecret string) ProviderUsecase {
	return &providerUsecase{
		providerRepo: providerRepo,
		jobRepo:      jobRepo,
		registry:     registry,
		jwtSecret:    jwtSecret,
	}
}

func (u *providerUsecase) GetAuthURL(userID string, providerType providerdomain.ProviderType) (string, error) {
	adapter, ok := u.registry.Lookup(providerType)
	if !ok {
		return "", fmt.Errorf("unknown provider type: %s", providerType)
	}

	starter, ok := adapter.(OAuthStarter)
	if !ok {
		return "", fmt.Errorf("provider %s does not use OAuth", providerType)
	}

	state, err := u.signState(userID, providerType)
	if err != nil {
		return "", err
	}
	return starter.AuthCodeURL(state), nil
}

func (u *providerUsecase) HandleCallback(ctx context.Context, code, state string) (*providerdomain.EmailProvider, error) {
	userID, providerType, err := u.verifyState(state)
	if err != nil {
		return nil, err
	}

	adapter, ok := u.registry.Lookup(providerType)
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", providerType)
	}

	tokens, emailAddress, err := adapter.Authorize(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("authorization failed: %w", err)
	}

	return u.upsertProvider(userID, providerType, emailAddress, tokens)
}

func (u *providerUsecase) ConnectIMAP(ctx context.Context, userID string, req *providerdto.ConnectIMAPRequest) (*providerdomain.EmailProvider, error) {
	adapter, ok := u.registry.Lookup(providerdomain.ProviderIMAP)
	if !ok {
		return nil, errors.New("imap provider is not configured")
	}

	// The IMAP connect credential travels through the same Authorize
	// capability OAuth codes use.
	creds, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	code := base64.StdEncoding.EncodeToString(creds)

	tokens, emailAddress, err := adapter.Authorize(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	return u.upsertProvider(userID, providerdomain.ProviderIMAP, emailAddress, tokens)
}

func (u *providerUsecase) List(userID string) ([]*providerdomain.EmailProvider, error) {
	return u.providerRepo.FindByUserID(userID)
}

// Disconnect requests cancellation of any running job, then deletes the
// provider and cascades its jobs.
func (u *providerUsecase) Disconnect(ctx context.Context, userID, providerID string) error {
	provider, err := u.providerRepo.FindByID(providerID)
	if err != nil {
		return err
	}
	if provider == nil || provider.UserID != userID {
		return errors.New("provider not found")
	}

	if err := u.jobRepo.RequestCancelForProvider(providerID); err != nil {
		return err
	}
	if err := u.jobRepo.DeleteByProviderID(providerID); err != nil {
		return err
	}
	return u.providerRepo.Delete(providerID)
}

// upsertProvider enforces one connection per (user, vendor, address):
// reconnecting an existing mailbox rotates its tokens instead of adding a row.
func (u *providerUsecase) upsertProvider(userID string, providerType providerdomain.ProviderType, emailAddress string, tokens providerdomain.TokenBundle) (*providerdomain.EmailProvider, error) {
	existing, err := u.providerRepo.FindByAddress(userID, providerType, emailAddress)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := u.providerRepo.UpdateTokens(existing.ID, tokens); err != nil {
			return nil, err
		}
		existing.AccessToken = tokens.AccessToken
		existing.RefreshToken = tokens.RefreshToken
		existing.TokenExpiry = tokens.Expiry
		existing.AuthInvalid = false
		return existing, nil
	}

	provider := &providerdomain.EmailProvider{
		UserID:       userID,
		ProviderType: providerType,
		EmailAddress: emailAddress,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenExpiry:  tokens.Expiry,
	}
	if err := u.providerRepo.Create(provider); err != nil {
		return nil, err
	}
	return provider, nil
}

func (u *providerUsecase) signState(userID string, providerType providerdomain.ProviderType) (string, error) {
	claims := jwt.MapClaims{
		"sub":   userID,
		"ptype": string(providerType),
		"nonce": uuid.New().String(),
		"exp":   time.Now().Add(10 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(u.jwtSecret))
}

func (u *providerUsecase) verifyState(state string) (string, providerdomain.ProviderType, error) {
	token, err := jwt.Parse(state, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(u.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", "", errors.New("invalid or expired state")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid state claims")
	}
	userID, _ := claims["sub"].(string)
	ptype, _ := claims["ptype"].(string)
	if userID == "" || ptype == "" {
		return "", "", errors.New("invalid state claims")
	}
	return userID, providerdomain.ProviderType(ptype), nil
}
