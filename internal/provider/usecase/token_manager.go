package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	providerdomain "fintrack-backend/internal/provider/domain"
	"fintrack-backend/internal/provider/repository"
)

// TokenManager owns the token lifecycle for connected providers: expiry
// detection, refresh, and persist-after-refresh. It is the only writer of a
// provider's token bundle.
type TokenManager struct {
	providerRepo repository.ProviderRepository
	refreshers   map[providerdomain.ProviderType]providerdomain.TokenRefresher
	now          func() time.Time
}

func NewTokenManager(providerRepo repository.ProviderRepository, refreshers map[providerdomain.ProviderType]providerdomain.TokenRefresher) *TokenManager {
	return &TokenManager{
		providerRepo: providerRepo,
		refreshers:   refreshers,
		now:          time.Now,
	}
}

// EnsureValid returns a usable token bundle for the provider, refreshing
// transparently when the access token has expired. A refreshed bundle is
// persisted onto the provider row before it is returned, so a crash can
// never rotate tokens without recording them.
func (m *TokenManager) EnsureValid(ctx context.Context, provider *providerdomain.EmailProvider) (providerdomain.TokenBundle, error) {
	if provider.AuthInvalid {
		return providerdomain.TokenBundle{}, providerdomain.ErrAuthExpired
	}

	bundle := providerdomain.TokenBundle{
		AccessToken:  provider.AccessToken,
		RefreshToken: provider.RefreshToken,
		Expiry:       provider.TokenExpiry,
	}

	if !bundle.Expired(m.now()) {
		return bundle, nil
	}

	refresher, ok := m.refreshers[provider.ProviderType]
	if !ok {
		// Password-based vendors carry no expiring token.
		return bundle, nil
	}

	fresh, err := refresher.Refresh(ctx, bundle)
	if err != nil {
		if errors.Is(err, providerdomain.ErrAuthExpired) {
			log.Printf("[TokenManager] refresh token rejected for provider %s, flagging connection", provider.ID)
			_ = m.providerRepo.MarkAuthInvalid(provider.ID)
		}
		return providerdomain.TokenBundle{}, err
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = bundle.RefreshToken
	}

	if err := m.providerRepo.UpdateTokens(provider.ID, fresh); err != nil {
		return providerdomain.TokenBundle{}, fmt.Errorf("unable to persist refreshed tokens: %w", err)
	}

	provider.AccessToken = fresh.AccessToken
	provider.RefreshToken = fresh.RefreshToken
	provider.TokenExpiry = fresh.Expiry

	return fresh, nil
}
