package repository

import (
	"time"

	providerdomain "fintrack-backend/internal/provider/domain"
)

// ProviderRepository defines the interface for email provider persistence.
// Token bundles are encrypted before they reach the database and decrypted
// on the way out; callers only ever see plaintext bundles.
type ProviderRepository interface {
	Create(provider *providerdomain.EmailProvider) error
	FindByID(id string) (*providerdomain.EmailProvider, error)
	FindByUserID(userID string) ([]*providerdomain.EmailProvider, error)
	// FindByAddress looks up the vendor uniqueness key (user, type, address)
	FindByAddress(userID string, providerType providerdomain.ProviderType, emailAddress string) (*providerdomain.EmailProvider, error)
	// UpdateTokens persists a refreshed token bundle
	UpdateTokens(id string, tokens providerdomain.TokenBundle) error
	// MarkAuthInvalid flags a connection whose refresh token was rejected
	MarkAuthInvalid(id string) error
	UpdateLastSynced(id string, at time.Time) error
	Delete(id string) error
}
