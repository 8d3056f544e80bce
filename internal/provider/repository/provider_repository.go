package repository

import (
	"errors"
	"fmt"
	"time"

	providerdomain "fintrack-backend/internal/provider/domain"
	"fintrack-backend/pkg/tokencrypt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// providerRepository implements ProviderRepository interface
type providerRepository struct {
	db     *gorm.DB
	cipher *tokencrypt.Cipher
}

// NewProviderRepository creates a new instance of providerRepository
func NewProviderRepository(db *gorm.DB, cipher *tokencrypt.Cipher) ProviderRepository {
	return &providerRepository{
		db:     db,
		cipher: cipher,
	}
}

func (r *providerRepository) Create(provider *providerdomain.EmailProvider) error {
	if provider.ID == "" {
		provider.ID = uuid.New().String()
	}
	now := time.Now()
	provider.CreatedAt = now
	provider.UpdatedAt = now

	row := *provider
	if err := r.seal(&row); err != nil {
		return err
	}
	return r.db.Create(&row).Error
}

func (r *providerRepository) FindByID(id string) (*providerdomain.EmailProvider, error) {
	var provider providerdomain.EmailProvider
	err := r.db.Where("id = ?", id).First(&provider).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.open(&provider); err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *providerRepository) FindByUserID(userID string) ([]*providerdomain.EmailProvider, error) {
	var providers []*providerdomain.EmailProvider
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&providers).Error
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		if err := r.open(p); err != nil {
			return nil, err
		}
	}
	return providers, nil
}

func (r *providerRepository) FindByAddress(userID string, providerType providerdomain.ProviderType, emailAddress string) (*providerdomain.EmailProvider, error) {
	var provider providerdomain.EmailProvider
	err := r.db.Where("user_id = ? AND provider_type = ? AND email_address = ?", userID, providerType, emailAddress).First(&provider).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.open(&provider); err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *providerRepository) UpdateTokens(id string, tokens providerdomain.TokenBundle) error {
	access, err := r.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		return err
	}
	return r.db.Model(&providerdomain.EmailProvider{}).Where("id = ?", id).Updates(map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"token_expiry":  tokens.Expiry,
		"auth_invalid":  false,
		"updated_at":    time.Now(),
	}).Error
}

func (r *providerRepository) MarkAuthInvalid(id string) error {
	return r.db.Model(&providerdomain.EmailProvider{}).Where("id = ?", id).Updates(map[string]interface{}{
		"auth_invalid": true,
		"updated_at":   time.Now(),
	}).Error
}

func (r *providerRepository) UpdateLastSynced(id string, at time.Time) error {
	return r.db.Model(&providerdomain.EmailProvider{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_synced_at": at,
		"updated_at":     time.Now(),
	}).Error
}

func (r *providerRepository) Delete(id string) error {
	return r.db.Delete(&providerdomain.EmailProvider{}, "id = ?", id).Error
}

func (r *providerRepository) seal(p *providerdomain.EmailProvider) error {
	access, err := r.cipher.Encrypt(p.AccessToken)
	if err != nil {
		return fmt.Errorf("unable to encrypt access token: %w", err)
	}
	refresh, err := r.cipher.Encrypt(p.RefreshToken)
	if err != nil {
		return fmt.Errorf("unable to encrypt refresh token: %w", err)
	}
	p.AccessToken = access
	p.RefreshToken = refresh
	return nil
}

func (r *providerRepository) open(p *providerdomain.EmailProvider) error {
	access, err := r.cipher.Decrypt(p.AccessToken)
	if err != nil {
		return fmt.Errorf("unable to decrypt access token: %w", err)
	}
	refresh, err := r.cipher.Decrypt(p.RefreshToken)
	if err != nil {
		return fmt.Errorf("unable to decrypt refresh token: %w", err)
	}
	p.AccessToken = access
	p.RefreshToken = refresh
	return nil
}
