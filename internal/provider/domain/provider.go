package domain

import (
	"context"
	"time"
)

// ProviderType identifies a mailbox vendor. New vendors register an adapter
// under their type string; the orchestrator never knows concrete types.
type ProviderType string

const (
	ProviderGmail ProviderType = "gmail"
	ProviderIMAP  ProviderType = "imap"
)

// EmailProvider is one connected mailbox per user per vendor.
// The token bundle is stored encrypted and never leaves the provider/token
// manager boundary.
type EmailProvider struct {
	ID           string       `json:"id" gorm:"primaryKey"`
	UserID       string       `json:"user_id" gorm:"index;uniqueIndex:idx_user_provider_email;not null"`
	ProviderType ProviderType `json:"provider_type" gorm:"uniqueIndex:idx_user_provider_email;not null"`
	EmailAddress string       `json:"email_address" gorm:"uniqueIndex:idx_user_provider_email;not null"`
	AccessToken  string       `json:"-" gorm:"type:text"`
	RefreshToken string       `json:"-" gorm:"type:text"`
	TokenExpiry  time.Time    `json:"-"`
	AuthInvalid  bool         `json:"auth_invalid" gorm:"default:false"` // refresh token rejected, user must re-authorize
	LastSyncedAt *time.Time   `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (EmailProvider) TableName() string {
	return "email_providers"
}

// TokenBundle is the decrypted OAuth token set handed to adapters.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Expired reports whether the access token is at or past its expiry,
// with a small skew so a token about to lapse mid-call counts as expired.
func (t TokenBundle) Expired(now time.Time) bool {
	if t.Expiry.IsZero() {
		return true
	}
	return !t.Expiry.Add(-30 * time.Second).After(now)
}

// SearchOptions are the caller-supplied search constraints. An empty Query
// means the adapter's receipt-biased default; date bounds are inclusive and
// additive to the query, never a substitute for it.
type SearchOptions struct {
	Query          string
	DateRangeStart *time.Time
	DateRangeEnd   *time.Time
}

// AttachmentRef points at an attachment without its bytes. Attachments are
// fetched on demand, only when the extractor needs them.
type AttachmentRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Message is one fetched mailbox message, body already flattened to the
// richest text part available (HTML preferred over plain text).
type Message struct {
	ID          string
	Subject     string
	From        string
	Date        time.Time
	Body        string
	IsHTML      bool
	Attachments []AttachmentRef
}

// MailProvider is the capability set every mailbox adapter implements.
// Vendor API faults surface as ErrProviderUnavailable; authentication
// faults surface as ErrAuthExpired.
type MailProvider interface {
	// Authorize exchanges an OAuth authorization code (or vendor credential)
	// for a token bundle and the mailbox address it belongs to.
	Authorize(ctx context.Context, code string) (TokenBundle, string, error)

	// BuildSearchQuery turns options into a vendor query string. With no
	// explicit query it biases toward commerce/receipt signals.
	BuildSearchQuery(opts SearchOptions) string

	// Search returns up to max message IDs matching query, most recent
	// first. Each call re-executes the search remotely.
	Search(ctx context.Context, tokens TokenBundle, query string, max int) ([]string, error)

	// FetchMessage returns the full message for one ID.
	FetchMessage(ctx context.Context, tokens TokenBundle, id string) (*Message, error)

	// FetchAttachment returns the raw bytes of one attachment.
	FetchAttachment(ctx context.Context, tokens TokenBundle, messageID, attachmentID string) ([]byte, error)

	// DefaultPageSize bounds a sync when the caller gives no limit.
	DefaultPageSize() int
}

// TokenRefresher exchanges a refresh token for a fresh bundle. Kept apart
// from MailProvider because password-based vendors have nothing to refresh.
type TokenRefresher interface {
	Refresh(ctx context.Context, tokens TokenBundle) (TokenBundle, error)
}

// Registry maps provider-type tags to adapters.
type Registry struct {
	adapters map[ProviderType]MailProvider
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[ProviderType]MailProvider)}
}

func (r *Registry) Register(t ProviderType, p MailProvider) {
	r.adapters[t] = p
}

func (r *Registry) Lookup(t ProviderType) (MailProvider, bool) {
	p, ok := r.adapters[t]
	return p, ok
}
