package domain

import "errors"

// Error taxonomy shared by adapters, the token manager and the sync engine.
var (
	// ErrAuthExpired means the refresh token itself was rejected. Terminal:
	// the provider connection must be re-authorized by the user.
	ErrAuthExpired = errors.New("provider authorization expired")

	// ErrProviderUnavailable is a transient vendor or network fault,
	// retryable by caller policy.
	ErrProviderUnavailable = errors.New("provider temporarily unavailable")
)
