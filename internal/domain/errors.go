package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrCorruptState       = errors.New("corrupt usage state")
	ErrLimitExceeded      = errors.New("usage limit exceeded")
	ErrSyncUnavailable    = errors.New("usage sync unavailable")
	ErrProviderFailure    = errors.New("provider failure")
	ErrUnsupportedTier    = errors.New("unsupported tier")
	ErrAccountRequired    = errors.New("registered account required")
)
