package otp

import "errors"

// Terminal retrieval errors. The API layer maps these to stable error
// codes and HTTP statuses.
var (
	ErrRateLimited    = errors.New("rate limited")
	ErrProductNotFound = errors.New("product not found")
	ErrNoAccess       = errors.New("no access to product")
	ErrAccessExpired  = errors.New("access expired")
	ErrNoAccounts     = errors.New("no accounts configured")
	ErrNotFound       = errors.New("otp not found")
	ErrNoTOTPConfig   = errors.New("totp not configured")
)
