package auth

import "errors"

// Verification failures deliberately do not distinguish a wrong secret
// from an unknown tenant in HTTP responses; the split exists for logging.
var (
	ErrMissingSignature       = errors.New("signature header required")
	ErrMissingTenant          = errors.New("tenant header required")
	ErrInvalidSignatureFormat = errors.New("invalid signature format")
	ErrUnknownTenant          = errors.New("no secret configured for tenant")
	ErrBadSignature           = errors.New("signature mismatch")
)
