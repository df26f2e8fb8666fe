package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking
// infrastructure details. ErrInvalidOrExpiredCode deliberately conflates
// "wrong code", "expired", "already used" and "superseded" so the response
// never reveals which case occurred.
var (
	ErrAlreadyRegistered    = errors.New("email already registered")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrWeakCredential       = errors.New("password too weak")
	ErrAccountNotFound      = errors.New("account not found")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrDeliveryUnavailable  = errors.New("delivery unavailable")
	ErrBadRequest           = errors.New("bad request")
)
