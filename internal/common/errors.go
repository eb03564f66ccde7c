// Package common defines shared constants and sentinel errors used across
// the storage, relay and transport layers of filerelay. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound        = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrRateLimited    = errors.New("too many requests")

	// Validation errors: bad or missing fields, disallowed type, oversize.
	ErrValidation      = errors.New("validation error")
	ErrTooLarge        = errors.New("file exceeds maximum size")
	ErrTypeNotAllowed  = errors.New("file type not allowed")
	ErrInvalidChunk    = errors.New("invalid chunk")
	ErrStorage         = errors.New("storage error")
	ErrDecryptFailed   = errors.New("decryption failed")
	ErrInvalidSession  = errors.New("invalid session")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnknownEvent    = errors.New("unknown event")
	ErrSessionTimedOut = errors.New("session timed out")

	// ErrRecipientUnavailable is returned when a transfer is initiated
	// towards an identity without any live connection.
	ErrRecipientUnavailable = errors.New("recipient unavailable")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
