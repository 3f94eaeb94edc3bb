package domain

import "errors"

// Authentication errors
var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrWeakPassword           = errors.New("password does not meet requirements")
	ErrOAuthInitiationFailed  = errors.New("failed to initiate OAuth flow")
	ErrProviderUnavailable    = errors.New("identity provider unavailable")
)

// Profile errors
var (
	ErrUnauthorized = errors.New("not authorized for this record")
	ErrPersistence  = errors.New("persistence failure")
)
