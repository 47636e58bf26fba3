package auth

import "errors"

var (
	// ErrUnknownAuthProvider signals a Config.Type with no registered
	// factory (spec.md §4.8).
	ErrUnknownAuthProvider = errors.New("auth: unknown provider type")

	// ErrInvalidCredentials signals Login failed for the given credentials.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken signals ValidateToken was given an expired or
	// malformed token.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrNotAuthenticated signals no provider has a currently valid token.
	ErrNotAuthenticated = errors.New("auth: not authenticated")

	// ErrStorage wraps a storage adapter failure.
	ErrStorage = errors.New("auth: storage error")
)
