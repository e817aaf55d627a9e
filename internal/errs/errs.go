// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across store/service layers.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAuthRequired indicates there is no usable session for the operation.
	ErrAuthRequired = errors.New("auth required")

	// ErrSessionExpired indicates the provider rejected the session token (401).
	// The token lifecycle is the only place that produces it.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoClientConfig indicates the OAuth client id/secret are not configured.
	ErrNoClientConfig = errors.New("oauth client not configured")

	// ErrUserCancelled indicates the user abandoned an interactive consent flow.
	ErrUserCancelled = errors.New("user cancelled")

	// ErrStateInvalid indicates a malformed, tampered or expired signed OAuth state.
	ErrStateInvalid = errors.New("oauth state invalid")

	// ErrPermissionDenied indicates a store read rejected by the sharing ACL.
	ErrPermissionDenied = errors.New("permission denied")

	// Friend graph outcomes. The ALREADY_* ones are idempotent no-ops rather
	// than true failures; callers report them, they never corrupt state.
	ErrSelfRequest        = errors.New("cannot send a friend request to yourself")
	ErrAlreadyPending     = errors.New("request already pending")
	ErrAlreadyFriends     = errors.New("already friends")
	ErrIncomingExists     = errors.New("incoming request already exists")
	ErrFriendshipNotFound = errors.New("friendship not found")
)

// ProviderError carries the HTTP status and raw body of a non-2xx calendar
// provider response.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: status %d: %s", e.Status, e.Body)
}

// IsUnauthorized reports whether err is a provider 401.
func IsUnauthorized(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Status == 401
}
