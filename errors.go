package taskauth

import "errors"

var (
	// ErrInvalidCredentials is returned by Login when the identity provider
	// rejects the identifier/secret pair. Deliberately generic; callers must
	// not reveal whether the identifier exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshInvalid is returned by Refresh when the presented token is
	// unknown to the store.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshExpired is returned by Refresh when the record exists but its
	// expiry has passed. The record is left for the reaper.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshReuse is returned by Refresh when an already-rotated token is
	// presented. The whole rotation chain is revoked before this is returned.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrEngineNotReady is returned when an Engine method is called on a nil
	// or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
