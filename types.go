package taskauth

import (
	"context"
	"time"
)

// IdentityProvider authenticates primary credentials. Implementations own the
// credential storage and hashing; the engine only consumes the verdict.
//
// VerifyCredentials returns the stable subject id for the authenticated
// identity, or an error when the pair does not match. The engine folds every
// non-infrastructure failure into ErrInvalidCredentials so that provider
// internals never leak to callers.
type IdentityProvider interface {
	VerifyCredentials(ctx context.Context, identifier, secret string) (string, error)
}

// TokenPair is the result of a successful login or refresh: a signed access
// token and the opaque refresh token that replaces any predecessor.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
