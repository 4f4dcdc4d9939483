package taskauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskvault/taskauth/record"
	"github.com/taskvault/taskauth/token"
)

// Engine is the authentication core: it exchanges credentials for token
// pairs, rotates refresh tokens, detects reuse, and revokes sessions.
// Safe for concurrent use after [Builder.Build].
type Engine struct {
	config   Config
	store    record.Store
	codec    *token.Codec
	identity IdentityProvider
	log      *slog.Logger
	metrics  *Metrics
}

// Store returns the underlying refresh-record store, for wiring the reaper.
func (e *Engine) Store() record.Store {
	return e.store
}

// Login verifies primary credentials and, on success, issues a fresh token
// pair rooted in a new rotation chain.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	subject, err := e.identity.VerifyCredentials(ctx, identifier, secret)
	if err != nil {
		if errors.Is(err, record.ErrStoreUnavailable) {
			e.metrics.observeLogin("unavailable")
			return TokenPair{}, err
		}
		e.metrics.observeLogin("denied")
		return TokenPair{}, ErrInvalidCredentials
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	rec, err := e.store.Create(opCtx, subject, e.config.Refresh.TTL)
	if err != nil {
		e.metrics.observeLogin("unavailable")
		return TokenPair{}, err
	}

	pair, err := e.buildPair(rec)
	if err != nil {
		e.metrics.observeLogin("unavailable")
		return TokenPair{}, err
	}

	e.metrics.observeLogin("ok")
	e.log.Info("login succeeded", "subject", subject, "chain", rec.ChainID)
	return pair, nil
}

// Refresh exchanges a live refresh token for a new token pair, rotating the
// presented token in the process. Presenting an already-rotated token is
// treated as theft evidence: the entire chain is revoked and ErrRefreshReuse
// returned. Under concurrent presentation of the same token exactly one call
// wins; the rest observe reuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	rec, err := e.store.Lookup(opCtx, refreshToken)
	if errors.Is(err, record.ErrNotFound) {
		e.metrics.observeRefresh("invalid")
		return TokenPair{}, ErrRefreshInvalid
	}
	if err != nil {
		e.metrics.observeRefresh("unavailable")
		return TokenPair{}, err
	}

	// Status is judged before expiry: a consumed token must keep yielding
	// the reuse verdict even once it has aged past its own expiry.
	switch rec.Status {
	case record.StatusActive:
		if rec.Expired(time.Now()) {
			e.metrics.observeRefresh("expired")
			return TokenPair{}, ErrRefreshExpired
		}

		// Commit the rotation before the successor exists. If we crash in
		// between, the chain dies instead of leaving two active records.
		successorID := uuid.NewString()
		err = e.store.MarkRotated(opCtx, rec.ID, successorID)
		if errors.Is(err, record.ErrInvalidTransition) {
			// Lost the race to a concurrent presentation of the same token.
			return TokenPair{}, e.handleReuse(opCtx, rec)
		}
		if errors.Is(err, record.ErrNotFound) {
			e.metrics.observeRefresh("invalid")
			return TokenPair{}, ErrRefreshInvalid
		}
		if err != nil {
			e.metrics.observeRefresh("unavailable")
			return TokenPair{}, err
		}

		successor, err := e.store.CreateSuccessor(opCtx, rec, successorID, e.config.Refresh.TTL)
		if err != nil {
			e.metrics.observeRefresh("unavailable")
			return TokenPair{}, err
		}

		// Re-check the predecessor: a concurrent reuse detection may have
		// revoked the chain before the successor row existed, in which case
		// the successor must go down with it.
		pred, err := e.store.Lookup(opCtx, rec.ID)
		if err != nil && !errors.Is(err, record.ErrNotFound) {
			e.metrics.observeRefresh("unavailable")
			return TokenPair{}, err
		}
		if err == nil && pred.Status == record.StatusRevoked {
			return TokenPair{}, e.handleReuse(opCtx, rec)
		}

		pair, err := e.buildPair(successor)
		if err != nil {
			e.metrics.observeRefresh("unavailable")
			return TokenPair{}, err
		}

		e.metrics.observeRefresh("ok")
		return pair, nil

	case record.StatusRotated, record.StatusRevoked:
		// Any consumed token presented again is treated as reuse, revoked
		// ones included, so a replay always maps to the same verdict.
		return TokenPair{}, e.handleReuse(opCtx, rec)

	default:
		e.metrics.observeRefresh("unavailable")
		return TokenPair{}, fmt.Errorf("%w: unexpected record status %v", record.ErrStoreUnavailable, rec.Status)
	}
}

func (e *Engine) handleReuse(ctx context.Context, rec record.Record) error {
	if err := e.store.RevokeChain(ctx, rec.ChainID); err != nil {
		e.metrics.observeRefresh("unavailable")
		return err
	}
	e.metrics.observeReuse()
	e.metrics.observeRefresh("reuse")
	e.log.Warn("refresh token reuse detected, chain revoked",
		"subject", rec.Owner,
		"chain", rec.ChainID,
	)
	return ErrRefreshReuse
}

// Logout revokes the presented refresh token. Idempotent: revoking an
// unknown or already-revoked token succeeds, so logout never fails for lack
// of session state. The access token stays valid until its own expiry.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	if err := e.store.MarkRevoked(opCtx, refreshToken); err != nil {
		return err
	}
	e.metrics.observeLogout()
	return nil
}

// Verify checks an access token's signature and expiry and returns its
// subject. Purely cryptographic; no store access.
func (e *Engine) Verify(accessToken string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	return e.codec.Verify(accessToken)
}

func (e *Engine) buildPair(rec record.Record) (TokenPair, error) {
	signed, expiresAt, err := e.codec.Issue(rec.Owner, time.Now())
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      signed,
		AccessExpiresAt:  expiresAt,
		RefreshToken:     rec.ID,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.StoreTimeout)
}
