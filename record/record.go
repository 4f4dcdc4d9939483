package record

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a refresh-token record.
type Status uint8

const (
	// StatusActive marks the single usable record of a rotation chain.
	StatusActive Status = iota
	// StatusRotated marks a record whose successor has been issued.
	StatusRotated
	// StatusRevoked marks a record invalidated by logout or reuse detection.
	StatusRevoked
)

// String returns the storage representation of s.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRotated:
		return "rotated"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of [Status.String].
func ParseStatus(v string) (Status, error) {
	switch v {
	case "active":
		return StatusActive, nil
	case "rotated":
		return StatusRotated, nil
	case "revoked":
		return StatusRevoked, nil
	default:
		return 0, errors.New("record: unknown status " + v)
	}
}

var (
	// ErrNotFound is returned by Lookup when no record has the given id.
	ErrNotFound = errors.New("refresh record not found")
	// ErrInvalidTransition is returned by MarkRotated when the record is not
	// currently active. Exactly one of N concurrent MarkRotated calls on an
	// active record succeeds; the rest observe this error.
	ErrInvalidTransition = errors.New("refresh record not active")
	// ErrStoreUnavailable wraps transient backend failures. Retryable by the
	// caller and never conflated with ErrNotFound.
	ErrStoreUnavailable = errors.New("refresh store unavailable")
)

// Record is a persisted refresh-token record. The id doubles as the opaque
// value transported in the refresh cookie; no secret material is stored.
type Record struct {
	ID            string
	Owner         string
	ChainID       string
	PredecessorID string
	SuccessorID   string
	Status        Status
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the record's expiry is strictly before now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Store persists refresh-token records. Implementations must make
// MarkRotated a single atomic compare-and-swap so that concurrent rotation
// attempts on the same record admit exactly one winner, and must tolerate a
// record disappearing mid-sweep (concurrent deletion counts as swept).
type Store interface {
	// Create inserts a new active chain-root record for owner. The record's
	// ChainID equals its ID; every descendant inherits it.
	Create(ctx context.Context, owner string, ttl time.Duration) (Record, error)

	// CreateSuccessor inserts a new active record continuing predecessor's
	// chain. The id is chosen by the caller so that MarkRotated can commit
	// the rotation before the successor row exists.
	CreateSuccessor(ctx context.Context, predecessor Record, id string, ttl time.Duration) (Record, error)

	// Lookup returns the record with the given id or ErrNotFound.
	Lookup(ctx context.Context, id string) (Record, error)

	// MarkRotated atomically transitions id from active to rotated and
	// records its successor. Returns ErrInvalidTransition when the record is
	// not active and ErrNotFound when it does not exist.
	MarkRotated(ctx context.Context, id, successorID string) error

	// MarkRevoked transitions id to revoked from any status. Idempotent;
	// revoking a missing or already-revoked record is not an error.
	MarkRevoked(ctx context.Context, id string) error

	// RevokeChain revokes every live record whose ChainID matches.
	RevokeChain(ctx context.Context, chainID string) error

	// SweepExpired deletes all records with expiry strictly before now and
	// returns how many were removed. Records expiring exactly at now are
	// retained. Safe to run concurrently with every other operation.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
