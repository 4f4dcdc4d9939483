// Package sqlitestore implements record.Store on a single SQLite file.
//
// Suited to single-node deployments where running Redis is not worth it.
// Status transitions use conditional UPDATEs, so the compare-and-swap
// guarantee of record.Store holds under SQLite's serialized writes.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/taskvault/taskauth/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS refresh_records (
	id             TEXT PRIMARY KEY,
	owner          TEXT NOT NULL,
	chain_id       TEXT NOT NULL,
	predecessor_id TEXT NOT NULL DEFAULT '',
	successor_id   TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	issued_at      INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refresh_records_chain ON refresh_records (chain_id);
CREATE INDEX IF NOT EXISTS idx_refresh_records_expiry ON refresh_records (expires_at);
`

// Store is a SQLite-backed record.Store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: storage path is required")
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new active chain-root record for owner.
func (s *Store) Create(ctx context.Context, owner string, ttl time.Duration) (record.Record, error) {
	id := uuid.NewString()
	now := time.Now().Truncate(time.Second)
	rec := record.Record{
		ID:        id,
		Owner:     owner,
		ChainID:   id,
		Status:    record.StatusActive,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.insert(ctx, rec); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// CreateSuccessor inserts a new active record with the caller-chosen id,
// inheriting predecessor's owner and chain.
func (s *Store) CreateSuccessor(ctx context.Context, predecessor record.Record, id string, ttl time.Duration) (record.Record, error) {
	now := time.Now().Truncate(time.Second)
	rec := record.Record{
		ID:            id,
		Owner:         predecessor.Owner,
		ChainID:       predecessor.ChainID,
		PredecessorID: predecessor.ID,
		Status:        record.StatusActive,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := s.insert(ctx, rec); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

func (s *Store) insert(ctx context.Context, rec record.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_records (id, owner, chain_id, predecessor_id, status, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Owner, rec.ChainID, rec.PredecessorID,
		rec.Status.String(), rec.IssuedAt.Unix(), rec.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return nil
}

// Lookup returns the record with the given id.
func (s *Store) Lookup(ctx context.Context, id string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner, chain_id, predecessor_id, successor_id, status, issued_at, expires_at
		FROM refresh_records WHERE id = ?`, id)

	var (
		rec         record.Record
		statusStr   string
		issuedUnix  int64
		expiresUnix int64
	)
	rec.ID = id
	err := row.Scan(&rec.Owner, &rec.ChainID, &rec.PredecessorID, &rec.SuccessorID,
		&statusStr, &issuedUnix, &expiresUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, record.ErrNotFound
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}

	status, err := record.ParseStatus(statusStr)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	rec.Status = status
	rec.IssuedAt = time.Unix(issuedUnix, 0)
	rec.ExpiresAt = time.Unix(expiresUnix, 0)
	return rec, nil
}

// MarkRotated transitions id from active to rotated via a conditional UPDATE.
// Exactly one of N concurrent calls observes a changed row.
func (s *Store) MarkRotated(ctx context.Context, id, successorID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_records SET status = ?, successor_id = ?
		WHERE id = ? AND status = ?`,
		record.StatusRotated.String(), successorID, id, record.StatusActive.String(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	if n == 1 {
		return nil
	}

	// Nothing changed: distinguish missing from already transitioned.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM refresh_records WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return record.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return record.ErrInvalidTransition
}

// MarkRevoked transitions id to revoked. Missing records are ignored.
func (s *Store) MarkRevoked(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_records SET status = ? WHERE id = ?`,
		record.StatusRevoked.String(), id,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeChain revokes every record in the chain in one statement.
func (s *Store) RevokeChain(ctx context.Context, chainID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE refresh_records SET status = ? WHERE chain_id = ?`,
		record.StatusRevoked.String(), chainID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return nil
}

// SweepExpired deletes all records with expiry strictly before now.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM refresh_records WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return int(n), nil
}

// Ping reports point-in-time backend availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return nil
}
