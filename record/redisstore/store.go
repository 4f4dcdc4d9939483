// Package redisstore implements record.Store on Redis.
//
// Each record is a hash keyed by id, chain membership is tracked in a set,
// and a sorted set indexed by expiry drives the sweep. Status transitions and
// the sweep run as Lua scripts so they are atomic against concurrent
// rotation, revocation, and deletion.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taskvault/taskauth/record"
)

const (
	rotateStatusNotFound  int64 = 0
	rotateStatusNotActive int64 = 1
	rotateStatusRotated   int64 = 2

	sweepBatchSize = 1000
)

const markRotatedScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "status") ~= "active" then
  return 1
end
redis.call("HSET", KEYS[1], "status", "rotated", "succ", ARGV[1])
return 2
`

var markRotatedLua = redis.NewScript(markRotatedScript)

const markRevokedScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "status", "revoked")
return 1
`

var markRevokedLua = redis.NewScript(markRevokedScript)

const revokeChainScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 1 then
    redis.call("HSET", key, "status", "revoked")
    n = n + 1
  end
end
return n
`

var revokeChainLua = redis.NewScript(revokeChainScript)

const sweepScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1], "LIMIT", 0, tonumber(ARGV[4]))
local deleted = 0
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  local chain = redis.call("HGET", key, "chain")
  if chain then
    redis.call("SREM", ARGV[3] .. chain, id)
  end
  if redis.call("DEL", key) == 1 then
    deleted = deleted + 1
  end
  redis.call("ZREM", KEYS[1], id)
end
return {#ids, deleted}
`

var sweepLua = redis.NewScript(sweepScript)

// Store is a Redis-backed record.Store. Safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

// New creates a Store using prefix as the key namespace. grace is added to
// each record's TTL as a storage-level expiry so keys self-heal even if the
// sweep never runs; the sweep remains the authoritative cleanup. A
// non-positive grace defaults to 24h.
func New(client redis.UniversalClient, prefix string, grace time.Duration) *Store {
	if prefix == "" {
		prefix = "rt"
	}
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	return &Store{redis: client, prefix: prefix, grace: grace}
}

func (s *Store) recKey(id string) string {
	return s.prefix + ":rec:" + id
}

func (s *Store) recKeyPrefix() string {
	return s.prefix + ":rec:"
}

func (s *Store) chainKey(chainID string) string {
	return s.prefix + ":chain:" + chainID
}

func (s *Store) chainKeyPrefix() string {
	return s.prefix + ":chain:"
}

func (s *Store) expKey() string {
	return s.prefix + ":exp"
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
	if err := s.save(ctx, rec, ttl); err != nil {
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
	if err := s.save(ctx, rec, ttl); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

func (s *Store) save(ctx context.Context, rec record.Record, ttl time.Duration) error {
	fields := map[string]interface{}{
		"owner":  rec.Owner,
		"chain":  rec.ChainID,
		"status": rec.Status.String(),
		"iat":    rec.IssuedAt.Unix(),
		"exp":    rec.ExpiresAt.Unix(),
	}
	if rec.PredecessorID != "" {
		fields["pred"] = rec.PredecessorID
	}

	// An already-expired record must stay visible until the sweep removes
	// it, so the backstop TTL never drops below the grace window.
	storageTTL := ttl + s.grace
	if storageTTL < s.grace {
		storageTTL = s.grace
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recKey(rec.ID), fields)
		pipe.Expire(ctx, s.recKey(rec.ID), storageTTL)
		pipe.SAdd(ctx, s.chainKey(rec.ChainID), rec.ID)
		pipe.Expire(ctx, s.chainKey(rec.ChainID), storageTTL)
		pipe.ZAdd(ctx, s.expKey(), redis.Z{Score: float64(rec.ExpiresAt.Unix()), Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return nil
}

// Lookup returns the record with the given id.
func (s *Store) Lookup(ctx context.Context, id string) (record.Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recKey(id)).Result()
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return record.Record{}, record.ErrNotFound
	}
	return decode(id, fields)
}

func decode(id string, fields map[string]string) (record.Record, error) {
	status, err := record.ParseStatus(fields["status"])
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: corrupt issued-at for %s", record.ErrStoreUnavailable, id)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: corrupt expiry for %s", record.ErrStoreUnavailable, id)
	}
	return record.Record{
		ID:            id,
		Owner:         fields["owner"],
		ChainID:       fields["chain"],
		PredecessorID: fields["pred"],
		SuccessorID:   fields["succ"],
		Status:        status,
		IssuedAt:      time.Unix(iat, 0),
		ExpiresAt:     time.Unix(exp, 0),
	}, nil
}

// MarkRotated atomically transitions id from active to rotated via a Lua
// compare-and-swap. Exactly one of N concurrent calls succeeds.
func (s *Store) MarkRotated(ctx context.Context, id, successorID string) error {
	code, err := markRotatedLua.Run(ctx, s.redis, []string{s.recKey(id)}, successorID).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	switch code {
	case rotateStatusNotFound:
		return record.ErrNotFound
	case rotateStatusNotActive:
		return record.ErrInvalidTransition
	case rotateStatusRotated:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotate script status %d", record.ErrStoreUnavailable, code)
	}
}

// MarkRevoked transitions id to revoked. Missing records are ignored.
func (s *Store) MarkRevoked(ctx context.Context, id string) error {
	if _, err := markRevokedLua.Run(ctx, s.redis, []string{s.recKey(id)}).Int64(); err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeChain revokes every live record in the chain in one atomic script.
func (s *Store) RevokeChain(ctx context.Context, chainID string) error {
	_, err := revokeChainLua.Run(
		ctx,
		s.redis,
		[]string{s.chainKey(chainID)},
		s.recKeyPrefix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return nil
}

// SweepExpired deletes all records with expiry strictly before now, batching
// through the expiry index. A record already gone by the time its batch runs
// is skipped without error.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		res, err := sweepLua.Run(
			ctx,
			s.redis,
			[]string{s.expKey()},
			now.Unix(),
			s.recKeyPrefix(),
			s.chainKeyPrefix(),
			sweepBatchSize,
		).Result()
		if err != nil {
			return total, fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
		}

		parts, ok := res.([]interface{})
		if !ok || len(parts) != 2 {
			return total, fmt.Errorf("%w: invalid sweep script response", record.ErrStoreUnavailable)
		}
		scanned, ok1 := parts[0].(int64)
		deleted, ok2 := parts[1].(int64)
		if !ok1 || !ok2 {
			return total, fmt.Errorf("%w: invalid sweep script counts", record.ErrStoreUnavailable)
		}

		total += int(deleted)
		if scanned < sweepBatchSize {
			return total, nil
		}
	}
}

// Ping reports point-in-time backend availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", record.ErrStoreUnavailable, err)
	}
	return nil
}
