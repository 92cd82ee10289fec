package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrVerificationNotFound         = errors.New("verification record not found")
	ErrVerificationSecretMismatch   = errors.New("verification secret mismatch")
	ErrVerificationAttemptsExceeded = errors.New("verification attempts exceeded")
	ErrVerificationRedisUnavailable = errors.New("verification redis unavailable")
)

// KEYS[1] = record key
// ARGV[1] = provided secret hash (32 bytes)
// ARGV[2] = max attempts
//
// Returns {user_id, email} on success, or an error reply named after the
// failure.
var consumeVerificationLua = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'hash')
if not stored then
  return {err='not_found'}
end

if stored ~= ARGV[1] then
  local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
  if attempts >= tonumber(ARGV[2]) then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  return {err='secret_mismatch'}
end

local uid = redis.call('HGET', KEYS[1], 'user_id')
local email = redis.call('HGET', KEYS[1], 'email')
redis.call('DEL', KEYS[1])
return {uid, email}
`)

// VerificationRecord is what a confirmed code resolves to.
type VerificationRecord struct {
	UserID string
	Email  string
}

// VerificationStore persists pending email verifications.
type VerificationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewVerificationStore(redisClient redis.UniversalClient, prefix string) *VerificationStore {
	if prefix == "" {
		prefix = "mg:vc"
	}
	return &VerificationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *VerificationStore) key(verificationID string) string {
	return s.prefix + ":" + verificationID
}

// Save writes a record that expires after ttl.
func (s *VerificationStore) Save(
	ctx context.Context,
	verificationID string,
	record VerificationRecord,
	secretHash [32]byte,
	ttl time.Duration,
) error {
	key := s.key(verificationID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", record.UserID,
			"email", record.Email,
			"hash", string(secretHash[:]),
			"attempts", 0,
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return nil
}

// Consume checks the secret hash and deletes the record on success. A
// wrong secret counts an attempt; at maxAttempts the record is destroyed.
func (s *VerificationStore) Consume(
	ctx context.Context,
	verificationID string,
	providedHash [32]byte,
	maxAttempts int,
) (*VerificationRecord, error) {
	result, err := consumeVerificationLua.Run(ctx, s.redis,
		[]string{s.key(verificationID)},
		string(providedHash[:]),
		maxAttempts,
	).Result()
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "not_found"):
			return nil, ErrVerificationNotFound
		case strings.Contains(err.Error(), "attempts_exceeded"):
			return nil, ErrVerificationAttemptsExceeded
		case strings.Contains(err.Error(), "secret_mismatch"):
			return nil, ErrVerificationSecretMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
		}
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("%w: unexpected lua result", ErrVerificationRedisUnavailable)
	}
	userID, _ := parts[0].(string)
	email, _ := parts[1].(string)
	if userID == "" {
		return nil, ErrVerificationNotFound
	}

	return &VerificationRecord{UserID: userID, Email: email}, nil
}
