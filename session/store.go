package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no live session exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrRefreshHashMismatch is returned by RotateRefreshHash when the
	// presented refresh secret is not the current one. The session has been
	// deleted by the time the caller sees it.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	// ErrRedisUnavailable wraps transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const maxRotateAttempts = 3

// deleteScript removes the session blob and its user-index entry in one
// step. It returns 1 when the blob existed.
var deleteScript = redis.NewScript(`
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`)

// Store is a Redis-backed session store.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewStore returns a Store that namespaces keys under prefix ("mg:sess" when
// empty).
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "mg:sess"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Save writes rec with the given TTL and indexes it under its user.
func (s *Store) Save(ctx context.Context, rec *Record, ttl time.Duration) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	userKey := s.userKey(rec.UserID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.SessionID), data, ttl)
		pipe.SAdd(ctx, userKey, rec.SessionID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Get returns the live session for sessionID. An expired blob that Redis has
// not yet evicted is deleted and reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if rec.Expired(time.Now()) {
		if err := s.remove(ctx, rec.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return rec, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return unavailable(err)
	}

	rec, err := Decode(data)
	if err != nil {
		// Unreadable blobs are dropped without touching any index.
		if delErr := s.rdb.Del(ctx, s.key(sessionID)).Err(); delErr != nil {
			return unavailable(delErr)
		}
		return nil
	}
	return s.remove(ctx, rec.UserID, sessionID)
}

func (s *Store) remove(ctx context.Context, userID, sessionID string) error {
	keys := []string{s.key(sessionID), s.userKey(userID)}
	if err := deleteScript.Run(ctx, s.rdb, keys, sessionID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(err)
	}
	return nil
}

// DeleteAllForUser removes every indexed session of userID. A session saved
// concurrently with this call may survive it.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)
	ids, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.key(id))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ActiveSessionIDs lists the session ids indexed for userID.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	return ids, nil
}

// RotateRefreshHash replaces the stored refresh hash with next if and only if
// the current one equals presented. The key is WATCHed so a concurrent
// rotation aborts this one; the loser retries and then sees a mismatch.
//
// A mismatch means an old refresh secret was replayed: the session is
// deleted and ErrRefreshHashMismatch is returned.
func (s *Store) RotateRefreshHash(ctx context.Context, sessionID string, presented, next [32]byte) (*Record, error) {
	key := s.key(sessionID)

	var rotated *Record
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		rec, err := Decode(data)
		if err != nil {
			return err
		}

		if rec.Expired(time.Now()) {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.userKey(rec.UserID), sessionID)
				return nil
			})
			if err != nil {
				return err
			}
			return ErrNotFound
		}

		if rec.RefreshHash != presented {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.userKey(rec.UserID), sessionID)
				return nil
			})
			if err != nil {
				return err
			}
			return ErrRefreshHashMismatch
		}

		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return err
		}
		if ttl <= 0 {
			ttl = time.Until(rec.ExpiresAtTime())
		}
		if ttl <= 0 {
			return ErrNotFound
		}

		rec.RefreshHash = next
		updated, err := Encode(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		rotated = rec
		return nil
	}

	for attempt := 0; attempt < maxRotateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return rotated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrRefreshHashMismatch), errors.Is(err, ErrCorruptRecord):
			return nil, err
		default:
			return nil, unavailable(err)
		}
	}
	// Every attempt lost a race: some other caller rotated first, which
	// makes our presented hash stale.
	return nil, ErrRefreshHashMismatch
}
