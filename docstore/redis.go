package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/choreoflow/choreoctl/cperrors"
)

// RedisStore implements Store on top of a *redis.Client. Each document is
// stored as a single JSON blob under its key (the RedisJSON module is not
// required); concurrent updates are guarded with redis.Client.Watch, which
// gives the same WATCH/MULTI/EXEC semantics spec.md §4.1 asks for.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client. The caller owns the
// client's lifecycle (mirrors the teacher's registry.Config.Redis
// ownership convention).
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

var _ Store = (*RedisStore)(nil)

// Create writes doc to key only if absent, using SETNX semantics.
func (s *RedisStore) Create(ctx context.Context, key string, doc any, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return false, cperrors.Wrap(cperrors.KindInvalidInput, err, "marshal document %q", key)
	}
	ok, err := s.rdb.SetNX(ctx, key, b, ttl).Result()
	if err != nil {
		return false, cperrors.Wrap(cperrors.KindBackendError, err, "create %q", key)
	}
	return ok, nil
}

// Get loads key into out.
func (s *RedisStore) Get(ctx context.Context, key string, out any) error {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return NotFound(key)
		}
		return cperrors.Wrap(cperrors.KindBackendError, err, "get %q", key)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return cperrors.Wrap(cperrors.KindBackendError, err, "unmarshal %q", key)
	}
	return nil
}

// Update performs an optimistic read-modify-write guarded by redis WATCH.
func (s *RedisStore) Update(ctx context.Context, key string, requireExists bool, fn func(current json.RawMessage) (any, error)) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if requireExists {
					return NotFound(key)
				}
				raw = nil
			} else {
				return cperrors.Wrap(cperrors.KindBackendError, err, "get %q", key)
			}
		}
		next, err := fn(json.RawMessage(raw))
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		nb, err := json.Marshal(next)
		if err != nil {
			return cperrors.Wrap(cperrors.KindInvalidInput, err, "marshal next value for %q", key)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, nb, 0)
			return nil
		})
		return err
	}

	err := s.rdb.Watch(ctx, txf, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return cperrors.New(cperrors.KindConflict, "concurrent write to %q, retry", key)
		}
		var ce *cperrors.Error
		if asErr(err, &ce) {
			return ce
		}
		return cperrors.Wrap(cperrors.KindBackendError, err, "update %q", key)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return cperrors.Wrap(cperrors.KindBackendError, err, "delete %q", key)
	}
	return nil
}

// Keys scans for keys matching prefix+"*". Uses SCAN rather than KEYS to
// avoid blocking the server on large keyspaces.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, cperrors.Wrap(cperrors.KindBackendError, err, "scan %q*", prefix)
	}
	return out, nil
}

// Expire applies a TTL to an existing key. Used for OutputDoc TTLs (spec §3.3).
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return cperrors.Wrap(cperrors.KindBackendError, err, "expire %q", key)
	}
	if !ok {
		return cperrors.New(cperrors.KindNotFound, "expire %q: key missing", key)
	}
	return nil
}

func asErr(err error, target **cperrors.Error) bool {
	for err != nil {
		if ce, ok := err.(*cperrors.Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KeyForPrefix joins the canonical colon-separated key segments used
// throughout the control plane (cp:wf:{id}:meta, dp:wf:{id}:output:{s}, ...).
func KeyForPrefix(parts ...string) string {
	return strings.Join(parts, ":")
}
