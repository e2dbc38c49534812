// Package docstore provides the JSON-capable document store abstraction the
// rest of the control plane is built on: atomic read/replace of a JSON
// document at a key, with optimistic concurrency, grounded the same way the
// teacher's registry/store/replicated package wraps a Redis-backed map
// behind a small, test-friendly interface rather than coupling callers to a
// concrete client.
//
// The reference implementation (RedisStore) targets Redis with RedisJSON
// disabled — it stores each document as a single opaque JSON blob under a
// plain string key and uses go-redis's optimistic-locking transaction
// (Watch) to emulate RedisJSON's WATCH/MULTI/EXEC semantics described in
// spec.md §4.1, per the "if the backend lacks JSON path patches, implement
// read-modify-write at the document root under WATCH" fallback the spec
// calls out. Dotted-path patches are applied in-process before the
// transaction commits (see Path).
package docstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/choreoflow/choreoctl/cperrors"
)

// Store is the minimal contract required by every control-plane component
// that reads or mutates a JSON document. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create writes doc to key only if the key does not already exist.
	// Returns (true, nil) if the key was created, (false, nil) if it already
	// existed (the existing value is left untouched).
	Create(ctx context.Context, key string, doc any, ttl time.Duration) (created bool, err error)

	// Get reads the document at key into out (a pointer). Returns
	// cperrors.KindNotFound if the key does not exist.
	Get(ctx context.Context, key string, out any) error

	// Update performs an optimistic read-modify-write on key: it loads the
	// current document, calls fn with a generic decode of it, and if fn
	// returns a non-nil replacement, commits it only if the key was not
	// modified concurrently. Returns cperrors.KindConflict if the commit
	// loses the race; callers that want a retry loop should call Update
	// again. Returns cperrors.KindNotFound if the key does not exist and
	// requireExists is true.
	Update(ctx context.Context, key string, requireExists bool, fn func(current json.RawMessage) (next any, err error)) error

	// Delete removes key. Not used by the control plane itself (spec §8
	// invariant 7: finalize never deletes a cp:/dp: key); no package in
	// this module calls it.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys currently matching prefix. Used sparingly (the
	// control plane addresses documents directly by key); intended for
	// maintenance/introspection tooling, not hot paths.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// NotFound is a sentinel helper for implementations to build a
// cperrors.Error of kind KindNotFound.
func NotFound(key string) error {
	return cperrors.New(cperrors.KindNotFound, "document %q not found", key)
}
