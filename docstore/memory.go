package docstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/choreoflow/choreoctl/cperrors"
)

// MemoryStore is an in-memory Store, suitable for tests and single-process
// development where Redis is unavailable. It is safe for concurrent use.
// Grounded on the teacher's registry/store/memory.Store: a mutex-guarded map
// behind the same interface as the production backend.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]json.RawMessage
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]json.RawMessage{}}
}

func (s *MemoryStore) Create(ctx context.Context, key string, doc any, ttl time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[key]; exists {
		return false, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return false, cperrors.Wrap(cperrors.KindInvalidInput, err, "marshal document %q", key)
	}
	s.docs[key] = b
	if ttl > 0 {
		go func() {
			time.Sleep(ttl)
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.docs, key)
		}()
	}
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string, out any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	b, ok := s.docs[key]
	s.mu.Unlock()
	if !ok {
		return NotFound(key)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return cperrors.Wrap(cperrors.KindBackendError, err, "unmarshal %q", key)
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, requireExists bool, fn func(current json.RawMessage) (any, error)) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.docs[key]
	if !exists {
		if requireExists {
			return NotFound(key)
		}
		current = nil
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	b, err := json.Marshal(next)
	if err != nil {
		return cperrors.Wrap(cperrors.KindInvalidInput, err, "marshal next value for %q", key)
	}
	s.docs[key] = b
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.docs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}
