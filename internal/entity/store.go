package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"go.uber.org/zap"
)

// State is a point-in-time copy of a store.
type State[T any] struct {
	Items   []T    `json:"items"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// Store holds the canonical in-memory list for one entity type.
//
// Reads (Load, GetByID, Search) swallow backend errors into the error slot
// and leave Items untouched. Writes (Create, Update, Delete) set the error
// slot and return the error to the caller. The mutex only guards state:
// backend calls are not serialized, so concurrent actions apply in response
// order, not request order.
type Store[T Entity] struct {
	name    string
	src     Source[T]
	cache   port.Cache[T]
	metrics *observability.Metrics
	logger  *zap.Logger

	mu        sync.RWMutex
	items     []T
	loading   bool
	err       string
	listeners []func(State[T])
	// versions counts changes per id; it is part of every detail cache key.
	versions map[string]uint64
}

// NewStore creates an empty store. cache may be nil.
func NewStore[T Entity](name string, src Source[T], cache port.Cache[T], metrics *observability.Metrics, logger *zap.Logger) *Store[T] {
	return &Store[T]{
		name:     name,
		src:      src,
		cache:    cache,
		metrics:  metrics,
		logger:   logger.With(zap.String("store", name)),
		items:    []T{},
		versions: map[string]uint64{},
	}
}

// Name returns the entity name the store was registered with.
func (s *Store[T]) Name() string { return s.name }

// OnChange registers fn to be called with a snapshot after every mutation.
func (s *Store[T]) OnChange(fn func(State[T])) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns a copy of the current state.
func (s *Store[T]) Snapshot() State[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Items returns a copy of the current list.
func (s *Store[T]) Items() []T {
	return s.Snapshot().Items
}

// Load replaces Items with the backend list. On failure Items stay as they were.
func (s *Store[T]) Load(ctx context.Context, f Filter) {
	s.begin()
	items, err := s.src.List(ctx, f)
	if err != nil {
		s.fail("load", err)
		return
	}
	s.commit("load", func() { s.items = orEmpty(items) })
}

// Search replaces Items with the search result. The unfiltered list is not kept.
func (s *Store[T]) Search(ctx context.Context, term string) {
	s.begin()
	items, err := s.src.Search(ctx, term)
	if err != nil {
		s.fail("search", err)
		return
	}
	s.commit("search", func() { s.items = orEmpty(items) })
}

// GetByID fetches one entity for a detail view. It never touches Items;
// the shared list and the returned entity may diverge until the next Load.
// It returns nil when the entity does not exist or the fetch failed.
func (s *Store[T]) GetByID(ctx context.Context, id string) *T {
	v, _ := s.Lookup(ctx, id)
	return v
}

// Lookup is GetByID returning the fetch error to the caller as well. Detail
// cache entries are private to the caller's session, so a row fetched under
// one user's row level security is never handed to another.
func (s *Store[T]) Lookup(ctx context.Context, id string) (*T, error) {
	key, cacheable := s.cacheKey(ctx, id)
	if cacheable {
		if v, ok := s.cache.Get(key); ok {
			s.metrics.IncrCacheHit(s.name)
			return &v, nil
		}
		s.metrics.IncrCacheMiss(s.name)
	}

	s.begin()
	v, err := s.src.Get(ctx, id)
	if err != nil {
		s.fail("get", err)
		return nil, err
	}
	s.commit("get", func() {})
	if v != nil && cacheable {
		s.cache.Set(key, *v)
	}
	return v, nil
}

// Create inserts v and prepends the returned entity. If a realtime insert
// already added it, it is replaced in place instead.
func (s *Store[T]) Create(ctx context.Context, v T) (*T, error) {
	s.begin()
	created, err := s.src.Create(ctx, v)
	if err != nil {
		s.fail("create", err)
		return nil, err
	}
	s.commit("create", func() { s.upsertLocked(*created) })
	return created, nil
}

// Update applies p and replaces the matching item at its current position.
func (s *Store[T]) Update(ctx context.Context, id string, p Patch) (*T, error) {
	s.begin()
	updated, err := s.src.Update(ctx, id, p)
	if err == nil && updated == nil {
		err = &domain.ErrNotFound{Resource: s.name, ID: id}
	}
	if err != nil {
		s.fail("update", err)
		return nil, err
	}
	s.commit("update", func() {
		if i := s.indexLocked(id); i >= 0 {
			s.items[i] = *updated
		}
		s.versions[id]++
	})
	if key, ok := s.cacheKey(ctx, id); ok {
		s.cache.Set(key, *updated)
	}
	return updated, nil
}

// Delete removes the entity remotely, then locally.
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	s.begin()
	if _, err := s.src.Remove(ctx, id); err != nil {
		s.fail("delete", err)
		return err
	}
	s.commit("delete", func() {
		s.removeLocked(id)
		s.versions[id]++
	})
	return nil
}

// Upsert replaces the item with v's id in place, or prepends v. Cached
// details of that id are dropped for every caller.
func (s *Store[T]) Upsert(v T) {
	s.mutate(func() {
		s.upsertLocked(v)
		s.versions[v.EntityID()]++
	})
}

// RemoveID drops the item with id, if present.
func (s *Store[T]) RemoveID(id string) {
	s.mutate(func() {
		s.removeLocked(id)
		s.versions[id]++
	})
}

// Replace swaps Items wholesale without touching the loading or error slots.
func (s *Store[T]) Replace(items []T) {
	s.mutate(func() { s.items = append(make([]T, 0, len(items)), items...) })
}

func (s *Store[T]) begin() {
	s.mu.Lock()
	s.loading = true
	s.err = ""
	s.mu.Unlock()
}

func (s *Store[T]) fail(op string, err error) {
	s.logger.Warn("store action failed", zap.String("op", op), zap.Error(err))
	s.metrics.IncrStoreOp(s.name, op, "error")
	s.mutate(func() {
		s.err = err.Error()
		s.loading = false
	})
}

func (s *Store[T]) commit(op string, apply func()) {
	s.metrics.IncrStoreOp(s.name, op, "ok")
	s.mutate(func() {
		apply()
		s.loading = false
	})
}

// mutate applies fn under the lock and notifies listeners outside it.
func (s *Store[T]) mutate(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	listeners := append([]func(State[T]){}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (s *Store[T]) snapshotLocked() State[T] {
	return State[T]{
		Items:   append(make([]T, 0, len(s.items)), s.items...),
		Loading: s.loading,
		Error:   s.err,
	}
}

func (s *Store[T]) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].EntityID() == id {
			return i
		}
	}
	return -1
}

func (s *Store[T]) upsertLocked(v T) {
	if i := s.indexLocked(v.EntityID()); i >= 0 {
		s.items[i] = v
		return
	}
	s.items = append([]T{v}, s.items...)
}

func (s *Store[T]) removeLocked(id string) {
	out := s.items[:0:0]
	for _, it := range s.items {
		if it.EntityID() != id {
			out = append(out, it)
		}
	}
	s.items = out
}

// cacheKey scopes a detail entry to the caller and to the id's version, so a
// write or realtime change makes every earlier entry of that id unreachable.
// Calls without a session are not cached.
func (s *Store[T]) cacheKey(ctx context.Context, id string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	sess, ok := domain.SessionFrom(ctx)
	if !ok {
		return "", false
	}
	s.mu.RLock()
	v := s.versions[id]
	s.mu.RUnlock()
	return fmt.Sprintf("%s:%s:%d:%s", s.name, id, v, sess.AuthUserID), true
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
