package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Impulse-Zero/python.github.io/internal/logger"
)

// ErrorHook receives storage failures that the Store swallowed
type ErrorHook func(op, key string, err error)

// Store is a namespaced view over a Backend whose helpers never fail loudly.
// Values are JSON encoded. Every failure (quota, disabled storage, corrupt
// JSON) is logged, handed to the error hook and mapped to a sentinel result.
type Store struct {
	backend   Backend
	namespace string
	log       *logger.Logger
	hooks     []ErrorHook
}

// NewStore creates a Store prefixing every key with namespace
func NewStore(backend Backend, namespace string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Get()
	}
	return &Store{
		backend:   backend,
		namespace: namespace,
		log:       log.With(map[string]interface{}{"namespace": namespace}),
	}
}

// OnError registers a hook called for every swallowed failure
func (s *Store) OnError(hook ErrorHook) {
	if hook != nil {
		s.hooks = append(s.hooks, hook)
	}
}

// Backend exposes the underlying backend for raw, un-namespaced access
func (s *Store) Backend() Backend {
	return s.backend
}

// Key returns the namespaced backend key for key
func (s *Store) Key(key string) string {
	return s.namespace + key
}

// Set stores value as JSON. It reports false instead of returning an error.
func (s *Store) Set(ctx context.Context, key string, value interface{}) bool {
	data, err := json.Marshal(value)
	if err != nil {
		s.fail("set", key, err)
		return false
	}
	if err := s.backend.Set(ctx, s.Key(key), string(data)); err != nil {
		s.fail("set", key, err)
		return false
	}
	return true
}

// Load decodes the value under key into dst. It reports whether dst was
// filled; a missing key is not a failure, a backend or decode error is.
func (s *Store) Load(ctx context.Context, key string, dst interface{}) bool {
	raw, err := s.backend.Get(ctx, s.Key(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.fail("get", key, err)
		}
		return false
	}
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.fail("get", key, err)
		return false
	}
	return true
}

// Remove deletes key and reports whether the backend accepted it
func (s *Store) Remove(ctx context.Context, key string) bool {
	if err := s.backend.Remove(ctx, s.Key(key)); err != nil {
		s.fail("remove", key, err)
		return false
	}
	return true
}

func (s *Store) fail(op, key string, err error) {
	s.log.Error("Storage "+op+" failed", map[string]interface{}{
		"key":   s.Key(key),
		"error": err.Error(),
	})
	for _, hook := range s.hooks {
		hook(op, s.Key(key), err)
	}
}

// Get returns the value stored under key, or def when it is missing or
// unreadable.
func Get[T any](ctx context.Context, s *Store, key string, def T) T {
	var v T
	if !s.Load(ctx, key, &v) {
		return def
	}
	return v
}
