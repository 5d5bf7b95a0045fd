// Package storage provides the per-profile key/value persistence used by the
// site shell and the progress tracker. Values are opaque strings; callers
// decide how to encode them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Impulse-Zero/python.github.io/internal/config"
	"github.com/Impulse-Zero/python.github.io/internal/logger"
)

var (
	// ErrNotFound is returned when a key has no value
	ErrNotFound = errors.New("storage: key not found")
	// ErrQuotaExceeded is returned when a write would exceed the profile quota
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	// ErrUnavailable is returned by backends that cannot be used at all
	ErrUnavailable = errors.New("storage: unavailable")
)

// Backend is a flat key/value store scoped to one profile
type Backend interface {
	// Get returns the value stored under key or ErrNotFound
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists every key currently stored
	Keys(ctx context.Context) ([]string, error)
	// Usage reports the number of bytes used by keys and values
	Usage(ctx context.Context) (int64, error)
	// Close releases resources held by the backend
	Close() error
}

// Open creates the backend described by cfg for the configured profile,
// wrapped with the configured quota.
func Open(cfg *config.Config, log *logger.Logger) (Backend, error) {
	if log == nil {
		log = logger.Get()
	}
	log = log.Component("storage")

	var (
		backend Backend
		err     error
	)

	switch cfg.Storage.Driver {
	case config.DriverFile:
		path := filepath.Join(cfg.Storage.Dir, cfg.Storage.Profile+".json")
		backend, err = OpenFile(path)
	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
		dsn := cfg.Storage.DSN
		if dsn == "" && cfg.Storage.Driver == config.DriverSQLite {
			dsn = filepath.Join(cfg.Storage.Dir, "coursetrack.db")
		}
		backend, err = OpenSQL(SQLConfig{
			Driver:  cfg.Storage.Driver,
			DSN:     dsn,
			Profile: cfg.Storage.Profile,
		}, log)
	case config.DriverMemory:
		backend = NewMemory()
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Storage backend opened", map[string]interface{}{
		"driver":      cfg.Storage.Driver,
		"profile":     cfg.Storage.Profile,
		"quota_bytes": cfg.Storage.QuotaBytes,
	})

	if cfg.Storage.QuotaBytes > 0 {
		backend = WithQuota(backend, cfg.Storage.QuotaBytes)
	}
	return backend, nil
}

func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}
