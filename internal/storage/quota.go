package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// quotaBackend rejects writes that would push Usage above limit
type quotaBackend struct {
	Backend
	limit int64
	mu    sync.Mutex
}

// WithQuota wraps b so that Set fails with ErrQuotaExceeded once the stored
// keys and values would exceed limit bytes.
func WithQuota(b Backend, limit int64) Backend {
	return &quotaBackend{Backend: b, limit: limit}
}

func (q *quotaBackend) Set(ctx context.Context, key, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	used, err := q.Backend.Usage(ctx)
	if err != nil {
		return fmt.Errorf("failed to measure usage: %w", err)
	}

	old, err := q.Backend.Get(ctx, key)
	switch {
	case err == nil:
		used -= entrySize(key, old)
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}

	if used+entrySize(key, value) > q.limit {
		return fmt.Errorf("%w: %d of %d bytes used", ErrQuotaExceeded, used, q.limit)
	}
	return q.Backend.Set(ctx, key, value)
}
