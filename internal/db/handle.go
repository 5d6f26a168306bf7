package db

import (
	"context"
	"fmt"
	"sync"

	"horse.fit/ticker/internal/config"
)

// Handle is the shared store connection for the read surfaces. It is
// constructed once at process start and connects lazily; a cached pool
// that fails its liveness check is closed and re-dialed once.
type Handle struct {
	cfg *config.Config

	mu   sync.Mutex
	pool *Pool
}

func NewHandle(cfg *config.Config) *Handle {
	return &Handle{cfg: cfg}
}

// Acquire returns a live pool, reconnecting if the cached one has gone
// stale.
func (h *Handle) Acquire(ctx context.Context) (*Pool, error) {
	if h == nil {
		return nil, fmt.Errorf("store handle is nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err == nil {
			return h.pool, nil
		}
		_ = h.pool.Close()
		h.pool = nil
	}

	pool, err := NewPool(ctx, h.cfg)
	if err != nil {
		return nil, fmt.Errorf("acquire store connection: %w", err)
	}
	h.pool = pool
	return h.pool, nil
}

// Close releases the cached pool if one exists.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pool == nil {
		return nil
	}
	err := h.pool.Close()
	h.pool = nil
	return err
}
