package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/ticker/internal/config"
	"horse.fit/ticker/internal/retry"
)

// ErrStoreUnavailable reports that no database target could be reached
// within the connect budget. Callers treat it as skip-this-cycle rather
// than a fatal error.
var ErrStoreUnavailable = errors.New("article store unavailable")

const (
	connectAttempts     = 4
	connectInitialDelay = 2 * time.Second
)

// ConnectWithRetry dials the primary database target with doubling backoff
// and, once the budget is spent, tries the fallback target a single time.
// Exhaustion returns ErrStoreUnavailable.
func ConnectWithRetry(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	var pool *Pool
	policy := retry.Policy{Attempts: connectAttempts, Delay: connectInitialDelay, Backoff: 2}
	err := policy.Do(ctx, func(attempt int) error {
		p, dialErr := newPoolWithURL(ctx, cfg, cfg.DatabaseURL)
		if dialErr != nil {
			logger.Warn().
				Err(dialErr).
				Int("attempt", attempt).
				Int("max_attempts", connectAttempts).
				Msg("database connect failed")
			return dialErr
		}
		pool = p
		return nil
	})
	if err == nil {
		return pool, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	if fallback := strings.TrimSpace(cfg.DatabaseFallbackURL); fallback != "" {
		pool, fbErr := newPoolWithURL(ctx, cfg, fallback)
		if fbErr == nil {
			logger.Info().Msg("connected to fallback database")
			return pool, nil
		}
		logger.Warn().Err(fbErr).Msg("fallback database connect failed")
		err = fbErr
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrStoreUnavailable, connectAttempts, err)
}
