package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/ticker/internal/config"
	"horse.fit/ticker/internal/db"
	"horse.fit/ticker/internal/globaltime"
	articleschema "horse.fit/ticker/schema"
)

// CycleStore is the persistence collaborator for the db phase. It dials
// the store once per call with the bounded retry-plus-fallback policy and
// closes the connection before returning, so a store outage costs one
// cycle rather than the process.
type CycleStore struct {
	cfg       *config.Config
	logger    zerolog.Logger
	retention time.Duration
}

func NewCycleStore(cfg *config.Config, logger zerolog.Logger) *CycleStore {
	retention := 36 * time.Hour
	if cfg != nil && cfg.RetentionHours > 0 {
		retention = time.Duration(cfg.RetentionHours) * time.Hour
	}
	return &CycleStore{cfg: cfg, logger: logger, retention: retention}
}

// SaveArticles upserts one batch. An empty batch returns without dialing.
// Expired rows are purged before the batch is written so the store never
// grows past its retention window between cycles.
func (s *CycleStore) SaveArticles(ctx context.Context, articles []articleschema.Article) (db.UpsertResult, error) {
	if s == nil || s.cfg == nil {
		return db.UpsertResult{}, fmt.Errorf("store configuration is missing")
	}
	if len(articles) == 0 {
		return db.UpsertResult{}, nil
	}

	pool, err := db.ConnectWithRetry(ctx, s.cfg, s.logger)
	if err != nil {
		return db.UpsertResult{}, err
	}
	defer pool.Close()

	if purged, err := pool.PurgeExpired(ctx, globaltime.UTC()); err != nil {
		s.logger.Warn().Err(err).Msg("purge of expired articles failed")
	} else if purged > 0 {
		s.logger.Info().Int64("purged", purged).Msg("purged expired articles")
	}

	result, err := pool.UpsertStructuredArticles(ctx, articles, s.retention)
	if err != nil {
		return result, err
	}
	if result.Failed > 0 {
		s.logger.Warn().
			Int("failed", result.Failed).
			Int("inserted", result.Inserted).
			Int("updated", result.Updated).
			Msg("some articles failed to upsert")
	}
	return result, nil
}

// LedgerWriter records finished cycles through the shared store handle,
// reusing the cached read-path connection when it is live.
type LedgerWriter struct {
	handle *db.Handle
}

func NewLedgerWriter(handle *db.Handle) *LedgerWriter {
	return &LedgerWriter{handle: handle}
}

func (w *LedgerWriter) RecordRun(ctx context.Context, record db.RunRecord) error {
	if w == nil || w.handle == nil {
		return fmt.Errorf("ledger store handle is not configured")
	}
	pool, err := w.handle.Acquire(ctx)
	if err != nil {
		return err
	}
	_, err = pool.InsertPipelineRun(ctx, record)
	return err
}
