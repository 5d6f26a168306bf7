package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/ticker/internal/auth"
	"horse.fit/ticker/internal/db"
	"horse.fit/ticker/internal/globaltime"
	"horse.fit/ticker/internal/pipeline"
)

// handleRunNow triggers a pipeline run in the background. The trigger is
// guarded by the admin token when one is configured in the store. A
// trigger that lands while a run is in flight reports the live status
// instead of queueing a second run.
func (s *Server) handleRunNow(c echo.Context) error {
	if s.runner == nil {
		return internalError(c, "Pipeline runner is not configured")
	}

	if err := s.authorizeRun(c); err != nil {
		return err
	}

	status := s.runner.Status()
	if status.Running {
		return fail(c, http.StatusConflict, "Pipeline run already in progress", map[string]any{
			"status": status,
		})
	}

	// The run outlives the request, so it detaches from the request
	// context.
	runCtx := context.WithoutCancel(c.Request().Context())
	go func() {
		saved, err := s.runner.RunOnce(runCtx, pipeline.TriggerAPI)
		if err != nil {
			if errors.Is(err, pipeline.ErrRunInProgress) {
				s.logger.Info().Msg("manual run skipped, another run took the slot")
				return
			}
			s.logger.Error().Err(err).Msg("manual pipeline run failed")
			return
		}
		s.logger.Info().Int("saved", saved).Msg("manual pipeline run finished")
	}()

	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"triggered": true,
		"status":    s.runner.Status(),
	})
}

// authorizeRun enforces the stored admin token. A store with no token
// configured leaves the trigger open; a store that cannot be reached
// fails closed.
func (s *Server) authorizeRun(c echo.Context) error {
	hash, err := s.adminTokenHash(c.Request().Context())
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			return storeUnavailableResponse(c)
		}
		s.logger.Error().Err(err).Msg("load admin token hash failed")
		return internalError(c, "Failed to authorize request")
	}
	if hash == "" {
		return nil
	}

	token := auth.ExtractBearer(c.Request().Header.Get("Authorization"))
	if token == "" {
		return fail(c, http.StatusUnauthorized, "Authentication required", nil)
	}
	if !auth.VerifyToken(token, hash) {
		return fail(c, http.StatusUnauthorized, "Invalid admin token", nil)
	}
	return nil
}

func (s *Server) adminTokenHash(ctx context.Context) (string, error) {
	store, err := s.dataStore(ctx)
	if err != nil {
		return "", err
	}
	return store.GetSetting(ctx, db.SettingAdminRunTokenHash)
}

func (s *Server) handleRecentRuns(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultRunsLimit, 1, maxRunsLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	store, err := s.dataStore(c.Request().Context())
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			return storeUnavailableResponse(c)
		}
		s.logger.Error().Err(err).Msg("acquire article store failed")
		return internalError(c, "Failed to load runs")
	}

	items, err := store.ListRecentRuns(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query pipeline runs failed")
		return internalError(c, "Failed to load runs")
	}

	return success(c, map[string]any{
		"items": items,
		"limit": limit,
	})
}

func (s *Server) handleStoreStats(c echo.Context) error {
	store, err := s.dataStore(c.Request().Context())
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			return storeUnavailableResponse(c)
		}
		s.logger.Error().Err(err).Msg("acquire article store failed")
		return internalError(c, "Failed to load stats")
	}

	now := globaltime.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := store.QueryStoreStats(c.Request().Context(), dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Msg("query store stats failed")
		return internalError(c, "Failed to load stats")
	}

	return success(c, stats)
}
