package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/ticker/internal/db"
	"horse.fit/ticker/internal/globaltime"
	"horse.fit/ticker/internal/pipeline"
)

const (
	defaultArticleLimit = 50
	maxArticleLimit     = 200
	maxArticleSkip      = 1_000_000

	defaultRunsLimit = 20
	maxRunsLimit     = 200

	healthPingTimeout = 2 * time.Second
)

// localDevOrigins are always allowed so a frontend dev server can talk
// to a locally running API without extra configuration.
var localDevOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// storeReader is the slice of the article store the API reads from.
// *db.Pool implements it; tests inject a fake.
type storeReader interface {
	Ping(ctx context.Context) error
	ListStoredArticles(ctx context.Context, limit, offset int) ([]db.StoredArticleItem, error)
	SearchStoredArticles(ctx context.Context, query string, limit, offset int) ([]db.StoredArticleItem, error)
	GetStoredArticle(ctx context.Context, articleID string) (*db.StoredArticleItem, error)
	ListRecentRuns(ctx context.Context, limit int) ([]db.PipelineRunItem, error)
	QueryStoreStats(ctx context.Context, dayStart, dayEnd time.Time) (*db.StoreStats, error)
	GetSetting(ctx context.Context, key string) (string, error)
}

// Server exposes the pipeline status surface and the stored-article read
// path over HTTP.
type Server struct {
	handle    *db.Handle
	store     storeReader
	runner    *pipeline.Runner
	artifacts *pipeline.ArtifactStore
	logger    zerolog.Logger
	opts      Options
}

func NewServer(
	handle *db.Handle,
	runner *pipeline.Runner,
	artifacts *pipeline.ArtifactStore,
	logger zerolog.Logger,
	opts Options,
) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8000
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = AllowedOrigins("", nil)
	}

	return &Server{
		handle:    handle,
		runner:    runner,
		artifacts: artifacts,
		logger:    logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			AllowedOrigins:  origins,
		},
	}
}

// AllowedOrigins builds the CORS allowlist: the configured frontend
// origin first, then the local dev origins, then any extra configured
// origins, deduplicated in order.
func AllowedOrigins(frontendOrigin string, extra []string) []string {
	candidates := make([]string, 0, len(extra)+3)
	if trimmed := strings.TrimSpace(frontendOrigin); trimmed != "" {
		candidates = append(candidates, trimmed)
	}
	candidates = append(candidates, localDevOrigins...)
	for _, origin := range extra {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			candidates = append(candidates, trimmed)
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	origins := make([]string, 0, len(candidates))
	for _, origin := range candidates {
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.runner == nil || s.artifacts == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     s.opts.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealthz)
	e.GET("/status", s.handleStatus)
	e.POST("/run", s.handleRunNow)
	e.GET("/news/json/:stage", s.handleStageArtifact)
	e.GET("/articles", s.handleListArticles)
	e.GET("/articles/search", s.handleSearchArticles)
	e.GET("/articles/:article_id", s.handleGetArticle)
	e.GET("/articles/:article_id/preview", s.handleArticlePreview)
	e.GET("/runs", s.handleRecentRuns)
	e.GET("/stats", s.handleStoreStats)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("ticker api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("ticker api server stopped")
	return nil
}

// dataStore returns the store read surface, dialing through the shared
// handle unless a store was injected directly.
func (s *Server) dataStore(ctx context.Context) (storeReader, error) {
	if s.store != nil {
		return s.store, nil
	}
	if s.handle == nil {
		return nil, fmt.Errorf("article store is not configured")
	}
	return s.handle.Acquire(ctx)
}

// Every route serves JSON, so errors that escape a handler are rendered
// as a jsend envelope. 5xx details stay in the log, not the response.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

// handleHealthz reports liveness. The store ping is informational; an
// unreachable store never fails the probe because the pipeline is built
// to ride out store outages.
func (s *Server) handleHealthz(c echo.Context) error {
	dbState := "ok"
	pingCtx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
	defer cancel()
	store, err := s.dataStore(pingCtx)
	if err != nil {
		dbState = "unreachable"
	} else if err := store.Ping(pingCtx); err != nil {
		dbState = "unreachable"
	}

	return success(c, map[string]any{
		"ok":   true,
		"time": isoTimestamp(globaltime.UTC()),
		"db":   dbState,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	if s.runner == nil {
		return internalError(c, "Pipeline runner is not configured")
	}
	return success(c, s.runner.Status())
}

func storeUnavailableResponse(c echo.Context) error {
	return fail(c, http.StatusServiceUnavailable, "Article store unreachable", nil)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}
