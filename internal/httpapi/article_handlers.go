package httpapi

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"horse.fit/ticker/internal/db"
	"horse.fit/ticker/internal/reader"
)

const (
	defaultPreviewMaxChars = 1000
	minPreviewMaxChars     = 200
	maxPreviewMaxChars     = 4000
)

type articlePreviewResponse struct {
	ArticleID    string  `json:"article_id"`
	PreviewText  string  `json:"preview_text"`
	Source       string  `json:"source"`
	CharCount    int     `json:"char_count"`
	Truncated    bool    `json:"truncated"`
	PreviewError *string `json:"preview_error,omitempty"`
}

func (s *Server) handleListArticles(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultArticleLimit, 1, maxArticleLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	skip, err := parsePositiveInt(c.QueryParam("skip"), 0, 0, maxArticleSkip)
	if err != nil {
		return failValidation(c, map[string]string{"skip": err.Error()})
	}

	store, err := s.dataStore(c.Request().Context())
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			return storeUnavailableResponse(c)
		}
		s.logger.Error().Err(err).Msg("acquire article store failed")
		return internalError(c, "Failed to load articles")
	}

	items, err := store.ListStoredArticles(c.Request().Context(), limit, skip)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stored articles failed")
		return internalError(c, "Failed to load articles")
	}

	return success(c, map[string]any{
		"items": items,
		"limit": limit,
		"skip":  skip,
	})
}

func (s *Server) handleSearchArticles(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultArticleLimit, 1, maxArticleLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	skip, err := parsePositiveInt(c.QueryParam("skip"), 0, 0, maxArticleSkip)
	if err != nil {
		return failValidation(c, map[string]string{"skip": err.Error()})
	}
	query := strings.TrimSpace(c.QueryParam("q"))

	store, err := s.dataStore(c.Request().Context())
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			return storeUnavailableResponse(c)
		}
		s.logger.Error().Err(err).Msg("acquire article store failed")
		return internalError(c, "Failed to search articles")
	}

	items, err := store.SearchStoredArticles(c.Request().Context(), query, limit, skip)
	if err != nil {
		s.logger.Error().Err(err).Str("q", query).Msg("query stored article search failed")
		return internalError(c, "Failed to search articles")
	}

	return success(c, map[string]any{
		"items": items,
		"q":     query,
		"limit": limit,
		"skip":  skip,
	})
}

func (s *Server) handleGetArticle(c echo.Context) error {
	articleID := strings.TrimSpace(c.Param("article_id"))
	if articleID == "" {
		return failValidation(c, map[string]string{"article_id": "is required"})
	}

	store, err := s.dataStore(c.Request().Context())
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			return storeUnavailableResponse(c)
		}
		s.logger.Error().Err(err).Msg("acquire article store failed")
		return internalError(c, "Failed to load article")
	}

	item, err := store.GetStoredArticle(c.Request().Context(), articleID)
	if err != nil {
		s.logger.Error().Err(err).Str("article_id", articleID).Msg("query stored article failed")
		return internalError(c, "Failed to load article")
	}
	if item == nil {
		return failNotFound(c, "Article not found")
	}

	return success(c, item)
}

func (s *Server) handleArticlePreview(c echo.Context) error {
	articleID := strings.TrimSpace(c.Param("article_id"))
	if articleID == "" {
		return failValidation(c, map[string]string{"article_id": "is required"})
	}

	maxChars, err := parsePositiveInt(
		c.QueryParam("max_chars"),
		defaultPreviewMaxChars,
		minPreviewMaxChars,
		maxPreviewMaxChars,
	)
	if err != nil {
		return failValidation(c, map[string]string{"max_chars": err.Error()})
	}

	store, err := s.dataStore(c.Request().Context())
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			return storeUnavailableResponse(c)
		}
		s.logger.Error().Err(err).Msg("acquire article store failed")
		return internalError(c, "Failed to load article preview")
	}

	item, err := store.GetStoredArticle(c.Request().Context(), articleID)
	if err != nil {
		s.logger.Error().Err(err).Str("article_id", articleID).Msg("query stored article failed")
		return internalError(c, "Failed to load article preview")
	}
	if item == nil {
		return failNotFound(c, "Article not found")
	}

	previewRaw, source, previewErr := buildArticlePreview(c.Request().Context(), item)
	previewText, truncated := reader.TruncateText(previewRaw, maxChars)

	resp := articlePreviewResponse{
		ArticleID:   item.ID,
		PreviewText: previewText,
		Source:      source,
		CharCount:   utf8.RuneCountInString(previewText),
		Truncated:   truncated,
	}
	if previewErr != nil {
		msg := previewErr.Error()
		resp.PreviewError = &msg
		s.logger.Warn().
			Err(previewErr).
			Str("article_id", articleID).
			Str("source", source).
			Msg("reader preview fallback used")
	}

	return success(c, resp)
}

// buildArticlePreview fetches readable text from the article's original
// URL, falling back to the stored body excerpt when the fetch fails or
// no URL is stored.
func buildArticlePreview(ctx context.Context, item *db.StoredArticleItem) (string, string, error) {
	excerpt := strings.TrimSpace(item.BodyExcerpt)

	url := strings.TrimSpace(item.OriginalURL)
	if url != "" {
		readerText, err := reader.FetchText(ctx, url, item.Title)
		if err == nil && strings.TrimSpace(readerText) != "" {
			return readerText, "reader", nil
		}
		if excerpt != "" {
			return excerpt, "body_excerpt", err
		}
		return "", "none", err
	}

	if excerpt != "" {
		return excerpt, "body_excerpt", nil
	}
	return "", "none", nil
}
