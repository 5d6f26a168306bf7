package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"horse.fit/ticker/internal/globaltime"
	articleschema "horse.fit/ticker/schema"
)

// UpsertError records one document that could not be written. The batch
// continues past it.
type UpsertError struct {
	ArticleID string `json:"article_id"`
	Message   string `json:"message"`
}

// UpsertResult summarizes one persistence batch.
type UpsertResult struct {
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Errors   []UpsertError `json:"errors,omitempty"`
}

// StoredArticleItem is one article as served by the read API and CLI.
type StoredArticleItem struct {
	ID               string                  `json:"id"`
	Title            string                  `json:"title"`
	Summary          string                  `json:"summary"`
	Sentiment        articleschema.Sentiment `json:"sentiment"`
	UIRecommendation string                  `json:"ui_recommendation"`
	ImpactAnalysis   string                  `json:"impact_analysis"`
	Category         string                  `json:"category"`
	Tickers          []string                `json:"tickers"`
	Entities         []articleschema.Entity  `json:"entities"`
	Tags             []string                `json:"tags"`
	PublishedAt      *time.Time              `json:"published_at"`
	Source           string                  `json:"source"`
	OriginalURL      string                  `json:"original_url"`
	BodyExcerpt      string                  `json:"body_excerpt"`
	Language         string                  `json:"language"`
	FetchedAt        *time.Time              `json:"fetched_at,omitempty"`
	StoredAt         time.Time               `json:"stored_at"`
	ExpiresAt        time.Time               `json:"expires_at"`
}

const upsertStoredArticleSQL = `
INSERT INTO news.stored_articles (
	article_id, title, summary, sentiment_label, sentiment_score,
	ui_recommendation, impact_analysis, category, tickers, entities, tags,
	published_at, source, original_url, body_excerpt, language,
	fetched_at, stored_at, expires_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9::jsonb, $10::jsonb, $11::jsonb,
	$12, $13, $14, $15, $16,
	$17, $18, $19
)
ON CONFLICT (article_id) DO UPDATE SET
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	sentiment_label = EXCLUDED.sentiment_label,
	sentiment_score = EXCLUDED.sentiment_score,
	ui_recommendation = EXCLUDED.ui_recommendation,
	impact_analysis = EXCLUDED.impact_analysis,
	category = EXCLUDED.category,
	tickers = EXCLUDED.tickers,
	entities = EXCLUDED.entities,
	tags = EXCLUDED.tags,
	published_at = EXCLUDED.published_at,
	source = EXCLUDED.source,
	original_url = EXCLUDED.original_url,
	body_excerpt = EXCLUDED.body_excerpt,
	language = EXCLUDED.language,
	fetched_at = EXCLUDED.fetched_at,
	stored_at = EXCLUDED.stored_at,
	expires_at = EXCLUDED.expires_at
RETURNING (xmax = 0) AS inserted
`

// UpsertStructuredArticles writes one batch of structured articles keyed by
// article id. Re-storing an id replaces every non-key column, including
// stored_at and expires_at, so an article's retention clock restarts on
// every successful write. A document that fails to write is counted and
// the batch continues.
func (p *Pool) UpsertStructuredArticles(ctx context.Context, articles []articleschema.Article, retention time.Duration) (UpsertResult, error) {
	var result UpsertResult
	if p == nil || p.gdb == nil {
		return result, fmt.Errorf("database pool is not initialized")
	}

	for _, article := range articles {
		row, err := buildStoredArticleRow(article, globaltime.UTC(), retention)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, UpsertError{ArticleID: article.ID, Message: err.Error()})
			continue
		}

		var inserted bool
		err = p.QueryRow(ctx, upsertStoredArticleSQL,
			row.ArticleID, row.Title, row.Summary, row.SentimentLabel, row.SentimentScore,
			row.UIRecommendation, row.ImpactAnalysis, row.Category,
			string(row.Tickers), string(row.Entities), string(row.Tags),
			row.PublishedAt, row.Source, row.OriginalURL, row.BodyExcerpt, row.Language,
			row.FetchedAt, row.StoredAt, row.ExpiresAt,
		).Scan(&inserted)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, UpsertError{ArticleID: row.ArticleID, Message: err.Error()})
			continue
		}

		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	return result, nil
}

// buildStoredArticleRow converts a validated article into its storage row.
// stored_at is the write time and expires_at is stored_at plus the
// retention window.
func buildStoredArticleRow(article articleschema.Article, now time.Time, retention time.Duration) (StoredArticle, error) {
	id := strings.TrimSpace(article.ID)
	if id == "" {
		return StoredArticle{}, fmt.Errorf("article id is empty")
	}

	tickers, err := encodeJSONArray(article.Tickers)
	if err != nil {
		return StoredArticle{}, fmt.Errorf("encode tickers: %w", err)
	}
	entities, err := encodeJSONArray(article.Entities)
	if err != nil {
		return StoredArticle{}, fmt.Errorf("encode entities: %w", err)
	}
	tags, err := encodeJSONArray(article.Tags)
	if err != nil {
		return StoredArticle{}, fmt.Errorf("encode tags: %w", err)
	}

	language := strings.TrimSpace(article.Language)
	if language == "" {
		language = "und"
	}

	now = now.UTC()
	return StoredArticle{
		ArticleID:        id,
		Title:            article.Title,
		Summary:          article.Summary,
		SentimentLabel:   article.Sentiment.Label,
		SentimentScore:   article.Sentiment.Score,
		UIRecommendation: article.UIRecommendation,
		ImpactAnalysis:   article.ImpactAnalysis,
		Category:         article.Category,
		Tickers:          tickers,
		Entities:         entities,
		Tags:             tags,
		PublishedAt:      parseStoredTimestamp(article.PublishedAt),
		Source:           article.Source,
		OriginalURL:      article.OriginalURL,
		BodyExcerpt:      article.BodyExcerpt,
		Language:         language,
		FetchedAt:        parseStoredTimestamp(article.FetchedAt),
		StoredAt:         now,
		ExpiresAt:        now.Add(retention),
	}, nil
}

func encodeJSONArray(value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return json.RawMessage("[]"), nil
	}
	return raw, nil
}

// storedTimestampLayouts lists the shapes the structuring stage emits:
// RFC 3339 with and without offsets, naive timestamps taken as UTC, and a
// bare date.
var storedTimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseStoredTimestamp parses the timestamp strings the structuring stage
// emits. Anything unparseable stores as NULL.
func parseStoredTimestamp(value *string) *time.Time {
	if value == nil {
		return nil
	}
	raw := strings.TrimSpace(*value)
	for _, layout := range storedTimestampLayouts {
		ts, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		utc := ts.UTC()
		return &utc
	}
	return nil
}

const storedArticleColumns = `
	article_id, title, summary, sentiment_label, sentiment_score,
	ui_recommendation, impact_analysis, category, tickers, entities, tags,
	published_at, source, original_url, body_excerpt, language,
	fetched_at, stored_at, expires_at
`

// ListStoredArticles returns the newest articles first: published_at
// descending with unknown publication dates last, then stored_at
// descending. offset skips past rows already served.
func (p *Pool) ListStoredArticles(ctx context.Context, limit, offset int) ([]StoredArticleItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if offset < 0 {
		offset = 0
	}

	q := `
SELECT ` + storedArticleColumns + `
FROM news.stored_articles
ORDER BY published_at DESC NULLS LAST, stored_at DESC
LIMIT $1 OFFSET $2
`

	rows, err := p.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query stored articles: %w", err)
	}
	defer rows.Close()

	items := make([]StoredArticleItem, 0, limit)
	for rows.Next() {
		item, err := scanStoredArticleItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan stored article row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stored article rows: %w", err)
	}

	return items, nil
}

// SearchStoredArticles matches the query case-insensitively against title,
// summary, and tags, newest first. An empty query matches everything.
func (p *Pool) SearchStoredArticles(ctx context.Context, query string, limit, offset int) ([]StoredArticleItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if offset < 0 {
		offset = 0
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return p.ListStoredArticles(ctx, limit, offset)
	}

	q := `
SELECT ` + storedArticleColumns + `
FROM news.stored_articles
WHERE title ILIKE $1
   OR summary ILIKE $1
   OR tags::text ILIKE $1
ORDER BY published_at DESC NULLS LAST, stored_at DESC
LIMIT $2 OFFSET $3
`

	rows, err := p.Query(ctx, q, likePattern(query), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query stored article search: %w", err)
	}
	defer rows.Close()

	items := make([]StoredArticleItem, 0, limit)
	for rows.Next() {
		item, err := scanStoredArticleItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan stored article search row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stored article search rows: %w", err)
	}

	return items, nil
}

// GetStoredArticle returns one article by id, or nil when it is not
// stored.
func (p *Pool) GetStoredArticle(ctx context.Context, articleID string) (*StoredArticleItem, error) {
	articleID = strings.TrimSpace(articleID)
	if articleID == "" {
		return nil, fmt.Errorf("article id is empty")
	}

	q := `
SELECT ` + storedArticleColumns + `
FROM news.stored_articles
WHERE article_id = $1
`

	item, err := scanStoredArticleItem(p.QueryRow(ctx, q, articleID).Scan)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query stored article %s: %w", articleID, err)
	}
	return &item, nil
}

// PurgeExpired deletes every article whose retention window has passed.
func (p *Pool) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.Exec(ctx, `DELETE FROM news.stored_articles WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired articles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountStoredArticles returns the current article count.
func (p *Pool) CountStoredArticles(ctx context.Context) (int64, error) {
	var count int64
	if err := p.QueryRow(ctx, `SELECT COUNT(*) FROM news.stored_articles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stored articles: %w", err)
	}
	return count, nil
}

func scanStoredArticleItem(scan func(dest ...any) error) (StoredArticleItem, error) {
	var (
		item        StoredArticleItem
		label       string
		score       float64
		tickersRaw  []byte
		entitiesRaw []byte
		tagsRaw     []byte
	)

	if err := scan(
		&item.ID,
		&item.Title,
		&item.Summary,
		&label,
		&score,
		&item.UIRecommendation,
		&item.ImpactAnalysis,
		&item.Category,
		&tickersRaw,
		&entitiesRaw,
		&tagsRaw,
		&item.PublishedAt,
		&item.Source,
		&item.OriginalURL,
		&item.BodyExcerpt,
		&item.Language,
		&item.FetchedAt,
		&item.StoredAt,
		&item.ExpiresAt,
	); err != nil {
		return item, err
	}

	item.Sentiment = articleschema.Sentiment{Label: label, Score: score}

	if err := decodeJSONArray(tickersRaw, &item.Tickers); err != nil {
		return item, fmt.Errorf("decode tickers: %w", err)
	}
	if err := decodeJSONArray(entitiesRaw, &item.Entities); err != nil {
		return item, fmt.Errorf("decode entities: %w", err)
	}
	if err := decodeJSONArray(tagsRaw, &item.Tags); err != nil {
		return item, fmt.Errorf("decode tags: %w", err)
	}
	if item.Tickers == nil {
		item.Tickers = []string{}
	}
	if item.Entities == nil {
		item.Entities = []articleschema.Entity{}
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}

	return item, nil
}

func decodeJSONArray(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// likePattern wraps the query for a contains match, escaping the LIKE
// metacharacters in user input.
func likePattern(query string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(query) + "%"
}
