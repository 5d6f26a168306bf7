package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"horse.fit/ticker/internal/globaltime"
	"horse.fit/ticker/internal/pipeline"
	"horse.fit/ticker/internal/reader"
	"horse.fit/ticker/internal/retry"
)

const (
	defaultRequestTimeout = 20 * time.Second
	defaultArticleDelay   = 600 * time.Millisecond
	listingBodyLimit      = 4 * 1024 * 1024
	articleBodyLimit      = 2 * 1024 * 1024

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// bodyUnavailable stands in for an article body that could not be
	// fetched or extracted; the item still flows through the pipeline.
	bodyUnavailable = "Content not available"
)

// Options tunes the web fetcher. Zero values pick the defaults.
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
	ArticleDelay   time.Duration
	HTTPClient     *http.Client
}

// WebFetcher scrapes the configured listing pages, follows new article
// links, and produces raw items. The seen set and source state are
// injected; the fetcher never constructs its own.
type WebFetcher struct {
	sources []Source
	seen    *SeenSet
	state   *SourceState
	logger  zerolog.Logger

	userAgent      string
	requestTimeout time.Duration
	articleDelay   time.Duration
	client         *http.Client
}

func NewWebFetcher(sources []Source, seen *SeenSet, state *SourceState, logger zerolog.Logger, opts Options) *WebFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.ArticleDelay <= 0 {
		opts.ArticleDelay = defaultArticleDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	return &WebFetcher{
		sources:        sources,
		seen:           seen,
		state:          state,
		logger:         logger,
		userAgent:      opts.UserAgent,
		requestTimeout: opts.RequestTimeout,
		articleDelay:   opts.ArticleDelay,
		client:         opts.HTTPClient,
	}
}

// FetchAll runs one fetch cycle over every source. A source that fails
// is logged and skipped; the returned error is non-nil only when the
// context is cancelled.
func (f *WebFetcher) FetchAll(ctx context.Context) ([]pipeline.RawItem, error) {
	items := make([]pipeline.RawItem, 0)
	for _, source := range f.sources {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		fetched, err := f.fetchSource(ctx, source)
		items = append(items, fetched...)
		if err != nil {
			if ctx.Err() != nil {
				return items, ctx.Err()
			}
			f.logger.Warn().
				Str("source", source.Name).
				Str("error", err.Error()).
				Msg("source fetch failed")
			continue
		}
		f.logger.Info().
			Str("source", source.Name).
			Int("new_items", len(fetched)).
			Msg("source fetched")
	}
	return items, nil
}

// PersistState writes the seen set and per-source state to disk so the
// next process start does not re-fetch known articles.
func (f *WebFetcher) PersistState() error {
	var errs []error
	if err := f.seen.Save(); err != nil {
		errs = append(errs, err)
	}
	if err := f.state.Save(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (f *WebFetcher) fetchSource(ctx context.Context, source Source) ([]pipeline.RawItem, error) {
	listingURL, err := url.Parse(source.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	payload, err := f.get(ctx, source.ListingURL, listingBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	anchors := filterArticleAnchors(collectListingAnchors(doc, listingURL), source, listingURL)
	f.logger.Debug().
		Str("source", source.Name).
		Int("candidate_links", len(anchors)).
		Msg("listing parsed")

	items := make([]pipeline.RawItem, 0, len(anchors))
	for _, anchor := range anchors {
		id := ItemID(anchor.Title, anchor.URL)
		if f.seen.Contains(id) {
			continue
		}

		item := f.fetchArticle(ctx, source, anchor, id)
		items = append(items, item)
		f.seen.Add(id)
		f.state.Touch(source.Name)

		if err := retry.Sleep(ctx, f.articleDelay); err != nil {
			return items, err
		}
	}
	return items, nil
}

func (f *WebFetcher) fetchArticle(ctx context.Context, source Source, anchor Anchor, id string) pipeline.RawItem {
	item := pipeline.RawItem{
		ID:        id,
		Source:    source.Name,
		Title:     anchor.Title,
		URL:       anchor.URL,
		FetchedAt: globaltime.UTC().Format("2006-01-02T15:04:05.000000"),
		Body:      bodyUnavailable,
	}

	payload, err := f.get(ctx, anchor.URL, articleBodyLimit)
	if err != nil {
		f.logger.Debug().
			Str("url", anchor.URL).
			Str("error", err.Error()).
			Msg("article fetch failed")
		return item
	}

	pageURL, err := url.Parse(anchor.URL)
	if err != nil {
		return item
	}

	if text, err := reader.ExtractText(payload, pageURL, "text/html", anchor.Title); err == nil && text != "" {
		item.Body = text
	}

	if doc, err := html.Parse(bytes.NewReader(payload)); err == nil {
		if published := ExtractPublishedAt(doc, globaltime.UTC()); published != nil {
			formatted := published.Format("2006-01-02T15:04:05")
			item.PublishedAt = &formatted
		}
	}

	return item
}

func (f *WebFetcher) get(ctx context.Context, target string, bodyLimit int64) ([]byte, error) {
	requestCtx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return payload, nil
}
