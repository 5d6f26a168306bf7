package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"horse.fit/ticker/internal/db"
)

func storedArticleFixture() *db.StoredArticleItem {
	published := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return &db.StoredArticleItem{
		ID:          "item-1",
		Title:       "RBI cuts repo rate by 25 bps",
		Summary:     "The central bank eased policy in a surprise move.",
		Category:    "Economy & Policy",
		Tickers:     []string{"HDFCBANK"},
		Tags:        []string{"rbi", "rates"},
		PublishedAt: &published,
		Source:      "LiveMint",
		OriginalURL: "https://example.com/rbi-cuts-rates",
		BodyExcerpt: "The central bank eased policy in a surprise move on Friday.",
		Language:    "en",
		StoredAt:    published.Add(time.Hour),
		ExpiresAt:   published.Add(37 * time.Hour),
	}
}

func TestHandleListArticlesDefaults(t *testing.T) {
	t.Parallel()

	store := &fakeStore{articles: []db.StoredArticleItem{*storedArticleFixture()}}
	server := newTestServer(store)
	c, rec := newGetContext("/articles")

	if err := server.handleListArticles(c); err != nil {
		t.Fatalf("handleListArticles returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if len(store.listCalls) != 1 {
		t.Fatalf("expected one list call, got %d", len(store.listCalls))
	}
	if store.listCalls[0].limit != 50 || store.listCalls[0].offset != 0 {
		t.Fatalf("unexpected list call: %+v", store.listCalls[0])
	}

	var data struct {
		Items []db.StoredArticleItem `json:"items"`
		Limit int                    `json:"limit"`
		Skip  int                    `json:"skip"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode list data: %v", err)
	}
	if len(data.Items) != 1 || data.Items[0].ID != "item-1" {
		t.Fatalf("unexpected items: %+v", data.Items)
	}
	if data.Limit != 50 || data.Skip != 0 {
		t.Fatalf("unexpected paging echo: limit=%d skip=%d", data.Limit, data.Skip)
	}
}

func TestHandleListArticlesValidatesLimit(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"0", "201", "many"} {
		store := &fakeStore{}
		server := newTestServer(store)
		c, rec := newGetContext("/articles?limit=" + raw)

		if err := server.handleListArticles(c); err != nil {
			t.Fatalf("handleListArticles returned error for limit=%q: %v", raw, err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("limit=%q: unexpected status %d", raw, rec.Code)
		}
		if len(store.listCalls) != 0 {
			t.Fatalf("limit=%q: store should not be queried on validation failure", raw)
		}
	}
}

func TestHandleListArticlesPassesSkip(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	server := newTestServer(store)
	c, rec := newGetContext("/articles?limit=5&skip=10")

	if err := server.handleListArticles(c); err != nil {
		t.Fatalf("handleListArticles returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(store.listCalls) != 1 || store.listCalls[0].limit != 5 || store.listCalls[0].offset != 10 {
		t.Fatalf("unexpected list call: %+v", store.listCalls)
	}
}

func TestHandleListArticlesNoStoreConfigured(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil)
	c, rec := newGetContext("/articles")

	if err := server.handleListArticles(c); err != nil {
		t.Fatalf("handleListArticles returned error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status with no store configured: %d", rec.Code)
	}
}

func TestHandleSearchArticles(t *testing.T) {
	t.Parallel()

	store := &fakeStore{articles: []db.StoredArticleItem{*storedArticleFixture()}}
	server := newTestServer(store)
	c, rec := newGetContext("/articles/search?q=rbi&limit=25&skip=5")

	if err := server.handleSearchArticles(c); err != nil {
		t.Fatalf("handleSearchArticles returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(store.searchCalls) != 1 {
		t.Fatalf("expected one search call, got %d", len(store.searchCalls))
	}
	call := store.searchCalls[0]
	if call.query != "rbi" || call.limit != 25 || call.offset != 5 {
		t.Fatalf("unexpected search call: %+v", call)
	}

	var data struct {
		Items []db.StoredArticleItem `json:"items"`
		Q     string                 `json:"q"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode search data: %v", err)
	}
	if data.Q != "rbi" || len(data.Items) != 1 {
		t.Fatalf("unexpected search data: %+v", data)
	}
}

func TestHandleSearchArticlesEmptyQueryMatchesAll(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	server := newTestServer(store)
	c, rec := newGetContext("/articles/search")

	if err := server.handleSearchArticles(c); err != nil {
		t.Fatalf("handleSearchArticles returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(store.searchCalls) != 1 || store.searchCalls[0].query != "" {
		t.Fatalf("expected empty query passthrough, got %+v", store.searchCalls)
	}
}

func TestHandleGetArticleNotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeStore{})
	c, rec := newGetContext("/articles/missing")
	c.SetParamNames("article_id")
	c.SetParamValues("missing")

	if err := server.handleGetArticle(c); err != nil {
		t.Fatalf("handleGetArticle returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Status != "fail" || env.Message != "Article not found" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestHandleGetArticleFound(t *testing.T) {
	t.Parallel()

	store := &fakeStore{article: storedArticleFixture()}
	server := newTestServer(store)
	c, rec := newGetContext("/articles/item-1")
	c.SetParamNames("article_id")
	c.SetParamValues("item-1")

	if err := server.handleGetArticle(c); err != nil {
		t.Fatalf("handleGetArticle returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(store.getCalls) != 1 || store.getCalls[0] != "item-1" {
		t.Fatalf("unexpected get calls: %v", store.getCalls)
	}

	var item db.StoredArticleItem
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &item); err != nil {
		t.Fatalf("decode article data: %v", err)
	}
	if item.ID != "item-1" || item.Title != "RBI cuts repo rate by 25 bps" {
		t.Fatalf("unexpected article: %+v", item)
	}
}

func TestHandleArticlePreviewReaderPath(t *testing.T) {
	t.Parallel()

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "Lead paragraph of the story.")
	}))
	defer page.Close()

	article := storedArticleFixture()
	article.OriginalURL = page.URL
	server := newTestServer(&fakeStore{article: article})

	c, rec := newGetContext("/articles/item-1/preview")
	c.SetParamNames("article_id")
	c.SetParamValues("item-1")

	if err := server.handleArticlePreview(c); err != nil {
		t.Fatalf("handleArticlePreview returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var preview articlePreviewResponse
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &preview); err != nil {
		t.Fatalf("decode preview data: %v", err)
	}
	if preview.Source != "reader" {
		t.Fatalf("unexpected source: %q", preview.Source)
	}
	if preview.PreviewText != "Lead paragraph of the story." {
		t.Fatalf("unexpected preview text: %q", preview.PreviewText)
	}
	if preview.Truncated {
		t.Fatal("short preview should not be truncated")
	}
	if preview.CharCount != len("Lead paragraph of the story.") {
		t.Fatalf("unexpected char count: %d", preview.CharCount)
	}
	if preview.PreviewError != nil {
		t.Fatalf("unexpected preview error: %q", *preview.PreviewError)
	}
}

func TestHandleArticlePreviewTruncates(t *testing.T) {
	t.Parallel()

	long := strings.TrimSpace(strings.Repeat("word ", 60))
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, long)
	}))
	defer page.Close()

	article := storedArticleFixture()
	article.OriginalURL = page.URL
	server := newTestServer(&fakeStore{article: article})

	c, rec := newGetContext("/articles/item-1/preview?max_chars=200")
	c.SetParamNames("article_id")
	c.SetParamValues("item-1")

	if err := server.handleArticlePreview(c); err != nil {
		t.Fatalf("handleArticlePreview returned error: %v", err)
	}

	var preview articlePreviewResponse
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &preview); err != nil {
		t.Fatalf("decode preview data: %v", err)
	}
	if !preview.Truncated {
		t.Fatal("expected truncated preview")
	}
	if preview.CharCount > 200 {
		t.Fatalf("preview exceeds max_chars: %d", preview.CharCount)
	}
	if !strings.HasSuffix(preview.PreviewText, "…") {
		t.Fatalf("expected ellipsis suffix, got %q", preview.PreviewText)
	}
}

func TestHandleArticlePreviewFallsBackToExcerpt(t *testing.T) {
	t.Parallel()

	article := storedArticleFixture()
	article.OriginalURL = ""
	server := newTestServer(&fakeStore{article: article})

	c, rec := newGetContext("/articles/item-1/preview")
	c.SetParamNames("article_id")
	c.SetParamValues("item-1")

	if err := server.handleArticlePreview(c); err != nil {
		t.Fatalf("handleArticlePreview returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var preview articlePreviewResponse
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &preview); err != nil {
		t.Fatalf("decode preview data: %v", err)
	}
	if preview.Source != "body_excerpt" {
		t.Fatalf("unexpected source: %q", preview.Source)
	}
	if preview.PreviewText != article.BodyExcerpt {
		t.Fatalf("unexpected preview text: %q", preview.PreviewText)
	}
	if preview.PreviewError != nil {
		t.Fatalf("unexpected preview error: %q", *preview.PreviewError)
	}
}

func TestHandleArticlePreviewValidatesMaxChars(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeStore{article: storedArticleFixture()})
	c, rec := newGetContext("/articles/item-1/preview?max_chars=100")
	c.SetParamNames("article_id")
	c.SetParamValues("item-1")

	if err := server.handleArticlePreview(c); err != nil {
		t.Fatalf("handleArticlePreview returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestHandleArticlePreviewNotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeStore{})
	c, rec := newGetContext("/articles/missing/preview")
	c.SetParamNames("article_id")
	c.SetParamValues("missing")

	if err := server.handleArticlePreview(c); err != nil {
		t.Fatalf("handleArticlePreview returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestBuildArticlePreviewFallsBackWhenFetchFails(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	article := storedArticleFixture()
	article.OriginalURL = deadURL

	text, source, err := buildArticlePreview(context.Background(), article)
	if err == nil {
		t.Fatal("expected fetch error to be reported")
	}
	if source != "body_excerpt" {
		t.Fatalf("unexpected source: %q", source)
	}
	if text != article.BodyExcerpt {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestBuildArticlePreviewNoURLNoExcerpt(t *testing.T) {
	t.Parallel()

	article := storedArticleFixture()
	article.OriginalURL = ""
	article.BodyExcerpt = "   "

	text, source, err := buildArticlePreview(context.Background(), article)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != "none" || text != "" {
		t.Fatalf("unexpected preview: source=%q text=%q", source, text)
	}
}
