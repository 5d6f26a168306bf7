package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

func TestItemIDIsStable(t *testing.T) {
	t.Parallel()

	first := ItemID("Sensex climbs", "https://example.com/a")
	second := ItemID("Sensex climbs", "https://example.com/a")
	if first != second {
		t.Fatalf("expected stable id, got %q and %q", first, second)
	}
	if len(first) != 32 {
		t.Fatalf("expected 32-char hex digest, got %q", first)
	}
	if first == ItemID("Sensex climbs", "https://example.com/b") {
		t.Fatal("different urls must produce different ids")
	}
}

func TestSeenSetRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seen_hashes.json")
	set := LoadSeenSet(path)
	if set.Len() != 0 {
		t.Fatalf("expected empty set for missing file, got %d", set.Len())
	}

	set.Add("abc")
	set.Add("def")
	if err := set.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := LoadSeenSet(path)
	if !reloaded.Contains("abc") || !reloaded.Contains("def") {
		t.Fatal("reloaded set missing persisted ids")
	}
	if reloaded.Contains("ghi") {
		t.Fatal("reloaded set contains id that was never added")
	}
}

func TestSourceStateRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "source_state.json")
	state := LoadSourceState(path)
	if !state.LastFetch("LiveMint").IsZero() {
		t.Fatal("expected zero time for untouched source")
	}

	state.Touch("LiveMint")
	if err := state.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := LoadSourceState(path)
	if reloaded.LastFetch("LiveMint").IsZero() {
		t.Fatal("expected persisted last fetch time")
	}
	snapshot := reloaded.Snapshot()
	if _, ok := snapshot["LiveMint"]; !ok {
		t.Fatalf("snapshot missing source entry: %v", snapshot)
	}
}

func TestReadStagingItems(t *testing.T) {
	t.Parallel()

	items, err := ReadStagingItems(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if items != nil {
		t.Fatalf("expected nil items for missing file, got %v", items)
	}

	payload := `{"items": [
		{"id": "a", "title": "First", "url": "https://example.com/a", "fetched_at": "2025-01-02T03:04:05", "body": "x"},
		"not an object",
		{"id": "b", "title": "Second", "url": "https://example.com/b", "fetched_at": "2025-01-02T03:04:06", "body": "y"}
	]}`
	decoded, err := DecodeStagingItems([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeStagingItems: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 items after filtering, got %d", len(decoded))
	}
	if decoded[0].ID != "a" || decoded[1].ID != "b" {
		t.Fatalf("unexpected item order: %+v", decoded)
	}
}

func TestParseLooseTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want string
	}{
		{"2025-02-28T09:30:00", "2025-02-28T09:30:00Z"},
		{"2025-02-28T09:30:00+05:30", "2025-02-28T09:30:00Z"},
		{"Published on 2025-02-27", "2025-02-27T00:00:00Z"},
		{"Updated: 2 January 2025", "2025-01-02T00:00:00Z"},
		{"28 Feb 2025, 10:15 IST", "2025-02-28T00:00:00Z"},
		{"3 hours ago", "2025-03-01T09:00:00Z"},
		{"45 min ago", "2025-03-01T11:15:00Z"},
		{"2 days ago", "2025-02-27T12:00:00Z"},
	}
	for _, tc := range cases {
		got := parseLooseTimestamp(tc.in, now)
		if got == nil {
			t.Fatalf("parseLooseTimestamp(%q) = nil", tc.in)
		}
		if formatted := got.UTC().Format(time.RFC3339); formatted != tc.want {
			t.Fatalf("parseLooseTimestamp(%q) = %s, want %s", tc.in, formatted, tc.want)
		}
	}

	if got := parseLooseTimestamp("no date here", now); got != nil {
		t.Fatalf("expected nil for undated text, got %v", got)
	}
	if got := parseLooseTimestamp("", now); got != nil {
		t.Fatalf("expected nil for empty text, got %v", got)
	}
}

func TestExtractPublishedAtPrefersStructuredMetadata(t *testing.T) {
	t.Parallel()

	page := `<html><head>
		<meta property="article:published_time" content="2025-02-28T09:30:00+05:30">
		<meta name="date" content="2020-01-01">
	</head><body>
		<span class="dateline">1 January 2019</span>
	</body></html>`
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}

	got := ExtractPublishedAt(doc, time.Now().UTC())
	if got == nil {
		t.Fatal("expected a published time")
	}
	if got.Format("2006-01-02") != "2025-02-28" {
		t.Fatalf("expected meta property to win, got %v", got)
	}
}

func TestExtractPublishedAtFallsBackToVisibleDate(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<div class="story-timestamp">Updated: 27 February 2025</div>
	</body></html>`
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}

	got := ExtractPublishedAt(doc, time.Now().UTC())
	if got == nil {
		t.Fatal("expected a published time from visible date text")
	}
	if got.Format("2006-01-02") != "2025-02-27" {
		t.Fatalf("unexpected date %v", got)
	}
}

func TestFilterArticleAnchorsAppliesSourceRules(t *testing.T) {
	t.Parallel()

	listingURL, _ := url.Parse("https://www.thehindu.com/business/")
	source := Source{
		Name:      "TheHindu",
		PathAllow: []string{"/business/"},
		PathDeny:  []string{"/sport/"},
	}

	anchors := []Anchor{
		{Title: "RBI tightens lending norms for NBFCs", URL: "https://www.thehindu.com/business/Economy/rbi-tightens/article1.ece"},
		{Title: "Team wins the series", URL: "https://www.thehindu.com/sport/cricket/article2.ece"},
		{Title: "Markets", URL: "https://www.thehindu.com/business/markets/"},
		{Title: "External coverage of the budget announcement", URL: "https://other.example.com/business/article3"},
	}

	kept := filterArticleAnchors(anchors, source, listingURL)
	if len(kept) != 1 {
		t.Fatalf("expected 1 kept anchor, got %d: %+v", len(kept), kept)
	}
	if !strings.Contains(kept[0].URL, "rbi-tightens") {
		t.Fatalf("unexpected anchor kept: %+v", kept[0])
	}
}

func TestWebFetcherSkipsSeenArticles(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/latest-news", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<a href="/markets/stocks-rally-on-rbi-rate-cut">Stocks rally on RBI rate cut decision</a>
			<a href="/videos/clip">Watch: market wrap video clip</a>
		</body></html>`))
	})
	mux.HandleFunc("/markets/stocks-rally-on-rbi-rate-cut", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head>
			<meta property="article:published_time" content="2025-02-28T09:30:00">
			<title>Stocks rally</title>
		</head><body>
			<article>
			<p>Indian equity benchmarks rallied sharply on Friday after the central bank cut its policy rate by 25 basis points, with banking and auto stocks leading the advance through the session. The benchmark index closed at a record high as traders priced in a softer rate path for the rest of the year.</p>
			<p>Rate-sensitive sectors led the move higher. Lenders gained on expectations of stronger credit growth, while automakers advanced as cheaper financing is expected to support demand in the coming festive quarter. Broader market breadth stayed firmly positive through the close.</p>
			<p>Analysts said the commentary accompanying the decision was more accommodative than expected, and that foreign portfolio flows had already turned positive in the days leading up to the announcement.</p>
			</article>
		</body></html>`))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	dir := t.TempDir()
	seen := LoadSeenSet(filepath.Join(dir, "seen_hashes.json"))
	state := LoadSourceState(filepath.Join(dir, "source_state.json"))
	sources := []Source{{
		Name:       "LiveMint",
		ListingURL: server.URL + "/latest-news",
		PathDeny:   []string{"/videos/"},
	}}

	fetcher := NewWebFetcher(sources, seen, state, zerolog.Nop(), Options{
		ArticleDelay: time.Millisecond,
	})

	items, err := fetcher.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d: %+v", len(items), items)
	}
	item := items[0]
	if item.Source != "LiveMint" {
		t.Fatalf("unexpected source %q", item.Source)
	}
	if item.ID != ItemID(item.Title, item.URL) {
		t.Fatalf("item id does not match title+url digest")
	}
	if item.PublishedAt == nil || !strings.HasPrefix(*item.PublishedAt, "2025-02-28") {
		t.Fatalf("expected published_at from article page, got %v", item.PublishedAt)
	}
	if item.Body == "" || item.Body == "Content not available" {
		t.Fatalf("expected extracted body, got %q", item.Body)
	}
	if item.FetchedAt == "" {
		t.Fatal("expected fetched_at to be set")
	}

	second, err := fetcher.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("second FetchAll: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no new items on second cycle, got %d", len(second))
	}

	if err := fetcher.PersistState(); err != nil {
		t.Fatalf("PersistState: %v", err)
	}
	if reloaded := LoadSeenSet(filepath.Join(dir, "seen_hashes.json")); !reloaded.Contains(item.ID) {
		t.Fatal("persisted seen set missing fetched item")
	}
	if reloaded := LoadSourceState(filepath.Join(dir, "source_state.json")); reloaded.LastFetch("LiveMint").IsZero() {
		t.Fatal("persisted source state missing last fetch time")
	}
}

func TestWebFetcherSurvivesSourceFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	dir := t.TempDir()
	seen := LoadSeenSet(filepath.Join(dir, "seen_hashes.json"))
	state := LoadSourceState(filepath.Join(dir, "source_state.json"))
	fetcher := NewWebFetcher([]Source{{Name: "Broken", ListingURL: server.URL + "/listing"}},
		seen, state, zerolog.Nop(), Options{ArticleDelay: time.Millisecond})

	items, err := fetcher.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll should not fail for a broken source: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}
