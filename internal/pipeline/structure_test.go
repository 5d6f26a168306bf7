package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/ticker/internal/genai"
)

// scriptedProvider returns canned outcomes in order, one per Generate
// call, and repeats the last outcome when the script runs out.
type scriptedProvider struct {
	outcomes []scriptedOutcome
	calls    int
}

type scriptedOutcome struct {
	text string
	err  error
}

func (p *scriptedProvider) Generate(ctx context.Context, req genai.GenerateRequest) (*genai.GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := p.calls
	if idx >= len(p.outcomes) {
		idx = len(p.outcomes) - 1
	}
	p.calls++
	outcome := p.outcomes[idx]
	if outcome.err != nil {
		return nil, outcome.err
	}
	return &genai.GenerateResponse{Text: outcome.text, ProviderName: p.Name(), ModelName: p.ModelName()}, nil
}

func (p *scriptedProvider) Name() string      { return "scripted" }
func (p *scriptedProvider) ModelName() string { return "scripted-test" }

func newTestStructurer(provider genai.Provider, archive func(string)) *Structurer {
	return &Structurer{
		provider:         provider,
		logger:           zerolog.Nop(),
		archiveBadOutput: archive,
	}
}

func validModelJSON(t *testing.T) string {
	t.Helper()
	payload, err := json.Marshal(validStructuredObj())
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return string(payload)
}

func TestStructureItemsHappyPath(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{outcomes: []scriptedOutcome{{text: validModelJSON(t)}}}
	s := newTestStructurer(provider, nil)

	items := []RawItem{{
		ID:        "art-1",
		Source:    "LiveMint",
		Title:     "RBI cuts repo rate by 25 bps",
		URL:       "https://example.com/rbi-cuts-rates",
		FetchedAt: "2025-03-01T10:15:00.000000",
		Body:      "The central bank reduced the benchmark repo rate.",
	}}

	result, err := s.StructureItems(context.Background(), items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if len(result.Articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(result.Articles))
	}
	article := result.Articles[0]
	if article.ID != "art-1" {
		t.Fatalf("ID = %q", article.ID)
	}
	if article.FetchedAt == nil || *article.FetchedAt != "2025-03-01T10:15:00.000000" {
		t.Fatalf("fetched_at = %v", article.FetchedAt)
	}
	if provider.calls != 1 {
		t.Fatalf("provider called %d times", provider.calls)
	}
}

func TestStructureItemsRetriesOnce(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{outcomes: []scriptedOutcome{
		{err: fmt.Errorf("model offline")},
		{text: validModelJSON(t)},
	}}
	s := newTestStructurer(provider, nil)

	result, err := s.StructureItems(context.Background(), []RawItem{{ID: "art-1", Title: "t", URL: "u"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Articles) != 1 || len(result.Errors) != 0 {
		t.Fatalf("articles %d errors %d", len(result.Articles), len(result.Errors))
	}
	if provider.calls != 2 {
		t.Fatalf("provider called %d times, want 2", provider.calls)
	}
}

func TestStructureItemsRecordsFailureAfterRetries(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{outcomes: []scriptedOutcome{{err: fmt.Errorf("model offline")}}}
	s := newTestStructurer(provider, nil)

	item := RawItem{ID: "art-1", Title: "A headline", URL: "https://example.com/a"}
	result, err := s.StructureItems(context.Background(), []RawItem{item})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Articles) != 0 {
		t.Fatalf("unexpected articles: %+v", result.Articles)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error record, got %d", len(result.Errors))
	}
	rec := result.Errors[0]
	if rec.ID != item.ID || rec.Title != item.Title || rec.URL != item.URL {
		t.Fatalf("error record = %+v", rec)
	}
	if !strings.Contains(rec.Error, "model offline") {
		t.Fatalf("error text = %q", rec.Error)
	}
	if provider.calls != 2 {
		t.Fatalf("provider called %d times, want 2", provider.calls)
	}
}

func TestStructureItemsContinuesPastFailedItem(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{outcomes: []scriptedOutcome{
		{err: fmt.Errorf("model offline")},
		{err: fmt.Errorf("model offline")},
		{text: validModelJSON(t)},
	}}
	s := newTestStructurer(provider, nil)

	items := []RawItem{
		{ID: "bad", Title: "t1", URL: "u1"},
		{ID: "good", Title: "t2", URL: "u2"},
	}
	result, err := s.StructureItems(context.Background(), items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0].ID != "bad" {
		t.Fatalf("errors = %+v", result.Errors)
	}
	if len(result.Articles) != 1 {
		t.Fatalf("articles = %+v", result.Articles)
	}
}

func TestStructureItemsArchivesUnparseableOutput(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{outcomes: []scriptedOutcome{{text: "I am sorry, I cannot produce JSON."}}}
	var archived []string
	s := newTestStructurer(provider, func(raw string) { archived = append(archived, raw) })

	result, err := s.StructureItems(context.Background(), []RawItem{{ID: "art-1", Title: "t", URL: "u"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error record, got %d", len(result.Errors))
	}
	if len(archived) != 2 {
		t.Fatalf("expected both attempts archived, got %d", len(archived))
	}
	if archived[0] != "I am sorry, I cannot produce JSON." {
		t.Fatalf("archived text = %q", archived[0])
	}
}

func TestStructureItemsDoesNotArchiveWrongShape(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{outcomes: []scriptedOutcome{{text: `["a", "b"]`}}}
	var archived []string
	s := newTestStructurer(provider, func(raw string) { archived = append(archived, raw) })

	result, err := s.StructureItems(context.Background(), []RawItem{{ID: "art-1", Title: "t", URL: "u"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error record, got %d", len(result.Errors))
	}
	if len(archived) != 0 {
		t.Fatalf("wrong-shape output should not be archived, got %d archives", len(archived))
	}
}

func TestStructureItemsStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptedProvider{outcomes: []scriptedOutcome{{err: fmt.Errorf("model offline")}}}
	s := newTestStructurer(provider, nil)

	cancel()
	result, err := s.StructureItems(ctx, []RawItem{{ID: "a", Title: "t", URL: "u"}, {ID: "b", Title: "t", URL: "u"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(result.Articles) != 0 {
		t.Fatalf("unexpected articles after cancellation: %+v", result.Articles)
	}
}

func TestStructureItemsEmptyInput(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{outcomes: []scriptedOutcome{{text: "{}"}}}
	s := newTestStructurer(provider, nil)

	result, err := s.StructureItems(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Articles) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if result.Articles == nil || result.Errors == nil {
		t.Fatal("expected non-nil slices so artifacts encode as [] not null")
	}
	if provider.calls != 0 {
		t.Fatalf("provider called %d times for empty input", provider.calls)
	}
}
