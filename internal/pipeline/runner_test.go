package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/ticker/internal/db"
	articleschema "horse.fit/ticker/schema"
)

type fakeFetcher struct {
	items        []RawItem
	err          error
	persistErr   error
	calls        int
	persistCalls int
}

func (f *fakeFetcher) FetchAll(ctx context.Context) ([]RawItem, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeFetcher) PersistState() error {
	f.persistCalls++
	return f.persistErr
}

// fakeEmbedder returns orthogonal unit vectors unless given explicit
// ones, so by default nothing collides in the dedupe stage.
type fakeEmbedder struct {
	vectors [][]float64
	err     error
	calls   int
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, len(texts))
		v[i] = 1
		out[i] = v
	}
	return out, nil
}

// fakeStructurer echoes one article per item unless given an explicit
// result.
type fakeStructurer struct {
	result *StructureResult
	err    error
	calls  int
	got    []RawItem
}

func (f *fakeStructurer) StructureItems(ctx context.Context, items []RawItem) (StructureResult, error) {
	f.calls++
	f.got = items
	if f.err != nil {
		return StructureResult{}, f.err
	}
	if f.result != nil {
		return *f.result, nil
	}
	result := StructureResult{
		Articles: make([]articleschema.Article, 0, len(items)),
		Errors:   make([]StructureError, 0),
	}
	for _, item := range items {
		result.Articles = append(result.Articles, articleschema.Article{ID: item.ID, Title: item.Title})
	}
	return result, nil
}

type fakeStore struct {
	result *db.UpsertResult
	err    error
	calls  int
	got    []articleschema.Article
}

func (f *fakeStore) SaveArticles(ctx context.Context, articles []articleschema.Article) (db.UpsertResult, error) {
	f.calls++
	f.got = articles
	if f.err != nil {
		return db.UpsertResult{}, f.err
	}
	if f.result != nil {
		return *f.result, nil
	}
	return db.UpsertResult{Inserted: len(articles)}, nil
}

type fakeLedger struct {
	records []db.RunRecord
	err     error
}

func (f *fakeLedger) RecordRun(ctx context.Context, record db.RunRecord) error {
	f.records = append(f.records, record)
	return f.err
}

func newTestRunner(t *testing.T, opts RunnerOptions) *Runner {
	t.Helper()
	if opts.Fetcher == nil {
		opts.Fetcher = &fakeFetcher{}
	}
	if opts.Embedder == nil {
		opts.Embedder = &fakeEmbedder{}
	}
	if opts.Structurer == nil {
		opts.Structurer = &fakeStructurer{}
	}
	if opts.Store == nil {
		opts.Store = &fakeStore{}
	}
	if opts.Artifacts == nil {
		artifacts, err := NewArtifactStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewArtifactStore returned error: %v", err)
		}
		opts.Artifacts = artifacts
	}
	opts.Logger = zerolog.Nop()
	return NewRunner(opts)
}

func marketItems() []RawItem {
	published := "2025-03-01T09:00:00"
	laterPublished := "2025-03-01T09:30:00"
	return []RawItem{
		{
			ID:          "item-1",
			Source:      "LiveMint",
			Title:       "RBI cuts repo rate by 25 bps",
			URL:         "https://example.com/rbi-cuts-repo-rate",
			PublishedAt: &published,
			FetchedAt:   "2025-03-01T09:05:00",
			Body:        "The central bank lowered the benchmark rate citing easing inflation.",
		},
		{
			ID:          "item-2",
			Source:      "MoneyControl",
			Title:       "HDFC Bank board approves bonus issue",
			URL:         "https://example.com/hdfc-bonus-issue",
			PublishedAt: &laterPublished,
			FetchedAt:   "2025-03-01T09:35:00",
			Body:        "The lender's board cleared a one for one bonus share issue.",
		},
	}
}

func TestNewRunnerInitialStatus(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, RunnerOptions{})
	status := runner.Status()
	if status.Phase != PhaseIdle {
		t.Fatalf("initial phase = %q, want %q", status.Phase, PhaseIdle)
	}
	if !status.OK || status.Running {
		t.Fatalf("initial flags ok=%v running=%v, want ok=true running=false", status.OK, status.Running)
	}
	if status.LastRun != nil || status.LastResultCount != nil || status.Error != nil {
		t.Fatalf("initial status should have nil last_run/last_result_count/error: %+v", status)
	}
	if status.RunsTotal != 0 {
		t.Fatalf("initial runs_total = %d", status.RunsTotal)
	}
}

func TestRunOnceHappyPath(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{items: marketItems()}
	structurer := &fakeStructurer{}
	store := &fakeStore{}
	ledger := &fakeLedger{}
	artifacts, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore returned error: %v", err)
	}
	runner := newTestRunner(t, RunnerOptions{
		Fetcher:    fetcher,
		Structurer: structurer,
		Store:      store,
		Ledger:     ledger,
		Artifacts:  artifacts,
	})

	saved, err := runner.RunOnce(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if saved != 2 {
		t.Fatalf("saved = %d, want 2", saved)
	}
	if fetcher.persistCalls != 1 {
		t.Fatalf("fetcher state persisted %d times, want 1", fetcher.persistCalls)
	}
	if len(structurer.got) != 2 {
		t.Fatalf("structurer received %d items, want 2", len(structurer.got))
	}
	if len(store.got) != 2 {
		t.Fatalf("store received %d articles, want 2", len(store.got))
	}

	status := runner.Status()
	if status.Running || !status.OK || status.Error != nil {
		t.Fatalf("status after success = %+v", status)
	}
	if status.Phase != PhaseIdle {
		t.Fatalf("phase after success = %q, want %q", status.Phase, PhaseIdle)
	}
	if status.RunsTotal != 1 {
		t.Fatalf("runs_total = %d, want 1", status.RunsTotal)
	}
	if status.LastResultCount == nil || *status.LastResultCount != 2 {
		t.Fatalf("last_result_count = %v, want 2", status.LastResultCount)
	}
	if status.LastRun == nil || !strings.HasSuffix(*status.LastRun, "Z") {
		t.Fatalf("last_run = %v, want UTC timestamp with Z suffix", status.LastRun)
	}

	for _, name := range []string{
		ArtifactRaw, ArtifactFiltered, ArtifactFilteredDropped,
		ArtifactUnique, ArtifactDuplicates, ArtifactStructured,
	} {
		payload, err := artifacts.ReadRaw(name)
		if err != nil {
			t.Fatalf("read artifact %s: %v", name, err)
		}
		if payload == nil {
			t.Fatalf("artifact %s was not written", name)
		}
	}
	if payload, _ := artifacts.ReadRaw(ArtifactStructureErrors); payload != nil {
		t.Fatalf("error artifact should be absent after a clean run, got %s", payload)
	}

	if len(ledger.records) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(ledger.records))
	}
	record := ledger.records[0]
	if record.Status != "completed" || record.Phase != PhaseIdle {
		t.Fatalf("ledger record status=%q phase=%q", record.Status, record.Phase)
	}
	if record.TriggeredBy != TriggerCLI {
		t.Fatalf("ledger triggered_by = %q, want %q", record.TriggeredBy, TriggerCLI)
	}
	if record.RunUUID == "" {
		t.Fatal("ledger record is missing a run uuid")
	}
	if record.ItemsFetched != 2 || record.ItemsKept != 2 || record.ItemsUnique != 2 ||
		record.ItemsStructured != 2 || record.ItemsStored != 2 {
		t.Fatalf("ledger counters = %+v", record)
	}
	if record.FinishedAt.Before(record.StartedAt) {
		t.Fatalf("finished_at %v before started_at %v", record.FinishedAt, record.StartedAt)
	}
}

func TestRunOnceFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("listing timeout")}
	embedder := &fakeEmbedder{}
	structurer := &fakeStructurer{}
	ledger := &fakeLedger{}
	artifacts, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore returned error: %v", err)
	}
	runner := newTestRunner(t, RunnerOptions{
		Fetcher:    fetcher,
		Embedder:   embedder,
		Structurer: structurer,
		Ledger:     ledger,
		Artifacts:  artifacts,
	})

	saved, err := runner.RunOnce(context.Background(), TriggerCLI)
	if err == nil {
		t.Fatal("expected fetch failure to fail the run")
	}
	if saved != 0 {
		t.Fatalf("saved = %d, want 0", saved)
	}
	if embedder.calls != 0 || structurer.calls != 0 {
		t.Fatalf("later stages ran after fetch failure: embed=%d structure=%d", embedder.calls, structurer.calls)
	}

	status := runner.Status()
	if status.OK || status.Error == nil || !strings.Contains(*status.Error, "listing timeout") {
		t.Fatalf("status after fetch failure = %+v", status)
	}
	if status.Phase != PhaseIdle || status.Running {
		t.Fatalf("phase=%q running=%v after failure", status.Phase, status.Running)
	}
	if status.LastRun != nil || status.RunsTotal != 0 {
		t.Fatalf("failed run must not advance last_run/runs_total: %+v", status)
	}

	if payload, _ := artifacts.ReadRaw(ArtifactRaw); payload != nil {
		t.Fatalf("raw artifact should not be written when fetch fails, got %s", payload)
	}
	if len(ledger.records) != 1 || ledger.records[0].Status != "failed" || ledger.records[0].Phase != PhaseFetch {
		t.Fatalf("ledger records after fetch failure = %+v", ledger.records)
	}
}

func TestRunOnceEmbeddingFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{items: marketItems()}
	embedder := &fakeEmbedder{err: fmt.Errorf("%w: connection refused", ErrEmbeddingUnavailable)}
	structurer := &fakeStructurer{}
	store := &fakeStore{}
	ledger := &fakeLedger{}
	runner := newTestRunner(t, RunnerOptions{
		Fetcher:    fetcher,
		Embedder:   embedder,
		Structurer: structurer,
		Store:      store,
		Ledger:     ledger,
	})

	_, err := runner.RunOnce(context.Background(), TriggerCLI)
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if structurer.calls != 0 || store.calls != 0 {
		t.Fatalf("later stages ran after embedding failure: structure=%d store=%d", structurer.calls, store.calls)
	}
	if len(ledger.records) != 1 || ledger.records[0].Phase != PhaseFilter {
		t.Fatalf("ledger records after embedding failure = %+v", ledger.records)
	}

	status := runner.Status()
	if status.OK || status.Error == nil {
		t.Fatalf("status after embedding failure = %+v", status)
	}
}

func TestRunOnceStoreUnavailableCompletesWithZero(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{items: marketItems()}
	store := &fakeStore{err: fmt.Errorf("%w after 4 attempts: dial refused", db.ErrStoreUnavailable)}
	ledger := &fakeLedger{}
	runner := newTestRunner(t, RunnerOptions{
		Fetcher: fetcher,
		Store:   store,
		Ledger:  ledger,
	})

	saved, err := runner.RunOnce(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatalf("unreachable store must not fail the run, got %v", err)
	}
	if saved != 0 {
		t.Fatalf("saved = %d, want 0", saved)
	}

	status := runner.Status()
	if !status.OK || status.Error != nil {
		t.Fatalf("status after skipped persistence = %+v", status)
	}
	if status.RunsTotal != 1 {
		t.Fatalf("runs_total = %d, want 1", status.RunsTotal)
	}
	if status.LastResultCount == nil || *status.LastResultCount != 0 {
		t.Fatalf("last_result_count = %v, want 0", status.LastResultCount)
	}
	if len(ledger.records) != 1 || ledger.records[0].Status != "completed" || ledger.records[0].ItemsStored != 0 {
		t.Fatalf("ledger records after skipped persistence = %+v", ledger.records)
	}
}

func TestRunOnceOtherStoreErrorFailsRun(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{items: marketItems()}
	store := &fakeStore{err: errors.New("constraint violation")}
	runner := newTestRunner(t, RunnerOptions{
		Fetcher: fetcher,
		Store:   store,
	})

	_, err := runner.RunOnce(context.Background(), TriggerCLI)
	if err == nil || !strings.Contains(err.Error(), "constraint violation") {
		t.Fatalf("expected persistence error to fail the run, got %v", err)
	}
	if status := runner.Status(); status.OK {
		t.Fatalf("status after persistence error = %+v", status)
	}
}

func TestRunOnceRetainsLastRunAcrossFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{items: marketItems()}
	runner := newTestRunner(t, RunnerOptions{Fetcher: fetcher})

	if _, err := runner.RunOnce(context.Background(), TriggerCLI); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	okStatus := runner.Status()
	if okStatus.LastRun == nil || okStatus.LastResultCount == nil {
		t.Fatalf("first run did not record last_run: %+v", okStatus)
	}

	fetcher.err = errors.New("source down")
	if _, err := runner.RunOnce(context.Background(), TriggerCLI); err == nil {
		t.Fatal("expected second run to fail")
	}

	status := runner.Status()
	if status.OK {
		t.Fatal("status.OK should be false after a failed run")
	}
	if status.LastRun == nil || *status.LastRun != *okStatus.LastRun {
		t.Fatalf("last_run changed across a failed run: %v -> %v", okStatus.LastRun, status.LastRun)
	}
	if status.LastResultCount == nil || *status.LastResultCount != *okStatus.LastResultCount {
		t.Fatalf("last_result_count changed across a failed run: %v -> %v",
			okStatus.LastResultCount, status.LastResultCount)
	}
	if status.RunsTotal != 1 {
		t.Fatalf("runs_total = %d, want 1", status.RunsTotal)
	}
}

type blockingFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) FetchAll(ctx context.Context) ([]RawItem, error) {
	close(f.entered)
	<-f.release
	return []RawItem{}, nil
}

func (f *blockingFetcher) PersistState() error { return nil }

func TestRunOnceRejectsConcurrentTrigger(t *testing.T) {
	t.Parallel()

	fetcher := &blockingFetcher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	runner := newTestRunner(t, RunnerOptions{Fetcher: fetcher})

	type runResult struct {
		saved int
		err   error
	}
	resultCh := make(chan runResult, 1)
	go func() {
		saved, err := runner.RunOnce(context.Background(), TriggerSchedule)
		resultCh <- runResult{saved: saved, err: err}
	}()

	<-fetcher.entered

	if _, err := runner.RunOnce(context.Background(), TriggerAPI); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("concurrent trigger returned %v, want ErrRunInProgress", err)
	}
	status := runner.Status()
	if !status.Running || status.Phase != PhaseFetch {
		t.Fatalf("in-flight status = %+v, want running in fetch phase", status)
	}

	close(fetcher.release)
	result := <-resultCh
	if result.err != nil {
		t.Fatalf("first run returned error: %v", result.err)
	}
	if got := runner.Status(); got.Running {
		t.Fatalf("runner still reports running after completion: %+v", got)
	}
}

func TestRunOnceEmptyFetchStillSucceeds(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{items: []RawItem{}}
	structurer := &fakeStructurer{}
	store := &fakeStore{}
	ledger := &fakeLedger{}
	artifacts, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore returned error: %v", err)
	}
	runner := newTestRunner(t, RunnerOptions{
		Fetcher:    fetcher,
		Structurer: structurer,
		Store:      store,
		Ledger:     ledger,
		Artifacts:  artifacts,
	})

	saved, err := runner.RunOnce(context.Background(), "")
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if saved != 0 {
		t.Fatalf("saved = %d, want 0", saved)
	}
	if structurer.calls != 1 || store.calls != 1 {
		t.Fatalf("stages should still run on an empty batch: structure=%d store=%d",
			structurer.calls, store.calls)
	}

	payload, err := artifacts.ReadRaw(ArtifactRaw)
	if err != nil {
		t.Fatalf("read raw artifact: %v", err)
	}
	if strings.TrimSpace(string(payload)) != "[]" {
		t.Fatalf("empty fetch should write [] raw artifact, got %s", payload)
	}

	if len(ledger.records) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(ledger.records))
	}
	if got := ledger.records[0].TriggeredBy; got != TriggerSchedule {
		t.Fatalf("blank trigger should record as %q, got %q", TriggerSchedule, got)
	}
}

func TestRunOnceSuppressesDuplicates(t *testing.T) {
	t.Parallel()

	items := marketItems()
	items[1].Title = "RBI reduces repo rate in surprise move"
	fetcher := &fakeFetcher{items: items}
	embedder := &fakeEmbedder{vectors: [][]float64{{1, 0}, {1, 0}}}
	structurer := &fakeStructurer{}
	ledger := &fakeLedger{}
	artifacts, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore returned error: %v", err)
	}
	runner := newTestRunner(t, RunnerOptions{
		Fetcher:    fetcher,
		Embedder:   embedder,
		Structurer: structurer,
		Ledger:     ledger,
		Artifacts:  artifacts,
	})

	saved, err := runner.RunOnce(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if saved != 1 {
		t.Fatalf("saved = %d, want 1 after duplicate suppression", saved)
	}
	if len(structurer.got) != 1 || structurer.got[0].ID != "item-1" {
		t.Fatalf("structurer should receive only the earliest keeper, got %+v", structurer.got)
	}

	record := ledger.records[0]
	if record.ItemsKept != 2 || record.ItemsUnique != 1 {
		t.Fatalf("ledger counters kept=%d unique=%d, want 2/1", record.ItemsKept, record.ItemsUnique)
	}

	payload, err := artifacts.ReadRaw(ArtifactDuplicates)
	if err != nil {
		t.Fatalf("read duplicates artifact: %v", err)
	}
	if !strings.Contains(string(payload), `"duplicate_of": "item-1"`) {
		t.Fatalf("duplicates artifact missing attribution: %s", payload)
	}
}

func TestRunOncePersistStateFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{items: marketItems(), persistErr: errors.New("disk full")}
	runner := newTestRunner(t, RunnerOptions{Fetcher: fetcher})

	if _, err := runner.RunOnce(context.Background(), TriggerCLI); err != nil {
		t.Fatalf("fetcher state persist failure must not fail the run: %v", err)
	}
	if status := runner.Status(); !status.OK {
		t.Fatalf("status after persist warning = %+v", status)
	}
}

func TestRunOnceWritesAndClearsStructureErrorsArtifact(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{items: marketItems()[:1]}
	structurer := &fakeStructurer{result: &StructureResult{
		Articles: []articleschema.Article{{ID: "item-1", Title: "RBI cuts repo rate by 25 bps"}},
		Errors: []StructureError{{
			ID:    "item-9",
			Title: "Unparseable wire item",
			URL:   "https://example.com/unparseable",
			Error: "model returned no json object",
		}},
	}}
	artifacts, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore returned error: %v", err)
	}
	runner := newTestRunner(t, RunnerOptions{
		Fetcher:    fetcher,
		Structurer: structurer,
		Artifacts:  artifacts,
	})

	if _, err := runner.RunOnce(context.Background(), TriggerCLI); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	payload, err := artifacts.ReadRaw(ArtifactStructureErrors)
	if err != nil {
		t.Fatalf("read error artifact: %v", err)
	}
	if payload == nil || !strings.Contains(string(payload), "model returned no json object") {
		t.Fatalf("error artifact missing failure record: %s", payload)
	}

	structurer.result = &StructureResult{
		Articles: []articleschema.Article{{ID: "item-1", Title: "RBI cuts repo rate by 25 bps"}},
		Errors:   []StructureError{},
	}
	if _, err := runner.RunOnce(context.Background(), TriggerCLI); err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if payload, _ := artifacts.ReadRaw(ArtifactStructureErrors); payload != nil {
		t.Fatalf("stale error artifact should be removed after a clean run, got %s", payload)
	}
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, RunnerOptions{
		Fetcher: &fakeFetcher{items: []RawItem{}},
		Ledger:  &fakeLedger{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runner.RunForever(ctx, time.Minute)
	}()
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("RunForever returned %v, want context.Canceled", err)
	}
}

func TestScheduleInterval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		minutes float64
		want    time.Duration
	}{
		{minutes: 2, want: 2 * time.Minute},
		{minutes: 10, want: 10 * time.Minute},
		{minutes: 0.5, want: 30 * time.Second},
		{minutes: 0.1, want: 30 * time.Second},
		{minutes: 0, want: 30 * time.Second},
	}
	for _, tc := range cases {
		if got := ScheduleInterval(tc.minutes); got != tc.want {
			t.Fatalf("ScheduleInterval(%g) = %v, want %v", tc.minutes, got, tc.want)
		}
	}
}
