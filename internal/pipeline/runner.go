package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/ticker/internal/db"
	"horse.fit/ticker/internal/globaltime"
	"horse.fit/ticker/internal/retry"
	articleschema "horse.fit/ticker/schema"
)

// DefaultSimilarityThreshold is the dedupe cosine cutoff used when the
// configuration does not override it.
const DefaultSimilarityThreshold = 0.70

// minScheduleInterval is the floor for the scheduler cadence so a
// misconfigured interval cannot hot-loop the pipeline.
const minScheduleInterval = 30 * time.Second

// Run phases as surfaced by Status.Phase. A runner between cycles reports
// PhaseIdle.
const (
	PhaseIdle      = "idle"
	PhaseFetch     = "fetch"
	PhaseFilter    = "filter"
	PhaseStructure = "structure"
	PhaseDB        = "db"
)

// Trigger labels recorded in the run ledger.
const (
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
)

// Fetcher supplies one cycle's raw items. PersistState saves the seen-set
// and per-source cursors after a fetch so a restart does not refetch.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]RawItem, error)
	PersistState() error
}

// Embedder produces one L2-normalized vector per input text, in input
// order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float64, error)
}

// ItemStructurer turns raw items into validated structured articles.
type ItemStructurer interface {
	StructureItems(ctx context.Context, items []RawItem) (StructureResult, error)
}

// Store persists one cycle's structured articles. An unreachable store
// reports ErrStoreUnavailable; the runner then skips the db phase for the
// cycle instead of failing the run.
type Store interface {
	SaveArticles(ctx context.Context, articles []articleschema.Article) (db.UpsertResult, error)
}

// RunLedger records finished cycles. Recording is best-effort; the runner
// only logs a failed write.
type RunLedger interface {
	RecordRun(ctx context.Context, record db.RunRecord) error
}

// Status is the run surface served by GET /status. LastRun and
// LastResultCount keep their previous values across failed runs; Error
// holds the most recent failure until a run succeeds again.
type Status struct {
	LastRun         *string `json:"last_run"`
	LastResultCount *int    `json:"last_result_count"`
	Phase           string  `json:"phase"`
	OK              bool    `json:"ok"`
	Error           *string `json:"error"`
	Running         bool    `json:"running"`
	RunsTotal       int     `json:"runs_total"`
}

// RunnerOptions carries the collaborators and tunables for a Runner. All
// collaborators are constructed by the caller; the runner never builds
// its own.
type RunnerOptions struct {
	Fetcher             Fetcher
	Embedder            Embedder
	Structurer          ItemStructurer
	Store               Store
	Ledger              RunLedger
	Artifacts           *ArtifactStore
	Logger              zerolog.Logger
	SimilarityThreshold float64
}

// Runner drives ingestion cycles through its injected collaborators. It
// owns the run mutex and the in-memory status surface; collaborators live
// for the process lifetime and only the store dials per cycle.
type Runner struct {
	fetcher    Fetcher
	embedder   Embedder
	structurer ItemStructurer
	store      Store
	ledger     RunLedger
	artifacts  *ArtifactStore
	logger     zerolog.Logger
	threshold  float64

	runMu sync.Mutex

	mu     sync.Mutex
	status Status
}

func NewRunner(opts RunnerOptions) *Runner {
	threshold := opts.SimilarityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Runner{
		fetcher:    opts.Fetcher,
		embedder:   opts.Embedder,
		structurer: opts.Structurer,
		store:      opts.Store,
		ledger:     opts.Ledger,
		artifacts:  opts.Artifacts,
		logger:     opts.Logger,
		threshold:  threshold,
		status:     Status{Phase: PhaseIdle, OK: true},
	}
}

// Status returns a copy of the current run surface.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.status
	if snapshot.LastRun != nil {
		v := *snapshot.LastRun
		snapshot.LastRun = &v
	}
	if snapshot.LastResultCount != nil {
		v := *snapshot.LastResultCount
		snapshot.LastResultCount = &v
	}
	if snapshot.Error != nil {
		v := *snapshot.Error
		snapshot.Error = &v
	}
	return snapshot
}

// runTally carries the per-stage counters for the ledger row.
type runTally struct {
	fetched    int
	kept       int
	unique     int
	structured int
	stored     int
}

// RunOnce executes one full cycle: fetch, filter, structure, db. A
// trigger that arrives while another run holds the mutex gets
// ErrRunInProgress immediately; the caller observes the in-flight run
// through Status instead of queueing behind it. The returned count is
// inserted plus updated documents.
func (r *Runner) RunOnce(ctx context.Context, trigger string) (int, error) {
	if r == nil || r.fetcher == nil || r.embedder == nil || r.structurer == nil || r.store == nil {
		return 0, fmt.Errorf("runner collaborators are not configured")
	}
	if strings.TrimSpace(trigger) == "" {
		trigger = TriggerSchedule
	}

	if !r.runMu.TryLock() {
		return 0, ErrRunInProgress
	}
	defer r.runMu.Unlock()

	startedAt := globaltime.UTC()
	r.beginRun()

	var tally runTally
	saved, runErr := r.runPhases(ctx, &tally)
	finishedAt := globaltime.UTC()

	ledgerPhase := PhaseIdle
	if runErr != nil {
		ledgerPhase = r.currentPhase()
		r.finishFailed(runErr)
		r.logger.Error().Err(runErr).Str("phase", ledgerPhase).Msg("pipeline run failed")
	} else {
		r.finishCompleted(finishedAt, saved)
		r.logger.Info().Int("saved", saved).Msg("pipeline run completed")
	}

	r.recordRun(ctx, trigger, ledgerPhase, startedAt, finishedAt, tally, runErr)

	if runErr != nil {
		return 0, runErr
	}
	return saved, nil
}

func (r *Runner) runPhases(ctx context.Context, tally *runTally) (int, error) {
	r.setPhase(PhaseFetch)
	r.logger.Info().Msg("fetching news")
	rawItems, err := r.fetcher.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	if rawItems == nil {
		rawItems = make([]RawItem, 0)
	}
	tally.fetched = len(rawItems)
	r.logger.Info().Int("items", len(rawItems)).Msg("fetched news")
	r.writeArtifact(ArtifactRaw, rawItems)

	// A lost seen-set only means refetching; it never fails the run.
	if err := r.fetcher.PersistState(); err != nil {
		r.logger.Warn().Err(err).Msg("could not persist fetcher state")
	}

	r.setPhase(PhaseFilter)
	screened := Screen(rawItems)
	tally.kept = len(screened.Kept)
	r.writeArtifact(ArtifactFiltered, screened.Kept)
	r.writeArtifact(ArtifactFilteredDropped, screened.Dropped)

	texts := make([]string, len(screened.Kept))
	for i, item := range screened.Kept {
		texts[i] = BuildEmbedText(item)
	}
	vectors, err := r.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}
	unique, _, duplicates, err := Dedupe(screened.Kept, vectors, r.threshold)
	if err != nil {
		return 0, fmt.Errorf("dedupe: %w", err)
	}
	tally.unique = len(unique)
	r.writeArtifact(ArtifactUnique, unique)
	r.writeArtifact(ArtifactDuplicates, duplicates)
	r.logger.Info().
		Int("kept", len(screened.Kept)).
		Int("dropped", len(screened.Dropped)).
		Int("unique", len(unique)).
		Int("duplicates", len(duplicates)).
		Msg("filtered and deduplicated")

	r.setPhase(PhaseStructure)
	structured, err := r.structurer.StructureItems(ctx, unique)
	if err != nil {
		return 0, fmt.Errorf("structure: %w", err)
	}
	tally.structured = len(structured.Articles)
	r.writeArtifact(ArtifactStructured, structured.Articles)
	r.writeStructureErrors(structured.Errors)
	r.logger.Info().
		Int("structured", len(structured.Articles)).
		Int("failed", len(structured.Errors)).
		Msg("structured items")

	r.setPhase(PhaseDB)
	result, err := r.store.SaveArticles(ctx, structured.Articles)
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			r.logger.Warn().Err(err).Msg("article store unreachable, skipping persistence this cycle")
			return 0, nil
		}
		return 0, fmt.Errorf("persist: %w", err)
	}
	saved := result.Inserted + result.Updated
	tally.stored = saved
	r.logger.Info().
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Msg("persisted articles")

	return saved, nil
}

// RunForever runs cycles back to back with interval between them until
// the context is cancelled. Failed cycles are reported through Status and
// the log; the loop keeps going.
func (r *Runner) RunForever(ctx context.Context, interval time.Duration) error {
	if interval < minScheduleInterval {
		interval = minScheduleInterval
	}
	r.logger.Info().Dur("interval", interval).Msg("continuous scheduler started")
	for {
		if _, err := r.RunOnce(ctx, TriggerSchedule); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, ErrRunInProgress) {
				r.logger.Info().Msg("run already in progress, waiting for next cycle")
			}
		}
		if err := retry.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// ScheduleInterval converts the configured cadence in minutes to the
// scheduler interval, clamped to the 30 second floor.
func ScheduleInterval(minutes float64) time.Duration {
	interval := time.Duration(minutes * float64(time.Minute))
	if interval < minScheduleInterval {
		return minScheduleInterval
	}
	return interval
}

func (r *Runner) beginRun() {
	r.mu.Lock()
	r.status.Running = true
	r.status.OK = true
	r.status.Error = nil
	r.mu.Unlock()
}

func (r *Runner) finishCompleted(finishedAt time.Time, saved int) {
	lastRun := isoUTC(finishedAt)
	r.mu.Lock()
	r.status.LastRun = &lastRun
	r.status.LastResultCount = &saved
	r.status.Phase = PhaseIdle
	r.status.RunsTotal++
	r.status.Running = false
	r.mu.Unlock()
}

func (r *Runner) finishFailed(runErr error) {
	message := runErr.Error()
	r.mu.Lock()
	r.status.OK = false
	r.status.Error = &message
	r.status.Phase = PhaseIdle
	r.status.Running = false
	r.mu.Unlock()
}

func (r *Runner) setPhase(phase string) {
	r.mu.Lock()
	r.status.Phase = phase
	r.mu.Unlock()
}

func (r *Runner) currentPhase() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Phase
}

func (r *Runner) writeArtifact(name string, value any) {
	if r.artifacts == nil {
		return
	}
	if err := r.artifacts.WriteJSON(name, value); err != nil {
		r.logger.Warn().Err(err).Str("artifact", name).Msg("artifact write failed")
	}
}

// writeStructureErrors writes the failure artifact, or removes a stale
// one when the batch had no failures.
func (r *Runner) writeStructureErrors(errs []StructureError) {
	if r.artifacts == nil {
		return
	}
	if len(errs) == 0 {
		if err := r.artifacts.Remove(ArtifactStructureErrors); err != nil {
			r.logger.Warn().Err(err).Msg("could not remove stale structurer error artifact")
		}
		return
	}
	r.writeArtifact(ArtifactStructureErrors, errs)
}

// recordRun writes the ledger row for a finished cycle. A cancelled run
// still gets its row, so the write runs on a detached context.
func (r *Runner) recordRun(ctx context.Context, trigger, phase string, startedAt, finishedAt time.Time, tally runTally, runErr error) {
	if r.ledger == nil {
		return
	}

	record := db.RunRecord{
		RunUUID:         uuid.NewString(),
		TriggeredBy:     trigger,
		Status:          "completed",
		Phase:           phase,
		ItemsFetched:    tally.fetched,
		ItemsKept:       tally.kept,
		ItemsUnique:     tally.unique,
		ItemsStructured: tally.structured,
		ItemsStored:     tally.stored,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
	}
	if runErr != nil {
		record.Status = "failed"
		record.ErrorMessage = runErr.Error()
	}

	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.ledger.RecordRun(ledgerCtx, record); err != nil {
		r.logger.Debug().Err(err).Msg("run ledger write failed")
	}
}

func isoUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}
