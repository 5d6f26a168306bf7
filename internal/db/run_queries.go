package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Ledger rows keep at most this many characters of an error message.
const runErrorMaxChars = 4000

// RunRecord is the ledger entry for one finished ingestion cycle.
type RunRecord struct {
	RunUUID         string
	TriggeredBy     string
	Status          string
	Phase           string
	ItemsFetched    int
	ItemsKept       int
	ItemsUnique     int
	ItemsStructured int
	ItemsStored     int
	ErrorMessage    string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// PipelineRunItem is one ledger row as served by the stats surfaces.
type PipelineRunItem struct {
	RunID           int64      `json:"run_id"`
	RunUUID         string     `json:"run_uuid"`
	TriggeredBy     string     `json:"triggered_by"`
	Status          string     `json:"status"`
	Phase           string     `json:"phase"`
	ItemsFetched    int        `json:"items_fetched"`
	ItemsKept       int        `json:"items_kept"`
	ItemsUnique     int        `json:"items_unique"`
	ItemsStructured int        `json:"items_structured"`
	ItemsStored     int        `json:"items_stored"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// InsertPipelineRun writes one ledger row for a finished cycle.
func (p *Pool) InsertPipelineRun(ctx context.Context, rec RunRecord) (int64, error) {
	if strings.TrimSpace(rec.RunUUID) == "" {
		return 0, fmt.Errorf("run uuid is empty")
	}

	const q = `
INSERT INTO news.pipeline_runs (
	run_uuid, triggered_by, status, phase,
	items_fetched, items_kept, items_unique, items_structured, items_stored,
	error_message, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING run_id
`

	var errMsg *string
	if trimmed := truncateRunError(rec.ErrorMessage); trimmed != "" {
		errMsg = &trimmed
	}

	var runID int64
	err := p.QueryRow(ctx, q,
		rec.RunUUID, rec.TriggeredBy, rec.Status, rec.Phase,
		rec.ItemsFetched, rec.ItemsKept, rec.ItemsUnique, rec.ItemsStructured, rec.ItemsStored,
		errMsg, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert pipeline run: %w", err)
	}
	return runID, nil
}

// ListRecentRuns returns the newest ledger rows first.
func (p *Pool) ListRecentRuns(ctx context.Context, limit int) ([]PipelineRunItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	run_id, run_uuid::text, triggered_by, status, phase,
	items_fetched, items_kept, items_unique, items_structured, items_stored,
	error_message, started_at, finished_at
FROM news.pipeline_runs
ORDER BY started_at DESC, run_id DESC
LIMIT $1
`

	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query pipeline runs: %w", err)
	}
	defer rows.Close()

	items := make([]PipelineRunItem, 0, limit)
	for rows.Next() {
		var row PipelineRunItem
		if err := rows.Scan(
			&row.RunID,
			&row.RunUUID,
			&row.TriggeredBy,
			&row.Status,
			&row.Phase,
			&row.ItemsFetched,
			&row.ItemsKept,
			&row.ItemsUnique,
			&row.ItemsStructured,
			&row.ItemsStored,
			&row.ErrorMessage,
			&row.StartedAt,
			&row.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pipeline run row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline run rows: %w", err)
	}

	return items, nil
}

// CountPipelineRuns returns total and failed ledger row counts.
func (p *Pool) CountPipelineRuns(ctx context.Context) (total int64, failed int64, err error) {
	const q = `
SELECT
	COUNT(*)::BIGINT,
	COUNT(*) FILTER (WHERE status = 'failed')::BIGINT
FROM news.pipeline_runs
`
	if err := p.QueryRow(ctx, q).Scan(&total, &failed); err != nil {
		return 0, 0, fmt.Errorf("count pipeline runs: %w", err)
	}
	return total, failed, nil
}

func truncateRunError(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= runErrorMaxChars {
		return message
	}
	return string(runes[:runErrorMaxChars])
}
