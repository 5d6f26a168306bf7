package db

import (
	"context"
	"fmt"
	"time"

	"horse.fit/ticker/internal/globaltime"
)

// StatsCategoryCount stores per-category article counts.
type StatsCategoryCount struct {
	Category string `json:"category"`
	Articles int64  `json:"articles"`
}

// StoreTotals stores totals across the article store and run ledger.
type StoreTotals struct {
	Articles   int64 `json:"articles"`
	Runs       int64 `json:"runs"`
	FailedRuns int64 `json:"failed_runs"`
}

// RetentionPressure stores TTL counters relative to the stats instant.
type RetentionPressure struct {
	ExpiringWithinHour   int64      `json:"expiring_within_hour"`
	ExpiredAwaitingPurge int64      `json:"expired_awaiting_purge"`
	OldestExpiresAt      *time.Time `json:"oldest_expires_at,omitempty"`
	NewestStoredAt       *time.Time `json:"newest_stored_at,omitempty"`
}

// StoreThroughput stores daily counters.
type StoreThroughput struct {
	ArticlesStoredToday int64 `json:"articles_stored_today"`
	RunsStartedToday    int64 `json:"runs_started_today"`
	RunsFailedToday     int64 `json:"runs_failed_today"`
}

// StoreStats is the read model returned by the stats command.
type StoreStats struct {
	Day        string               `json:"day"`
	Categories []StatsCategoryCount `json:"categories"`
	Totals     StoreTotals          `json:"totals"`
	Retention  RetentionPressure    `json:"retention"`
	Throughput StoreThroughput      `json:"throughput"`
}

// QueryStoreStats returns per-category counts, retention pressure, and
// daily throughput for a UTC day window.
func (p *Pool) QueryStoreStats(ctx context.Context, dayStart, dayEnd time.Time) (*StoreStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &StoreStats{
		Day:        startUTC.Format("2006-01-02"),
		Categories: make([]StatsCategoryCount, 0, 16),
	}

	const categoriesQuery = `
SELECT category, COUNT(*)::BIGINT AS articles
FROM news.stored_articles
GROUP BY category
ORDER BY 1
`

	rows, err := p.Query(ctx, categoriesQuery)
	if err != nil {
		return nil, fmt.Errorf("query stats category counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row StatsCategoryCount
		if err := rows.Scan(&row.Category, &row.Articles); err != nil {
			return nil, fmt.Errorf("scan stats category row: %w", err)
		}
		stats.Categories = append(stats.Categories, row)
		stats.Totals.Articles += row.Articles
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats category rows: %w", err)
	}

	now := globaltime.UTC()

	const countersQuery = `
SELECT
	(SELECT COUNT(*) FROM news.pipeline_runs) AS runs_total,
	(SELECT COUNT(*) FROM news.pipeline_runs r WHERE r.status = 'failed') AS runs_failed,
	(SELECT COUNT(*) FROM news.stored_articles a WHERE a.expires_at > $3 AND a.expires_at <= $3 + INTERVAL '1 hour') AS expiring_within_hour,
	(SELECT COUNT(*) FROM news.stored_articles a WHERE a.expires_at <= $3) AS expired_awaiting_purge,
	(SELECT MIN(a.expires_at) FROM news.stored_articles a) AS oldest_expires_at,
	(SELECT MAX(a.stored_at) FROM news.stored_articles a) AS newest_stored_at,
	(SELECT COUNT(*) FROM news.stored_articles a WHERE a.stored_at >= $1 AND a.stored_at < $2) AS articles_stored_today,
	(SELECT COUNT(*) FROM news.pipeline_runs r WHERE r.started_at >= $1 AND r.started_at < $2) AS runs_started_today,
	(SELECT COUNT(*) FROM news.pipeline_runs r WHERE r.started_at >= $1 AND r.started_at < $2 AND r.status = 'failed') AS runs_failed_today
`

	if err := p.QueryRow(ctx, countersQuery, startUTC, endUTC, now).Scan(
		&stats.Totals.Runs,
		&stats.Totals.FailedRuns,
		&stats.Retention.ExpiringWithinHour,
		&stats.Retention.ExpiredAwaitingPurge,
		&stats.Retention.OldestExpiresAt,
		&stats.Retention.NewestStoredAt,
		&stats.Throughput.ArticlesStoredToday,
		&stats.Throughput.RunsStartedToday,
		&stats.Throughput.RunsFailedToday,
	); err != nil {
		return nil, fmt.Errorf("query stats counters: %w", err)
	}

	return stats, nil
}
