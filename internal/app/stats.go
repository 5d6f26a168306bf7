package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/ticker/internal/cli"
	"horse.fit/ticker/internal/db"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	runTail := fs.Int("runs", 5, "Number of recent pipeline runs to show (0 disables)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}
	if *runTail < 0 {
		fmt.Fprintln(os.Stderr, "--runs must be >= 0")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	dayStart := defaultUTCDay()
	_, dayEnd := utcDayBounds(dayStart)

	stats, err := pool.QueryStoreStats(ctx, dayStart, dayEnd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query store stats: %v\n", err)
		return 1
	}

	var recentRuns []db.PipelineRunItem
	if *runTail > 0 {
		recentRuns, err = pool.ListRecentRuns(ctx, *runTail)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to query recent runs: %v\n", err)
			return 1
		}
	}

	if outputFormat == outputFormatJSON {
		payload := struct {
			Stats      *db.StoreStats       `json:"stats"`
			RecentRuns []db.PipelineRunItem `json:"recent_runs,omitempty"`
		}{Stats: stats, RecentRuns: recentRuns}
		if err := printJSON(payload); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	categoryRows := make([][]string, 0, len(stats.Categories)+1)
	for _, row := range stats.Categories {
		categoryRows = append(categoryRows, []string{
			row.Category,
			fmt.Sprintf("%d", row.Articles),
		})
	}
	categoryRows = append(categoryRows, []string{
		"TOTAL",
		fmt.Sprintf("%d", stats.Totals.Articles),
	})

	if err := writeTable([]string{"category", "articles"}, categoryRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render category table: %v\n", err)
		return 1
	}

	fmt.Println()
	counterRows := [][]string{
		{"day", stats.Day},
		{"runs_total", fmt.Sprintf("%d", stats.Totals.Runs)},
		{"runs_failed", fmt.Sprintf("%d", stats.Totals.FailedRuns)},
		{"expiring_within_hour", fmt.Sprintf("%d", stats.Retention.ExpiringWithinHour)},
		{"expired_awaiting_purge", fmt.Sprintf("%d", stats.Retention.ExpiredAwaitingPurge)},
		{"oldest_expires_at", formatUTCTimestampPtr(stats.Retention.OldestExpiresAt)},
		{"newest_stored_at", formatUTCTimestampPtr(stats.Retention.NewestStoredAt)},
		{"articles_stored_today", fmt.Sprintf("%d", stats.Throughput.ArticlesStoredToday)},
		{"runs_started_today", fmt.Sprintf("%d", stats.Throughput.RunsStartedToday)},
		{"runs_failed_today", fmt.Sprintf("%d", stats.Throughput.RunsFailedToday)},
	}
	if err := writeTable([]string{"metric", "value"}, counterRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render counter table: %v\n", err)
		return 1
	}

	if len(recentRuns) == 0 {
		return 0
	}

	fmt.Println()
	runRows := make([][]string, 0, len(recentRuns))
	for _, run := range recentRuns {
		runRows = append(runRows, []string{
			fmt.Sprintf("%d", run.RunID),
			run.TriggeredBy,
			run.Status,
			run.Phase,
			fmt.Sprintf("%d", run.ItemsStored),
			formatUTCTimestamp(run.StartedAt),
			formatUTCTimestampPtr(run.FinishedAt),
		})
	}
	if err := writeTable([]string{"run_id", "trigger", "status", "phase", "stored", "started_at", "finished_at"}, runRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render run table: %v\n", err)
		return 1
	}

	return 0
}
