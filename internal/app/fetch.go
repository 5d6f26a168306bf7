package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"horse.fit/ticker/internal/cli"
	"horse.fit/ticker/internal/fetch"
	"horse.fit/ticker/internal/pipeline"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, artifacts, err := loadStageEnv(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	seen := fetch.LoadSeenSet(filepath.Join(cfg.DataDir, fetch.SeenFileName))
	state := fetch.LoadSourceState(filepath.Join(cfg.DataDir, fetch.SourceStateFileName))
	fetcher := fetch.NewWebFetcher(fetch.DefaultSources(), seen, state, logger, fetch.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	items, err := fetcher.FetchAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("fetch failed")
		fmt.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
		return 1
	}

	if err := fetcher.PersistState(); err != nil {
		logger.Warn().Err(err).Msg("could not persist fetcher state")
	}
	if err := artifacts.WriteJSON(pipeline.ArtifactRaw, items); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write staging file: %v\n", err)
		return 1
	}

	logger.Info().
		Int("items", len(items)).
		Int("seen", seen.Len()).
		Msg("fetch completed")
	fmt.Printf("fetch items=%d seen=%d staging=%s\n", len(items), seen.Len(), artifacts.Path(pipeline.ArtifactRaw))
	return 0
}
