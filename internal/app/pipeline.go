package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/ticker/internal/cli"
	"horse.fit/ticker/internal/config"
	"horse.fit/ticker/internal/db"
	"horse.fit/ticker/internal/fetch"
	"horse.fit/ticker/internal/logging"
	"horse.fit/ticker/internal/pipeline"
	articleschema "horse.fit/ticker/schema"
)

func runFilter(args []string) int {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	_, logger, artifacts, err := loadStageEnv(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	items, err := fetch.ReadStagingItems(artifacts.Path(pipeline.ArtifactRaw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read staging items: %v\n", err)
		return 1
	}

	screened := pipeline.Screen(items)
	if err := artifacts.WriteJSON(pipeline.ArtifactFiltered, screened.Kept); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write filtered items: %v\n", err)
		return 1
	}
	if err := artifacts.WriteJSON(pipeline.ArtifactFilteredDropped, screened.Dropped); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write drop records: %v\n", err)
		return 1
	}

	logger.Info().
		Int("input", len(items)).
		Int("kept", len(screened.Kept)).
		Int("dropped", len(screened.Dropped)).
		Msg("filter completed")
	fmt.Printf("filter input=%d kept=%d dropped=%d\n", len(items), len(screened.Kept), len(screened.Dropped))
	return 0
}

func runDedupe(args []string) int {
	fs := flag.NewFlagSet("dedupe", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	threshold := fs.Float64("threshold", 0, "Cosine similarity cutoff (0 uses SIM_THRESHOLD)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *threshold < 0 || *threshold > 1 {
		fmt.Fprintln(os.Stderr, "--threshold must be in (0, 1]")
		return 2
	}

	cfg, logger, artifacts, err := loadStageEnv(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cutoff := *threshold
	if cutoff == 0 {
		cutoff = cfg.SimilarityThreshold
	}

	items, err := fetch.ReadStagingItems(artifacts.Path(pipeline.ArtifactFiltered))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read filtered items: %v\n", err)
		return 1
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = pipeline.BuildEmbedText(item)
	}

	embedder := pipeline.NewEmbeddingClient(pipeline.EmbeddingOptions{
		Endpoint:  cfg.EmbedEndpoint,
		ModelName: cfg.EmbedModelName,
		BatchSize: cfg.EmbedBatchSize,
		MaxLength: cfg.EmbedMaxLength,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	vectors, err := embedder.EmbedTexts(ctx, texts)
	if err != nil {
		logger.Error().Err(err).Msg("dedupe embedding failed")
		fmt.Fprintf(os.Stderr, "Dedupe failed: %v\n", err)
		return 1
	}

	unique, _, duplicates, err := pipeline.Dedupe(items, vectors, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dedupe failed: %v\n", err)
		return 1
	}

	if err := artifacts.WriteJSON(pipeline.ArtifactUnique, unique); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write unique items: %v\n", err)
		return 1
	}
	if err := artifacts.WriteJSON(pipeline.ArtifactDuplicates, duplicates); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write duplicate records: %v\n", err)
		return 1
	}

	logger.Info().
		Int("input", len(items)).
		Int("unique", len(unique)).
		Int("duplicates", len(duplicates)).
		Float64("threshold", cutoff).
		Msg("dedupe completed")
	fmt.Printf("dedupe input=%d unique=%d duplicates=%d threshold=%.2f\n", len(items), len(unique), len(duplicates), cutoff)
	return 0
}

func runStructure(args []string) int {
	fs := flag.NewFlagSet("structure", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	providerName := fs.String("provider", "", "Generation provider name (empty uses GENAI_PROVIDER)")

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

	items, err := fetch.ReadStagingItems(artifacts.Path(pipeline.ArtifactUnique))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read unique items: %v\n", err)
		return 1
	}

	provider, err := structuringProvider(cfg, *providerName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	structurer := pipeline.NewStructurer(provider, logger, artifacts.ArchiveBadOutput)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := structurer.StructureItems(ctx, items)
	if err != nil {
		logger.Error().Err(err).Msg("structure failed")
		fmt.Fprintf(os.Stderr, "Structure failed: %v\n", err)
		return 1
	}

	if err := artifacts.WriteJSON(pipeline.ArtifactStructured, result.Articles); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write structured articles: %v\n", err)
		return 1
	}
	if len(result.Errors) == 0 {
		if err := artifacts.Remove(pipeline.ArtifactStructureErrors); err != nil {
			logger.Warn().Err(err).Msg("could not remove stale structurer error artifact")
		}
	} else if err := artifacts.WriteJSON(pipeline.ArtifactStructureErrors, result.Errors); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write structurer errors: %v\n", err)
		return 1
	}

	logger.Info().
		Int("input", len(items)).
		Int("structured", len(result.Articles)).
		Int("failed", len(result.Errors)).
		Str("provider", provider.Name()).
		Msg("structure completed")
	fmt.Printf(
		"structure input=%d structured=%d failed=%d provider=%s\n",
		len(items),
		len(result.Articles),
		len(result.Errors),
		provider.Name(),
	)
	return 0
}

func runLoad(args []string) int {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")

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

	payload, err := artifacts.ReadRaw(pipeline.ArtifactStructured)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read structured articles: %v\n", err)
		return 1
	}

	var articles []articleschema.Article
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &articles); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to decode structured articles: %v\n", err)
			return 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store := pipeline.NewCycleStore(cfg, logger)
	result, err := store.SaveArticles(ctx, articles)
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			fmt.Fprintf(os.Stderr, "Load skipped: article store unreachable: %v\n", err)
			return 1
		}
		logger.Error().Err(err).Msg("load failed")
		fmt.Fprintf(os.Stderr, "Load failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Msg("load completed")
	fmt.Printf("load articles=%d inserted=%d updated=%d failed=%d\n", len(articles), result.Inserted, result.Updated, result.Failed)
	return 0
}

func runRunOnce(args []string) int {
	fs := flag.NewFlagSet("run-once", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	handle := db.NewHandle(cfg)
	defer handle.Close()

	bundle, err := buildRunner(cfg, handle, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	saved, err := bundle.runner.RunOnce(ctx, pipeline.TriggerCLI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}

	fmt.Printf("run-once saved=%d\n", saved)
	return 0
}
