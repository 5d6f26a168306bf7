package app

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"horse.fit/ticker/internal/config"
	"horse.fit/ticker/internal/db"
	"horse.fit/ticker/internal/fetch"
	"horse.fit/ticker/internal/genai"
	"horse.fit/ticker/internal/pipeline"
)

// runnerBundle holds one process's pipeline wiring: the runner plus the
// artifact store the HTTP API also reads from.
type runnerBundle struct {
	runner    *pipeline.Runner
	artifacts *pipeline.ArtifactStore
}

// buildRunner constructs every pipeline collaborator from configuration
// and wires them into a runner. The handle is shared with the API read
// path; the run ledger writes through it.
func buildRunner(cfg *config.Config, handle *db.Handle, logger zerolog.Logger) (*runnerBundle, error) {
	artifacts, err := pipeline.NewArtifactStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open data directory: %w", err)
	}

	seen := fetch.LoadSeenSet(filepath.Join(cfg.DataDir, fetch.SeenFileName))
	state := fetch.LoadSourceState(filepath.Join(cfg.DataDir, fetch.SourceStateFileName))
	fetcher := fetch.NewWebFetcher(fetch.DefaultSources(), seen, state, logger, fetch.Options{})

	embedder := pipeline.NewEmbeddingClient(pipeline.EmbeddingOptions{
		Endpoint:  cfg.EmbedEndpoint,
		ModelName: cfg.EmbedModelName,
		BatchSize: cfg.EmbedBatchSize,
		MaxLength: cfg.EmbedMaxLength,
	})

	provider, err := structuringProvider(cfg, "")
	if err != nil {
		return nil, err
	}
	structurer := pipeline.NewStructurer(provider, logger, artifacts.ArchiveBadOutput)

	runner := pipeline.NewRunner(pipeline.RunnerOptions{
		Fetcher:             fetcher,
		Embedder:            embedder,
		Structurer:          structurer,
		Store:               pipeline.NewCycleStore(cfg, logger),
		Ledger:              pipeline.NewLedgerWriter(handle),
		Artifacts:           artifacts,
		Logger:              logger,
		SimilarityThreshold: cfg.SimilarityThreshold,
	})

	return &runnerBundle{runner: runner, artifacts: artifacts}, nil
}

// structuringProvider resolves a text-generation provider by name; an
// empty name picks the configured default.
func structuringProvider(cfg *config.Config, name string) (genai.Provider, error) {
	registry := genai.BuildRegistry(genai.RegistryOptions{
		DefaultProvider: cfg.GenAIProvider,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		GeminiModel:     cfg.GeminiModel,
		LocalEndpoint:   cfg.GenAIEndpoint,
		LocalModel:      cfg.GenAIModel,
	})
	provider, err := registry.Provider(name)
	if err != nil {
		return nil, fmt.Errorf("resolve generation provider: %w", err)
	}
	return provider, nil
}
