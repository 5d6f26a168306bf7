package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/ticker/internal/genai"
	"horse.fit/ticker/internal/globaltime"
	"horse.fit/ticker/internal/retry"
	articleschema "horse.fit/ticker/schema"
)

const (
	structureAttempts    = 2
	structureRetryDelay  = 600 * time.Millisecond
	structurePacingDelay = 200 * time.Millisecond
)

// StructureResult carries the per-item outcome of the structuring
// stage. Failures never abort the batch; each failed item lands in
// Errors with the reason from its final attempt.
type StructureResult struct {
	Articles []articleschema.Article
	Errors   []StructureError
}

// Structurer turns raw items into validated structured articles, one
// generation call per item.
type Structurer struct {
	provider         genai.Provider
	logger           zerolog.Logger
	archiveBadOutput func(raw string)

	retryDelay  time.Duration
	pacingDelay time.Duration
}

// NewStructurer builds a structurer. archiveBadOutput receives raw
// model text that defeated the JSON repair ladder; pass nil to skip
// archiving.
func NewStructurer(provider genai.Provider, logger zerolog.Logger, archiveBadOutput func(raw string)) *Structurer {
	return &Structurer{
		provider:         provider,
		logger:           logger,
		archiveBadOutput: archiveBadOutput,
		retryDelay:       structureRetryDelay,
		pacingDelay:      structurePacingDelay,
	}
}

// StructureItems processes items in order. Each item gets at most two
// attempts with a short delay between them, and every item is followed
// by a pacing pause so the provider is not hammered. The returned error
// is non-nil only when the context is cancelled; provider and
// validation failures stay per-item.
func (s *Structurer) StructureItems(ctx context.Context, items []RawItem) (StructureResult, error) {
	result := StructureResult{
		Articles: make([]articleschema.Article, 0, len(items)),
		Errors:   make([]StructureError, 0),
	}
	if s == nil || s.provider == nil {
		return result, fmt.Errorf("structurer provider is not configured")
	}

	policy := retry.Policy{Attempts: structureAttempts, Delay: s.retryDelay}
	for i, item := range items {
		var article *articleschema.Article
		err := policy.Do(ctx, func(int) error {
			candidate, attemptErr := s.structureOne(ctx, item)
			if attemptErr != nil {
				return attemptErr
			}
			article = candidate
			return nil
		})
		switch {
		case err == nil:
			result.Articles = append(result.Articles, *article)
			s.logger.Debug().
				Int("index", i+1).
				Int("total", len(items)).
				Str("title", truncateRunes(article.Title, 90)).
				Msg("structured item")
		case ctx.Err() != nil:
			return result, ctx.Err()
		default:
			result.Errors = append(result.Errors, StructureError{
				ID:    item.ID,
				Title: item.Title,
				URL:   item.URL,
				Error: err.Error(),
			})
			s.logger.Warn().
				Int("index", i+1).
				Int("total", len(items)).
				Str("title", truncateRunes(item.Title, 90)).
				Str("error", err.Error()).
				Msg("structuring item failed")
		}

		if err := retry.Sleep(ctx, s.pacingDelay); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (s *Structurer) structureOne(ctx context.Context, item RawItem) (*articleschema.Article, error) {
	resp, err := s.provider.Generate(ctx, genai.GenerateRequest{Prompt: buildStructurePrompt(item)})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	obj, err := jsonObjectFromText(resp.Text)
	if err != nil {
		if errors.Is(err, errUnparseableModelOutput) && s.archiveBadOutput != nil {
			s.archiveBadOutput(resp.Text)
		}
		return nil, err
	}

	applyInputDefaults(obj, item, globaltime.UTC())
	return coerceAndValidate(obj)
}
