package genai

import "context"

// Provider produces generative-model completions. Implementations are
// expected to request strict JSON output from the model; callers still
// treat the returned text as untrusted and repair it before parsing.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Name() string
	ModelName() string
}

// GenerateRequest describes one completion request.
type GenerateRequest struct {
	Prompt string
}

// GenerateResponse contains the raw model text and provider metadata.
type GenerateResponse struct {
	Text         string
	ProviderName string
	ModelName    string
	LatencyMs    int64
}
