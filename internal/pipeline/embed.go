package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultEmbeddingEndpoint       = "http://127.0.0.1:8844/embed"
	DefaultEmbeddingModelName      = "all-MiniLM-L6-v2"
	DefaultEmbeddingBatchSize      = 32
	DefaultEmbeddingMaxLength      = 512
	DefaultEmbeddingRequestTimeout = 45 * time.Second
)

// EmbeddingOptions configures the embedding collaborator client.
type EmbeddingOptions struct {
	Endpoint       string
	ModelName      string
	BatchSize      int
	MaxLength      int
	RequestTimeout time.Duration
}

// EmbeddingClient talks to the sentence-embedding service. It is
// constructed once at process start and injected into whichever stage
// needs vectors.
type EmbeddingClient struct {
	endpoint   string
	modelName  string
	batchSize  int
	maxLength  int
	timeout    time.Duration
	httpClient *http.Client
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	ElapsedMS  *float64    `json:"elapsed_ms"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func NewEmbeddingClient(opts EmbeddingOptions) *EmbeddingClient {
	if strings.TrimSpace(opts.Endpoint) == "" {
		opts.Endpoint = DefaultEmbeddingEndpoint
	}
	if strings.TrimSpace(opts.ModelName) == "" {
		opts.ModelName = DefaultEmbeddingModelName
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbeddingBatchSize
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultEmbeddingMaxLength
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultEmbeddingRequestTimeout
	}
	return &EmbeddingClient{
		endpoint:   normalizeEmbeddingEndpoint(opts.Endpoint),
		modelName:  opts.ModelName,
		batchSize:  opts.BatchSize,
		maxLength:  opts.MaxLength,
		timeout:    opts.RequestTimeout,
		httpClient: http.DefaultClient,
	}
}

// EmbedTexts returns one L2-normalized vector per input text, in input
// order. Any collaborator failure is reported as ErrEmbeddingUnavailable;
// callers abort the filter stage rather than retrying locally.
func (c *EmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: client is not initialized", ErrEmbeddingUnavailable)
	}
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	vectors := make([][]float64, 0, len(texts))
	dimensions := 0
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))

		batch, _, err := c.requestEmbeddings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: response count mismatch: requested=%d returned=%d",
				ErrEmbeddingUnavailable, end-start, len(batch))
		}

		for i, vector := range batch {
			normalized, err := l2Normalize(vector)
			if err != nil {
				return nil, fmt.Errorf("%w: vector %d: %v", ErrEmbeddingUnavailable, start+i, err)
			}
			if dimensions == 0 {
				dimensions = len(normalized)
			} else if len(normalized) != dimensions {
				return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
					ErrEmbeddingUnavailable, start+i, len(normalized), dimensions)
			}
			vectors = append(vectors, normalized)
		}
	}

	return vectors, nil
}

func (c *EmbeddingClient) requestEmbeddings(ctx context.Context, texts []string) ([][]float64, *float64, error) {
	payload := embedRequest{
		Texts:     texts,
		MaxLength: c.maxLength,
	}
	parsedEndpoint, err := url.Parse(c.endpoint)
	if err == nil && strings.HasSuffix(parsedEndpoint.Path, "/v1/embeddings") {
		payload = embedRequest{
			Input: texts,
			Model: c.modelName,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, parsed.ElapsedMS, fmt.Errorf("embedding response missing vectors")
	}

	return vectors, parsed.ElapsedMS, nil
}

func normalizeEmbeddingEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEmbeddingEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}

func l2Normalize(vector []float64) ([]float64, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty vector")
	}
	var sum float64
	for i, value := range vector {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("non-finite value at index %d", i)
		}
		sum += value * value
	}
	if sum == 0 {
		return nil, fmt.Errorf("zero vector")
	}
	length := math.Sqrt(sum)
	normalized := make([]float64, len(vector))
	for i, value := range vector {
		normalized[i] = value / length
	}
	return normalized, nil
}
