package articleschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed structured_article.schema.json
var structuredArticleSchemaJSON string

// Category values accepted by the structured article contract. The prompt
// shown to the text-generation provider enumerates the same list.
var CategoryValues = []string{
	"Market News",
	"Company Update",
	"Earnings",
	"Regulatory",
	"Macro",
	"Product Launch",
	"Management",
	"Funding",
	"Other",
}

// Sentiment labels accepted by the structured article contract.
var SentimentLabels = []string{"positive", "neutral", "negative"}

// Sentiment is the label/score pair attached to every structured article.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Entity is a typed named-entity mention extracted from an article.
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Article is the structured record produced by the structuring stage and
// consumed by the persistence layer. PublishedAt is nil when the source
// never reported a parseable timestamp.
type Article struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Summary          string    `json:"summary"`
	Sentiment        Sentiment `json:"sentiment"`
	UIRecommendation string    `json:"ui_recommendation"`
	ImpactAnalysis   string    `json:"impact_analysis"`
	Category         string    `json:"category"`
	Tickers          []string  `json:"tickers"`
	Entities         []Entity  `json:"entities"`
	Tags             []string  `json:"tags"`
	PublishedAt      *string   `json:"published_at"`
	Source           string    `json:"source"`
	OriginalURL      string    `json:"original_url"`
	BodyExcerpt      string    `json:"body_excerpt"`
	Language         string    `json:"language,omitempty"`
	FetchedAt        *string   `json:"fetched_at,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateStructuredArticle checks a coerced generation payload against the
// structured article schema and decodes it into the typed record.
func ValidateStructuredArticle(payload json.RawMessage) (*Article, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode article JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize article JSON: %w", err)
	}

	var article Article
	if err := json.Unmarshal(normalized, &article); err != nil {
		return nil, fmt.Errorf("unmarshal article: %w", err)
	}

	if err := validateSemantics(&article); err != nil {
		return nil, err
	}

	return &article, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("structured_article.schema.json", strings.NewReader(structuredArticleSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("structured_article.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(article *Article) error {
	if article == nil {
		return fmt.Errorf("article is nil")
	}

	if strings.TrimSpace(article.ID) == "" {
		return fmt.Errorf("id must not be blank")
	}
	if strings.TrimSpace(article.Title) == "" {
		return fmt.Errorf("title must not be blank")
	}
	if strings.TrimSpace(article.Summary) == "" {
		return fmt.Errorf("summary must not be blank")
	}

	return nil
}
