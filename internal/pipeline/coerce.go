package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	articleschema "horse.fit/ticker/schema"
)

// maxBodyExcerptChars caps the excerpt injected when the model omits one.
const maxBodyExcerptChars = 300

var coercedStringFields = []string{
	"title", "summary", "ui_recommendation", "impact_analysis",
	"category", "source", "original_url", "body_excerpt",
}

// applyInputDefaults backfills model output with fields from the input
// item. The prompt asks for "article_id"; the stored contract wants
// "id", so the key is renamed before the defaults land. fetched_at is
// always taken from the input, never from the model.
func applyInputDefaults(obj map[string]any, item RawItem, now time.Time) {
	if truthyJSON(obj["article_id"]) && !truthyJSON(obj["id"]) {
		obj["id"] = obj["article_id"]
	}
	delete(obj, "article_id")

	idDefault := item.ID
	if idDefault == "" {
		idDefault = uuid.NewString()
	}
	setDefault(obj, "id", idDefault)
	setDefault(obj, "source", item.Source)
	setDefault(obj, "original_url", item.URL)
	setDefault(obj, "body_excerpt", truncateRunes(item.Body, maxBodyExcerptChars))

	fetchedAt := item.FetchedAt
	if fetchedAt == "" {
		fetchedAt = now.UTC().Format("2006-01-02T15:04:05.000000")
	}
	obj["fetched_at"] = fetchedAt
}

// coerceAndValidate normalizes a repaired model payload in place and
// checks it against the structured article schema. Defaults are
// deliberately forgiving: a missing sentiment becomes neutral/0.5 and
// missing arrays become empty, but a sentiment that is present yet not
// an object fails the item.
func coerceAndValidate(obj map[string]any) (*articleschema.Article, error) {
	if !truthyJSON(obj["id"]) {
		obj["id"] = uuid.NewString()
	}

	if pa, ok := obj["published_at"].(string); !ok || !isoParseable(pa) {
		obj["published_at"] = nil
	}

	sentiment, err := sentimentObject(obj["sentiment"])
	if err != nil {
		return nil, err
	}
	label, err := coerceSentimentLabel(sentiment["label"])
	if err != nil {
		return nil, err
	}
	obj["sentiment"] = map[string]any{
		"label": label,
		"score": clampScore(coerceScore(sentiment["score"])),
	}

	for _, key := range []string{"tickers", "entities", "tags"} {
		if !truthyJSON(obj[key]) {
			obj[key] = []any{}
		}
	}

	for _, key := range coercedStringFields {
		if obj[key] == nil {
			obj[key] = ""
		}
	}

	payload, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode coerced payload: %w", err)
	}
	return articleschema.ValidateStructuredArticle(payload)
}

func sentimentObject(value any) (map[string]any, error) {
	switch v := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	default:
		if !truthyJSON(v) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("sentiment must be an object, got %s", jsonKind(v))
	}
}

func coerceSentimentLabel(value any) (string, error) {
	if !truthyJSON(value) {
		return "neutral", nil
	}
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("sentiment label must be a string, got %s", jsonKind(value))
	}
	label := strings.ToLower(text)
	switch label {
	case "positive", "neutral", "negative":
		return label, nil
	default:
		return "neutral", nil
	}
}

func coerceScore(value any) float64 {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0.5
		}
		return v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0.5
		}
		return parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0.5
		}
		return parsed
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0.5
	}
}

func clampScore(score float64) float64 {
	return math.Min(math.Max(score, 0), 1)
}

func isoParseable(value string) bool {
	_, ok := parseISOTimestamp(value)
	return ok
}

func setDefault(obj map[string]any, key string, value any) {
	if _, exists := obj[key]; !exists {
		obj[key] = value
	}
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// truthyJSON mirrors loose-typed truthiness for decoded JSON values:
// null, empty strings, zero numbers, false, and empty containers all
// count as absent.
func truthyJSON(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case json.Number:
		parsed, err := v.Float64()
		return err != nil || parsed != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
