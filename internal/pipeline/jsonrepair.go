package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// errUnparseableModelOutput marks raw model text that survived every
// repair step without yielding JSON. Callers archive the raw text when
// they see this error; other parse failures are not worth archiving.
var errUnparseableModelOutput = errors.New("model did not return valid JSON")

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// jsonObjectFromText recovers a JSON object from raw model output.
// The repair ladder: strip code fences, strict parse, extract the first
// balanced {...} span, then drop trailing commas. Only a fully
// unparseable payload reports errUnparseableModelOutput.
func jsonObjectFromText(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errUnparseableModelOutput
	}
	cleaned := stripCodeFences(raw)

	var strict any
	if err := json.Unmarshal([]byte(cleaned), &strict); err == nil {
		obj, ok := strict.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("model returned a JSON %s, not an object", jsonKind(strict))
		}
		return obj, nil
	}

	candidate, ok := extractBalancedObject(cleaned)
	if !ok {
		return nil, errUnparseableModelOutput
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil && obj != nil {
		return obj, nil
	}
	repaired := trailingCommaPattern.ReplaceAllString(candidate, "$1")
	if err := json.Unmarshal([]byte(repaired), &obj); err == nil && obj != nil {
		return obj, nil
	}

	return nil, errUnparseableModelOutput
}

// stripCodeFences removes markdown fence decoration models add despite
// being told not to. A leading "json" language label is dropped even
// without fences.
func stripCodeFences(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimSpace(strings.Trim(text, "`"))
	}
	if len(text) >= 4 && strings.EqualFold(text[:4], "json") {
		text = strings.TrimLeft(text[4:], " \t\r\n")
	}
	return text
}

// extractBalancedObject returns the first balanced {...} span, walking
// the text with string and escape tracking so braces inside string
// values do not confuse the depth count.
func extractBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	default:
		return "value"
	}
}
