package pipeline

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Body text beyond this many characters is ignored when building the
// embedding input.
const maxEmbedBodyChars = 3000

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanText NFKC-normalizes, collapses whitespace, and strips the
// boilerplate fragments that leak out of article scrapes.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = norm.NFKC.String(text)
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	for _, pattern := range skipPhrasePatterns {
		text = pattern.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// BuildEmbedText is the text compared for near-duplicate detection: the
// cleaned title joined with the cleaned head of the body.
func BuildEmbedText(item RawItem) string {
	title := CleanText(item.Title)

	body := item.Body
	if runes := []rune(body); len(runes) > maxEmbedBodyChars {
		body = string(runes[:maxEmbedBodyChars])
	}
	body = CleanText(body)

	if body == "" {
		return title
	}
	return title + ". " + body
}
