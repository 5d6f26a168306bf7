package pipeline

import (
	"strings"

	"horse.fit/ticker/internal/langdetect"
	"horse.fit/ticker/internal/language"
)

// Titles shorter than this many characters are screened out before
// classification.
const minTitleLength = 8

// How much of the body feeds the language detector together with the
// title.
const languageSampleBodyChars = 400

// Classify applies the negative-first title rules. A title matching a
// negative keyword is dropped unless an impact signal overrides it; a
// title with no negative match is kept. The verdict is total and
// deterministic for any input.
func Classify(title string) Decision {
	lowered := strings.ToLower(title)
	for _, neg := range negativeTitleKeywords {
		if strings.Contains(lowered, neg) {
			if titleHasImpact(title) {
				return Decision{Keep: true, Reason: ReasonImpactException, Term: neg}
			}
			return Decision{Keep: false, Reason: ReasonNegativeKeyword, Term: neg}
		}
	}
	return Decision{Keep: true, Reason: ReasonNoNegativeMatch}
}

func titleHasImpact(title string) bool {
	lowered := strings.ToLower(title)
	for _, keyword := range impactKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	for _, pattern := range impactPatterns {
		if pattern.MatchString(title) {
			return true
		}
	}
	return false
}

// Screen partitions one fetch batch. Items with a blank URL or a title
// shorter than minTitleLength are dropped before the classifier runs;
// survivors are annotated with a detected language.
func Screen(items []RawItem) FilterResult {
	result := FilterResult{
		Kept:    make([]RawItem, 0, len(items)),
		Dropped: make([]DropRecord, 0),
	}

	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		url := strings.TrimSpace(item.URL)
		if len([]rune(title)) < minTitleLength || url == "" {
			result.Dropped = append(result.Dropped, DropRecord{RawItem: item, DropReason: ReasonMissingTitleOrURL})
			continue
		}

		decision := Classify(title)
		if !decision.Keep {
			result.Dropped = append(result.Dropped, DropRecord{RawItem: item, DropReason: decision.Label()})
			continue
		}

		item.Language = detectItemLanguage(item)
		result.Kept = append(result.Kept, item)
	}

	return result
}

func detectItemLanguage(item RawItem) string {
	sample := item.Title
	if body := []rune(item.Body); len(body) > 0 {
		if len(body) > languageSampleBodyChars {
			body = body[:languageSampleBodyChars]
		}
		sample += " " + string(body)
	}
	return language.OrUnknown(langdetect.DetectISO6391(CleanText(sample)))
}
