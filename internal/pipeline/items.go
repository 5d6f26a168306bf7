package pipeline

// RawItem is one fetched article as handed to the pipeline. Items are
// immutable once staged; the pipeline only annotates its own copy with a
// detected language.
type RawItem struct {
	ID          string  `json:"id"`
	Source      string  `json:"source"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	PublishedAt *string `json:"published_at"`
	FetchedAt   string  `json:"fetched_at"`
	Body        string  `json:"body"`
	Language    string  `json:"language,omitempty"`
}

// Classifier decision reasons. Label renders the audit form, e.g.
// "negative_keyword(bollywood)".
const (
	ReasonNoNegativeMatch   = "no_negative_match"
	ReasonImpactException   = "impact_exception"
	ReasonNegativeKeyword   = "negative_keyword"
	ReasonMissingTitleOrURL = "missing_title_or_url"
)

// Decision is the classifier verdict for one title.
type Decision struct {
	Keep   bool
	Reason string
	Term   string
}

func (d Decision) Label() string {
	if d.Term == "" {
		return d.Reason
	}
	return d.Reason + "(" + d.Term + ")"
}

// DropRecord is a rejected item plus the reason it was rejected, kept for
// the filtered-out artifact.
type DropRecord struct {
	RawItem
	DropReason string `json:"drop_reason"`
}

// DuplicateRecord is the audit entry for an item suppressed as
// near-duplicate coverage of an earlier keeper.
type DuplicateRecord struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	URL              string  `json:"url"`
	Source           string  `json:"source"`
	PublishedAt      *string `json:"published_at"`
	DuplicateOf      string  `json:"duplicate_of"`
	DuplicateOfTitle string  `json:"duplicate_of_title"`
	CosineSimilarity float64 `json:"cosine_similarity"`
}

// StructureError records the final failure for one item after the
// structuring retry budget is spent.
type StructureError struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// FilterResult partitions one fetch batch into kept items and drop
// records.
type FilterResult struct {
	Kept    []RawItem
	Dropped []DropRecord
}
