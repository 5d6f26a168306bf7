package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"horse.fit/ticker/internal/globaltime"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseISOTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// effectiveTimestamp returns the first parseable of primary then
// fallback, else now. Timestamps without a zone are treated as UTC.
func effectiveTimestamp(primary *string, fallback string, now time.Time) time.Time {
	if primary != nil {
		if ts, ok := parseISOTimestamp(*primary); ok {
			return ts
		}
	}
	if ts, ok := parseISOTimestamp(fallback); ok {
		return ts
	}
	return now
}

// Dedupe evaluates items earliest-reported first (effective publication
// timestamp ascending, ties broken by fetch time) and greedily keeps the
// first item of each near-duplicate cluster. An item whose best cosine
// similarity against the kept set reaches threshold is recorded as a
// duplicate of that keeper; otherwise it joins the kept set. vectors must
// be L2-normalized and parallel to items. The verdict for an item depends
// only on earlier-evaluated keepers, so clustering is order-dependent and
// deliberately not transitive.
func Dedupe(items []RawItem, vectors [][]float64, threshold float64) (kept []RawItem, keptVectors [][]float64, duplicates []DuplicateRecord, err error) {
	if len(items) != len(vectors) {
		return nil, nil, nil, fmt.Errorf("items and vectors length mismatch: %d != %d", len(items), len(vectors))
	}

	now := globaltime.UTC()
	type sortKey struct {
		published time.Time
		fetched   time.Time
	}
	keys := make([]sortKey, len(items))
	for i, item := range items {
		keys[i] = sortKey{
			published: effectiveTimestamp(item.PublishedAt, item.FetchedAt, now),
			fetched:   effectiveTimestamp(nil, item.FetchedAt, now),
		}
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := keys[order[a]], keys[order[b]]
		if !ka.published.Equal(kb.published) {
			return ka.published.Before(kb.published)
		}
		return ka.fetched.Before(kb.fetched)
	})

	kept = make([]RawItem, 0, len(items))
	keptVectors = make([][]float64, 0, len(items))
	duplicates = make([]DuplicateRecord, 0)

	for _, idx := range order {
		item, vector := items[idx], vectors[idx]
		if len(keptVectors) == 0 {
			kept = append(kept, item)
			keptVectors = append(keptVectors, vector)
			continue
		}

		best := -1
		bestSim := math.Inf(-1)
		for j, keptVector := range keptVectors {
			sim := dot(keptVector, vector)
			if sim > bestSim {
				best, bestSim = j, sim
			}
		}

		if bestSim >= threshold {
			duplicates = append(duplicates, DuplicateRecord{
				ID:               item.ID,
				Title:            item.Title,
				URL:              item.URL,
				Source:           item.Source,
				PublishedAt:      item.PublishedAt,
				DuplicateOf:      kept[best].ID,
				DuplicateOfTitle: kept[best].Title,
				CosineSimilarity: math.Round(bestSim*1e4) / 1e4,
			})
			continue
		}

		kept = append(kept, item)
		keptVectors = append(keptVectors, vector)
	}

	return kept, keptVectors, duplicates, nil
}

// dot on L2-normalized vectors is their cosine similarity.
func dot(a, b []float64) float64 {
	var sum float64
	for i := 0; i < len(a) && i < len(b); i++ {
		sum += a[i] * b[i]
	}
	return sum
}
