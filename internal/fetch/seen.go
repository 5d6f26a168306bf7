package fetch

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// State file names under the data directory.
const (
	SeenFileName        = "seen_hashes.json"
	SourceStateFileName = "source_state.json"
)

// ItemID derives the stable identifier for a fetched article from its
// title and URL. The same story re-listed under the same headline maps
// to the same id across cycles and restarts.
func ItemID(title, url string) string {
	sum := md5.Sum([]byte(title + url))
	return hex.EncodeToString(sum[:])
}

// SeenSet remembers which article ids have already been fetched so
// repeat listings are skipped. It is constructed once at process start,
// injected into the fetcher, and persisted after every cycle.
type SeenSet struct {
	mu     sync.Mutex
	path   string
	hashes map[string]struct{}
}

// LoadSeenSet reads the persisted id set. A missing or corrupt file
// yields an empty set rather than an error; losing the set only costs
// re-fetching articles the filter will drop as duplicates anyway.
func LoadSeenSet(path string) *SeenSet {
	set := &SeenSet{
		path:   path,
		hashes: make(map[string]struct{}),
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return set
	}
	var ids []string
	if err := json.Unmarshal(payload, &ids); err != nil {
		return set
	}
	for _, id := range ids {
		set.hashes[id] = struct{}{}
	}
	return set
}

func (s *SeenSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hashes[id]
	return ok
}

func (s *SeenSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[id] = struct{}{}
}

func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hashes)
}

// Save writes the set back to disk, sorted so the file diffs cleanly.
func (s *SeenSet) Save() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.hashes))
	for id := range s.hashes {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	payload, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("encode seen set: %w", err)
	}
	if err := os.WriteFile(s.path, payload, 0o644); err != nil {
		return fmt.Errorf("write seen set: %w", err)
	}
	return nil
}
