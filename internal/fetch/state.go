package fetch

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"horse.fit/ticker/internal/globaltime"
)

// SourceEntry records per-source fetch bookkeeping.
type SourceEntry struct {
	LastFetchTime string `json:"last_fetch_time"`
}

// SourceState tracks when each source was last fetched. Like the seen
// set it is constructed once, injected, and persisted after each cycle;
// it exists for observability, not correctness.
type SourceState struct {
	mu      sync.Mutex
	path    string
	entries map[string]SourceEntry
}

// LoadSourceState reads the persisted state; missing or corrupt files
// yield an empty state.
func LoadSourceState(path string) *SourceState {
	state := &SourceState{
		path:    path,
		entries: make(map[string]SourceEntry),
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return state
	}
	var entries map[string]SourceEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return state
	}
	if entries != nil {
		state.entries = entries
	}
	return state
}

// Touch stamps a source with the current time.
func (s *SourceState) Touch(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[source] = SourceEntry{
		LastFetchTime: globaltime.UTC().Format(time.RFC3339),
	}
}

// LastFetch returns the recorded last fetch time for a source, or the
// zero time when the source has never been fetched.
func (s *SourceState) LastFetch(source string) time.Time {
	s.mu.Lock()
	entry, ok := s.entries[source]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, entry.LastFetchTime)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// Snapshot returns a copy of the recorded entries.
func (s *SourceState) Snapshot() map[string]SourceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SourceEntry, len(s.entries))
	for name, entry := range s.entries {
		out[name] = entry
	}
	return out
}

func (s *SourceState) Save() error {
	s.mu.Lock()
	payload, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode source state: %w", err)
	}
	if err := os.WriteFile(s.path, payload, 0o644); err != nil {
		return fmt.Errorf("write source state: %w", err)
	}
	return nil
}
