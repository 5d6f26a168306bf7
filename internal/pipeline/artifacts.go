package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"horse.fit/ticker/internal/globaltime"
)

// Artifact file names written under the data directory after each
// stage. They mirror what each stage produced so a failed or surprising
// run can be inspected without re-running it.
const (
	ArtifactRaw             = "staging_raw.json"
	ArtifactFiltered        = "staging_filtered.json"
	ArtifactFilteredDropped = "staging_filtered_dropped.json"
	ArtifactUnique          = "staging_unique.json"
	ArtifactDuplicates      = "staging_duplicates.json"
	ArtifactStructured      = "news_structured.json"
	ArtifactStructureErrors = "news_structurer_errors.json"
)

// ArtifactStore reads and writes the per-stage JSON artifacts in one
// directory.
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return &ArtifactStore{dir: dir}, nil
}

func (s *ArtifactStore) Dir() string {
	return s.dir
}

func (s *ArtifactStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// WriteJSON writes one artifact, pretty-printed so the files stay
// readable when opened by hand. Temp-then-rename keeps readers from
// ever seeing a half-written file.
func (s *ArtifactStore) WriteJSON(name string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", name, err)
	}
	tmp := s.Path(name + ".tmp")
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := os.Rename(tmp, s.Path(name)); err != nil {
		return fmt.Errorf("replace artifact %s: %w", name, err)
	}
	return nil
}

// ReadRaw returns the artifact bytes, or nil when the artifact has not
// been written yet.
func (s *ArtifactStore) ReadRaw(name string) ([]byte, error) {
	payload, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return payload, nil
}

// Remove deletes an artifact; a missing file is not an error.
func (s *ArtifactStore) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact %s: %w", name, err)
	}
	return nil
}

// ArchiveBadOutput saves raw model text that could not be repaired into
// JSON. Archiving is best-effort; a failed write only costs the debug
// breadcrumb, never the run.
func (s *ArtifactStore) ArchiveBadOutput(raw string) {
	now := globaltime.UTC()
	name := fmt.Sprintf("llm_bad_output_%s%06d.txt", now.Format("20060102T150405"), now.Nanosecond()/1000)
	_ = os.WriteFile(s.Path(name), []byte(raw), 0o644)
}
