package fetch

import (
	"encoding/json"
	"fmt"
	"os"

	"horse.fit/ticker/internal/pipeline"
)

// ReadStagingItems loads raw items from a staging JSON file. Both a
// bare array and a {"items": [...]} wrapper are accepted, and entries
// that are not JSON objects are skipped. A missing file is an empty
// input, not an error.
func ReadStagingItems(path string) ([]pipeline.RawItem, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read staging file %s: %w", path, err)
	}

	return DecodeStagingItems(payload)
}

// DecodeStagingItems parses staging JSON bytes into raw items.
func DecodeStagingItems(payload []byte) ([]pipeline.RawItem, error) {
	var wrapper struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(payload, &wrapper); err == nil && len(wrapper.Items) > 0 {
		payload = wrapper.Items
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("decode staging items: %w", err)
	}

	items := make([]pipeline.RawItem, 0, len(entries))
	for _, entry := range entries {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(entry, &probe); err != nil || probe == nil {
			continue
		}
		var item pipeline.RawItem
		if err := json.Unmarshal(entry, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
