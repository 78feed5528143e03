package memory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"patternmem/internal/store"
)

// DecodeBatches parses detector output. It accepts a single FileBatch
// object, an array of FileBatch objects, or a flat array of findings which
// is grouped into one batch per file in order of first appearance.
func DecodeBatches(data []byte) ([]FileBatch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '{' {
		var b FileBatch
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return []FileBatch{b}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode batches: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	var first map[string]json.RawMessage
	if err := json.Unmarshal(items[0], &first); err != nil {
		return nil, fmt.Errorf("decode batches: %w", err)
	}
	if _, ok := first["findings"]; ok {
		var bs []FileBatch
		if err := json.Unmarshal(data, &bs); err != nil {
			return nil, fmt.Errorf("decode batches: %w", err)
		}
		return bs, nil
	}

	var raws []store.RawFinding
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}
	var out []FileBatch
	pos := map[string]int{}
	for _, r := range raws {
		i, ok := pos[r.FilePath]
		if !ok {
			i = len(out)
			pos[r.FilePath] = i
			out = append(out, FileBatch{FilePath: r.FilePath})
		}
		out[i].Findings = append(out[i].Findings, r)
	}
	return out, nil
}
