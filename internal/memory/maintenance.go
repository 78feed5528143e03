package memory

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"patternmem/internal/export"
	"patternmem/internal/graph"
	"patternmem/internal/logger"
	"patternmem/internal/store"
	"patternmem/internal/walker"
)

// Purge hard-deletes a finding along with its edges, vector and index entry.
// Snapshots keep their historical reference to it.
func (m *Memory) Purge(ctx context.Context, id int64) (edges int64, err error) {
	m.ingestMu.Lock()
	defer m.ingestMu.Unlock()

	err = m.store.Update(ctx, func(tx *store.Tx) error {
		if edges, err = graph.RemoveNode(ctx, tx, id); err != nil {
			return err
		}
		return tx.DeleteFinding(ctx, id)
	})
	if err != nil {
		return 0, err
	}
	m.index.Remove(id)
	logger.Info("finding purged", "id", id, "edges", edges)
	return edges, nil
}

// RefreshResult reports a Refresh pass.
type RefreshResult struct {
	Checked int   `json:"checked"`
	Changed int   `json:"changed"`
	Missing int   `json:"missing"`
	Stale   int64 `json:"stale"`
}

// Refresh re-hashes every file that has a snapshot and marks the findings
// of changed or deleted files stale. Hashes are compared against blake3
// content hashes, the form Ingest records when given file content.
func (m *Memory) Refresh(ctx context.Context) (*RefreshResult, error) {
	tracked, err := m.store.TrackedFiles(ctx)
	if err != nil {
		return nil, err
	}

	// Tracked paths are relative to the root or absolute; the walker
	// reports slash-separated relative paths.
	byRel := make(map[string]string, len(tracked))
	for _, p := range tracked {
		rel := p
		if filepath.IsAbs(p) {
			if rel, err = filepath.Rel(m.root, p); err != nil {
				continue
			}
		}
		byRel[filepath.ToSlash(filepath.Clean(rel))] = p
	}

	res := &RefreshResult{}
	seen := make(map[string]bool, len(tracked))
	files, walkErrs := walker.Walk(ctx, m.root, walker.Options{
		Ignore: m.cfg.Ignore,
		Want:   func(rel string) bool { _, ok := byRel[rel]; return ok },
	})
	for fi := range files {
		path := byRel[fi.RelPath]
		seen[path] = true
		res.Checked++

		hash, err := hashFile(fi.Path)
		if err != nil {
			logger.Warn("could not hash file", "file", fi.RelPath, "error", err)
			continue
		}
		n, err := m.MarkStale(ctx, path, hash)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			res.Changed++
			res.Stale += n
		}
	}
	if err := <-walkErrs; err != nil {
		return nil, fmt.Errorf("walk %s: %w", m.root, err)
	}

	for _, path := range tracked {
		if seen[path] {
			continue
		}
		abs := path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(m.root, abs)
		}
		if _, err := os.Stat(abs); !errors.Is(err, fs.ErrNotExist) {
			// Present but ignored by the walk.
			continue
		}
		res.Checked++
		res.Missing++
		n, err := m.MarkStale(ctx, path, "")
		if err != nil {
			return nil, err
		}
		res.Stale += n
	}

	logger.Info("refresh complete", "checked", res.Checked, "changed", res.Changed,
		"missing", res.Missing, "stale", res.Stale)
	return res, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Reembed recomputes every finding's embedding with the current embedder in
// a single transaction and rebuilds the similarity index.
func (m *Memory) Reembed(ctx context.Context) (int, error) {
	m.ingestMu.Lock()
	defer m.ingestMu.Unlock()

	var findings []*store.Finding
	err := m.store.EachFinding(ctx, func(f *store.Finding) error {
		findings = append(findings, f)
		return nil
	})
	if err != nil {
		return 0, err
	}

	vecs := make([][]float32, len(findings))
	for i, f := range findings {
		if vecs[i], err = m.embedder.Embed(ctx, f.CodeSnippet, f.PatternType); err != nil {
			return 0, fmt.Errorf("embed finding %d: %w", f.ID, err)
		}
	}

	err = m.store.Update(ctx, func(tx *store.Tx) error {
		for i, f := range findings {
			if err := tx.SetEmbedding(ctx, f.ID, vecs[i]); err != nil {
				return err
			}
		}
		return tx.SetMeta(ctx, metaEmbeddingModel, m.embedder.Name())
	})
	if err != nil {
		return 0, err
	}

	for i, f := range findings {
		m.index.Insert(f.ID, vecs[i])
	}
	logger.Info("findings re-embedded", "count", len(findings), "embedder", m.embedder.Name())
	return len(findings), nil
}

// Export writes the whole store to w as zstd-compressed JSON lines.
func (m *Memory) Export(ctx context.Context, w io.Writer) (export.Counts, error) {
	return export.Write(ctx, m.store, w)
}
