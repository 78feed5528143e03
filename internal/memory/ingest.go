package memory

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"lukechampine.com/blake3"

	"patternmem/internal/logger"
	"patternmem/internal/scope"
	"patternmem/internal/similarity"
	"patternmem/internal/store"
)

// FileBatch is the detector output for one analysed file.
type FileBatch struct {
	FilePath string `json:"file"`
	// FileHash is the content hash of the file. When empty it is derived
	// from Source, or from the findings themselves.
	FileHash string `json:"file_hash,omitempty"`
	// Source is the file content, used for hashing and for resolving
	// enclosing functions the detector did not report.
	Source   []byte             `json:"-"`
	Findings []store.RawFinding `json:"findings"`
}

// IngestResult reports what one Ingest call changed.
type IngestResult struct {
	FilePath string `json:"file"`
	// IDs holds the finding id for each input finding, in input order.
	IDs      []int64             `json:"ids"`
	Created  int                 `json:"created"`
	Updated  int                 `json:"updated"`
	Edges    int                 `json:"edges"`
	Stale    int64               `json:"stale"`
	Snapshot *store.FileSnapshot `json:"snapshot"`
}

// prepared is a validated batch with embeddings computed outside the write
// transaction.
type prepared struct {
	path     string
	hash     string
	findings []*store.Finding
}

// Ingest stores a file's findings in a single transaction: prior findings
// are marked stale if the file changed, each finding is upserted with its
// embedding, new findings are autolinked and a snapshot is recorded. On
// error nothing is written.
func (m *Memory) Ingest(ctx context.Context, batch FileBatch) (*IngestResult, error) {
	p, err := m.prepare(ctx, batch)
	if err != nil {
		return nil, err
	}
	return m.commit(ctx, p)
}

func (m *Memory) prepare(ctx context.Context, batch FileBatch) (*prepared, error) {
	if batch.FilePath == "" {
		return nil, fmt.Errorf("%w: batch has no file path", store.ErrInvalidFinding)
	}

	if batch.Source == nil && batch.FileHash == "" {
		batch.Source = m.readSource(batch.FilePath)
	}

	var spans []scope.Span
	if len(batch.Source) > 0 && m.resolver.Supports(batch.FilePath) {
		var err error
		if spans, err = m.resolver.Spans(ctx, batch.FilePath, batch.Source); err != nil {
			logger.Warn("scope resolution failed", "file", batch.FilePath, "error", err)
		}
	}

	p := &prepared{path: batch.FilePath, hash: batch.FileHash}
	for i, raw := range batch.Findings {
		if raw.FilePath == "" {
			raw.FilePath = batch.FilePath
		}
		if raw.FilePath != batch.FilePath {
			return nil, fmt.Errorf("%w: finding %d belongs to %s, not %s", store.ErrInvalidFinding, i, raw.FilePath, batch.FilePath)
		}
		if err := raw.Validate(); err != nil {
			return nil, fmt.Errorf("finding %d: %w", i, err)
		}
		sev, _ := store.ParseSeverity(raw.Severity)

		fn := raw.Function
		if fn == "" && spans != nil {
			fn = scope.Enclosing(spans, raw.LineNumber)
		}

		vec, err := m.embedder.Embed(ctx, raw.CodeSnippet, raw.PatternType)
		if err != nil {
			return nil, fmt.Errorf("embed finding %d: %w", i, err)
		}
		if len(vec) != m.embedder.Dim() {
			return nil, fmt.Errorf("%w: %s produced %d dimensions, want %d",
				store.ErrInvalidEmbeddingLength, m.embedder.Name(), len(vec), m.embedder.Dim())
		}

		p.findings = append(p.findings, &store.Finding{
			RepoStateHash: m.repoState,
			FilePath:      raw.FilePath,
			PatternType:   raw.PatternType,
			LineNumber:    raw.LineNumber,
			FunctionName:  fn,
			CodeSnippet:   raw.CodeSnippet,
			Severity:      sev,
			Embedding:     vec,
		})
	}

	if p.hash == "" {
		p.hash = contentHash(batch)
	}
	for _, f := range p.findings {
		f.FileHash = p.hash
	}
	return p, nil
}

// readSource loads a file relative to the repository root. Missing or
// unreadable files yield nil.
func (m *Memory) readSource(path string) []byte {
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.root, path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return src
}

// contentHash hashes the file source, or the findings when no source was
// supplied.
func contentHash(batch FileBatch) string {
	if len(batch.Source) > 0 {
		sum := blake3.Sum256(batch.Source)
		return hex.EncodeToString(sum[:])
	}
	h := blake3.New(32, nil)
	for _, f := range batch.Findings {
		h.Write([]byte(f.PatternType))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(f.LineNumber)))
		h.Write([]byte{0})
		h.Write([]byte(f.Severity))
		h.Write([]byte{0})
		h.Write([]byte(f.CodeSnippet))
		h.Write([]byte{0})
	}
	return "findings:" + hex.EncodeToString(h.Sum(nil))
}

func (m *Memory) commit(ctx context.Context, p *prepared) (*IngestResult, error) {
	m.ingestMu.Lock()
	defer m.ingestMu.Unlock()

	res := &IngestResult{FilePath: p.path, IDs: make([]int64, len(p.findings))}
	staged := similarity.NewBatch(m.index)

	err := m.store.Update(ctx, func(tx *store.Tx) error {
		n, err := tx.MarkStale(ctx, p.path, p.hash)
		if err != nil {
			return err
		}
		res.Stale = n

		var created []*store.Finding
		for i, f := range p.findings {
			isNew, err := tx.UpsertFinding(ctx, f)
			if err != nil {
				return fmt.Errorf("store %s: %w", f.Key(), err)
			}
			res.IDs[i] = f.ID
			staged.Stage(f.ID, f.Embedding)
			if isNew {
				created = append(created, f)
				res.Created++
			} else {
				res.Updated++
			}
		}

		for _, f := range created {
			n, err := m.linker.Autolink(ctx, tx, f, staged)
			if err != nil {
				return fmt.Errorf("autolink %d: %w", f.ID, err)
			}
			res.Edges += n
		}

		snap, _, err := m.history.RecordSnapshot(ctx, tx, p.path, p.hash, snapshotMembers(p.findings))
		if err != nil {
			return err
		}
		res.Snapshot = snap
		return nil
	})
	if err != nil {
		return nil, err
	}

	staged.Commit()
	logger.Debug("ingested file", "file", p.path, "findings", len(p.findings),
		"created", res.Created, "edges", res.Edges, "stale", res.Stale)
	return res, nil
}

// snapshotMembers keeps the last occurrence of each key, ordered by line.
func snapshotMembers(fs []*store.Finding) []store.Finding {
	byKey := make(map[store.Key]store.Finding, len(fs))
	for _, f := range fs {
		byKey[f.Key()] = *f
	}
	out := make([]store.Finding, 0, len(byKey))
	for _, f := range byKey {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LineNumber != out[j].LineNumber {
			return out[i].LineNumber < out[j].LineNumber
		}
		return out[i].PatternType < out[j].PatternType
	})
	return out
}
