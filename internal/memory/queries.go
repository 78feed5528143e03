package memory

import (
	"context"
	"fmt"

	"patternmem/internal/graph"
	"patternmem/internal/history"
	"patternmem/internal/query"
	"patternmem/internal/similarity"
	"patternmem/internal/store"
)

// Get returns the finding with id or store.ErrNotFound.
func (m *Memory) Get(ctx context.Context, id int64) (*store.Finding, error) {
	return m.store.GetFinding(ctx, id)
}

// Query lists findings matching f, newest first. A non-positive limit uses
// the configured default; limits above the configured maximum are capped.
func (m *Memory) Query(ctx context.Context, f store.Filter, limit int) ([]store.Finding, error) {
	if limit <= 0 {
		limit = m.cfg.Query.DefaultLimit
	}
	if m.cfg.Query.MaxLimit > 0 && limit > m.cfg.Query.MaxLimit {
		limit = m.cfg.Query.MaxLimit
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	out, err := m.store.QueryFindings(ctx, f, limit)
	if out == nil && err == nil {
		out = []store.Finding{}
	}
	return out, err
}

// SimilarFinding is a search hit with its finding loaded.
type SimilarFinding struct {
	Finding    *store.Finding `json:"finding"`
	Similarity float64        `json:"similarity"`
}

// Search queries the similarity index directly.
func (m *Memory) Search(ctx context.Context, vec []float32, threshold float64, limit int) ([]similarity.Match, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.index.Search(ctx, vec, threshold, limit)
}

// Similar finds active findings resembling finding id, excluding itself.
func (m *Memory) Similar(ctx context.Context, id int64, threshold float64, limit int) ([]SimilarFinding, error) {
	vec, ok := m.index.Vector(id)
	if !ok {
		if _, err := m.store.GetFinding(ctx, id); err != nil {
			return nil, err
		}
		return []SimilarFinding{}, nil
	}
	return m.similar(ctx, vec, id, threshold, limit)
}

// SimilarToSnippet embeds a snippet and finds active findings resembling it.
func (m *Memory) SimilarToSnippet(ctx context.Context, snippet, patternType string, threshold float64, limit int) ([]SimilarFinding, error) {
	vec, err := m.embedder.Embed(ctx, snippet, patternType)
	if err != nil {
		return nil, fmt.Errorf("embed snippet: %w", err)
	}
	return m.similar(ctx, vec, 0, threshold, limit)
}

func (m *Memory) similar(ctx context.Context, vec []float32, self int64, threshold float64, limit int) ([]SimilarFinding, error) {
	out := []SimilarFinding{}
	if limit <= 0 {
		return out, nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	// Self and stale hits use up slots; widen the window until limit active
	// matches are found or the index has nothing more above threshold.
	seen := make(map[int64]bool)
	for want := limit*2 + 1; ; want *= 2 {
		matches, err := m.index.Search(ctx, vec, threshold, want)
		if err != nil {
			return nil, err
		}
		for _, mt := range matches {
			if seen[mt.ID] {
				continue
			}
			seen[mt.ID] = true
			if mt.ID == self {
				continue
			}
			f, err := m.store.GetFinding(ctx, mt.ID)
			if err != nil {
				return nil, err
			}
			if f.Stale {
				continue
			}
			out = append(out, SimilarFinding{Finding: f, Similarity: mt.Similarity})
			if len(out) == limit {
				return out, nil
			}
		}
		if len(matches) < want {
			return out, nil
		}
	}
}

// MarkStale flags the active findings of a file stale if currentHash differs
// from the file's most recently analysed snapshot.
func (m *Memory) MarkStale(ctx context.Context, filePath, currentHash string) (int64, error) {
	var n int64
	err := m.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.MarkStale(ctx, filePath, currentHash)
		return err
	})
	return n, err
}

// Annotate attaches a note to a finding, a file, or both.
func (m *Memory) Annotate(ctx context.Context, a *store.Annotation) error {
	if a.FindingID == nil && a.FilePath == "" {
		return store.ErrInvalidAnnotationTarget
	}
	return m.store.Update(ctx, func(tx *store.Tx) error {
		return tx.InsertAnnotation(ctx, a)
	})
}

func (m *Memory) Annotations(ctx context.Context, findingID int64) ([]store.Annotation, error) {
	return m.store.Annotations(ctx, findingID)
}

func (m *Memory) FileAnnotations(ctx context.Context, filePath string) ([]store.Annotation, error) {
	return m.store.FileAnnotations(ctx, filePath)
}

// AddEdge records a caller-supplied relation such as ConflictsWith, Fixes
// or Precedes.
func (m *Memory) AddEdge(ctx context.Context, rel store.Relation) error {
	return m.store.Update(ctx, func(tx *store.Tx) error {
		return graph.AddEdge(ctx, tx, rel)
	})
}

func (m *Memory) EdgesFrom(ctx context.Context, id int64, byConfidence bool) ([]store.Relation, error) {
	return graph.EdgesFrom(ctx, m.store, id, byConfidence)
}

func (m *Memory) EdgesTo(ctx context.Context, id int64, byConfidence bool) ([]store.Relation, error) {
	return graph.EdgesTo(ctx, m.store, id, byConfidence)
}

func (m *Memory) Context(ctx context.Context, id int64, depth int) (*query.ContextResult, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.query.Context(ctx, id, depth)
}

func (m *Memory) Components(ctx context.Context, patternType string) ([][]int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.query.ConnectedComponents(ctx, patternType)
}

// CriticalPath returns the longest DependsOn chain. A cycle yields a
// *query.CyclicDependencyError.
func (m *Memory) CriticalPath(ctx context.Context) ([]int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.query.CriticalPath(ctx)
}

func (m *Memory) Cycles(ctx context.Context) ([][]int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.query.Cycles(ctx)
}

func (m *Memory) Orphaned(ctx context.Context) ([]int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.query.Orphaned(ctx)
}

func (m *Memory) ShortestPath(ctx context.Context, from, to int64) ([]int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.query.ShortestPath(ctx, from, to)
}

func (m *Memory) Dependencies(ctx context.Context, id int64) ([]int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.query.Dependencies(ctx, id)
}

func (m *Memory) Dependents(ctx context.Context, id int64) ([]int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.query.Dependents(ctx, id)
}

func (m *Memory) Evolution(ctx context.Context, filePath string) ([]store.FileSnapshot, error) {
	return m.history.Evolution(ctx, filePath)
}

func (m *Memory) CompareSnapshots(ctx context.Context, a, b int64) (*history.Diff, error) {
	return m.history.CompareSnapshots(ctx, a, b)
}

func (m *Memory) Runs(ctx context.Context, limit int) ([]store.AnalysisRun, error) {
	return m.history.Runs(ctx, limit)
}

// Stats combines store counts with graph and index figures.
type Stats struct {
	*store.Stats
	Graph        *query.GraphStats `json:"graph"`
	Embedder     string            `json:"embedder"`
	IndexedVecs  int               `json:"indexed_vectors"`
	RepoState    string            `json:"repo_state,omitempty"`
	DatabasePath string            `json:"database"`
}

func (m *Memory) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	st, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	gs, err := m.query.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Stats:        st,
		Graph:        gs,
		Embedder:     m.embedder.Name(),
		IndexedVecs:  m.index.Len(),
		RepoState:    m.repoState,
		DatabasePath: m.store.Path(),
	}, nil
}
