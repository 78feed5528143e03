// Package graph builds and reads the typed relation graph between findings.
package graph

import (
	"context"
	"fmt"
	"sort"

	"patternmem/internal/logger"
	"patternmem/internal/similarity"
	"patternmem/internal/store"
)

// Scope of a DependsOn rule.
type Scope string

const (
	ScopeFunction Scope = "function"
	ScopeFile     Scope = "file"
)

// Rule says findings of type Source depend on findings of type Target that
// share their scope.
type Rule struct {
	Source string
	Target string
	Scope  Scope
}

const (
	DefaultThreshold = 0.75
	DefaultLimit     = 10
)

// Linker creates edges for newly stored findings.
type Linker struct {
	rules     []Rule
	threshold float64
	limit     int
}

type LinkerOption func(*Linker)

// WithRules sets the DependsOn lookup table.
func WithRules(rules []Rule) LinkerOption {
	return func(l *Linker) { l.rules = rules }
}

// WithSimilarity sets the RelatedTo threshold and the number of matches
// considered per finding.
func WithSimilarity(threshold float64, limit int) LinkerOption {
	return func(l *Linker) {
		l.threshold = threshold
		l.limit = limit
	}
}

func NewLinker(opts ...LinkerOption) *Linker {
	l := &Linker{threshold: DefaultThreshold, limit: DefaultLimit}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Autolink applies SameFile, SameFunction, RelatedTo and DependsOn, in that
// order, to f. Symmetric relations are written as a pair of directed edges.
// It returns the number of edges written.
func (l *Linker) Autolink(ctx context.Context, tx *store.Tx, f *store.Finding, search similarity.Searcher) (int, error) {
	peers, err := tx.FindingsByFile(ctx, f.FilePath, false)
	if err != nil {
		return 0, fmt.Errorf("load peers: %w", err)
	}

	w := &edgeWriter{tx: tx}

	for _, p := range peers {
		if p.ID != f.ID {
			w.pair(ctx, f.ID, p.ID, store.SameFile, 1)
		}
	}

	// Without function boundaries the rule does not apply.
	if f.FunctionName != "" {
		for _, p := range peers {
			if p.ID != f.ID && p.FunctionName == f.FunctionName {
				w.pair(ctx, f.ID, p.ID, store.SameFunction, 1)
			}
		}
	}

	if search != nil && l.limit > 0 {
		if err := l.linkSimilar(ctx, w, f, search); err != nil {
			return w.n, err
		}
	}

	for _, r := range l.rules {
		for _, p := range peers {
			if p.ID == f.ID || !sameScope(r.Scope, f, &p) {
				continue
			}
			if f.PatternType == r.Source && p.PatternType == r.Target {
				w.one(ctx, f.ID, p.ID, store.DependsOn, 1)
			}
			if p.PatternType == r.Source && f.PatternType == r.Target {
				w.one(ctx, p.ID, f.ID, store.DependsOn, 1)
			}
		}
	}

	if w.err != nil {
		return w.n, w.err
	}
	logger.Debug("autolinked finding", "id", f.ID, "edges", w.n)
	return w.n, nil
}

// linkSimilar pairs f with its l.limit nearest active neighbours. Self and
// stale hits take up search slots, so the window doubles until enough active
// matches are found or the search runs dry.
func (l *Linker) linkSimilar(ctx context.Context, w *edgeWriter, f *store.Finding, search similarity.Searcher) error {
	seen := make(map[int64]bool)
	n := 0
	for want := l.limit + 1; ; want *= 2 {
		matches, err := search.Search(ctx, f.Embedding, l.threshold, want)
		if err != nil {
			return fmt.Errorf("similarity search: %w", err)
		}

		ids := make([]int64, 0, len(matches))
		for _, m := range matches {
			if !seen[m.ID] {
				ids = append(ids, m.ID)
			}
		}
		stale, err := w.tx.StaleIDs(ctx, ids)
		if err != nil {
			return err
		}

		for _, m := range matches {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			if m.ID == f.ID || stale[m.ID] {
				continue
			}
			w.pair(ctx, f.ID, m.ID, store.RelatedTo, clamp(m.Similarity))
			if n++; n == l.limit {
				return nil
			}
		}
		if len(matches) < want {
			return nil
		}
	}
}

func sameScope(s Scope, a, b *store.Finding) bool {
	if s == ScopeFile {
		return a.FilePath == b.FilePath
	}
	return a.FunctionName != "" && a.FilePath == b.FilePath && a.FunctionName == b.FunctionName
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// edgeWriter records the first error and counts written edges.
type edgeWriter struct {
	tx  *store.Tx
	n   int
	err error
}

func (w *edgeWriter) one(ctx context.Context, from, to int64, typ store.RelationType, conf float64) {
	if w.err != nil {
		return
	}
	ok, err := w.tx.InsertRelation(ctx, store.Relation{SourceID: from, TargetID: to, Type: typ, Confidence: conf})
	if err != nil {
		w.err = fmt.Errorf("link %d -> %d (%s): %w", from, to, typ, err)
		return
	}
	if ok {
		w.n++
	}
}

func (w *edgeWriter) pair(ctx context.Context, a, b int64, typ store.RelationType, conf float64) {
	w.one(ctx, a, b, typ, conf)
	w.one(ctx, b, a, typ, conf)
}

// AddEdge writes a caller-supplied edge, replacing the confidence of an
// existing edge with the same key.
func AddEdge(ctx context.Context, tx *store.Tx, rel store.Relation) error {
	if rel.SourceID == rel.TargetID {
		return fmt.Errorf("self edge on finding %d", rel.SourceID)
	}
	if rel.Confidence < 0 || rel.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", rel.Confidence)
	}
	if _, err := store.ParseRelationType(string(rel.Type)); err != nil {
		return err
	}
	for _, id := range []int64{rel.SourceID, rel.TargetID} {
		if _, err := tx.GetFinding(ctx, id); err != nil {
			return err
		}
	}
	return tx.PutRelation(ctx, rel)
}

// EdgeReader is implemented by *store.Store and *store.Tx.
type EdgeReader interface {
	RelationsFrom(ctx context.Context, id int64) ([]store.Relation, error)
	RelationsTo(ctx context.Context, id int64) ([]store.Relation, error)
}

// EdgesFrom returns the outgoing edges of id, highest confidence first when
// byConfidence is set. Unknown ids yield an empty list.
func EdgesFrom(ctx context.Context, r EdgeReader, id int64, byConfidence bool) ([]store.Relation, error) {
	edges, err := r.RelationsFrom(ctx, id)
	return orderEdges(edges, byConfidence), err
}

// EdgesTo returns the incoming edges of id.
func EdgesTo(ctx context.Context, r EdgeReader, id int64, byConfidence bool) ([]store.Relation, error) {
	edges, err := r.RelationsTo(ctx, id)
	return orderEdges(edges, byConfidence), err
}

func orderEdges(edges []store.Relation, byConfidence bool) []store.Relation {
	if edges == nil {
		return []store.Relation{}
	}
	if byConfidence {
		sort.SliceStable(edges, func(i, j int) bool {
			return edges[i].Confidence > edges[j].Confidence
		})
	}
	return edges
}

// RemoveNode deletes every edge incident to id.
func RemoveNode(ctx context.Context, tx *store.Tx, id int64) (int64, error) {
	return tx.DeleteRelations(ctx, id)
}
