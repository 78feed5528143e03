package graph

import (
	"context"
	"fmt"

	"patternmem/internal/store"
)

// Node is a finding in the arena.
type Node struct {
	ID          int64
	FilePath    string
	PatternType string
}

// Edge is an adjacency entry. Peer is the arena index of the other endpoint:
// the target in Out lists and the source in In lists.
type Edge struct {
	Peer       int
	Type       store.RelationType
	Confidence float64
}

// Graph is an index-addressed snapshot of the relation graph. Nodes are kept
// in ascending id order.
type Graph struct {
	Nodes []Node
	Out   [][]Edge
	In    [][]Edge
	index map[int64]int
}

// Source is implemented by *store.Store and *store.Tx.
type Source interface {
	FindingRefs(ctx context.Context, includeStale bool) ([]store.FindingRef, error)
	Relations(ctx context.Context, types ...store.RelationType) ([]store.Relation, error)
}

type LoadOptions struct {
	IncludeStale bool
	// Types restricts the loaded edges; empty loads every type.
	Types []store.RelationType
}

// Load reads findings and relations into a Graph. Edges touching findings
// outside the node set are dropped.
func Load(ctx context.Context, src Source, opt LoadOptions) (*Graph, error) {
	refs, err := src.FindingRefs(ctx, opt.IncludeStale)
	if err != nil {
		return nil, fmt.Errorf("load findings: %w", err)
	}
	rels, err := src.Relations(ctx, opt.Types...)
	if err != nil {
		return nil, fmt.Errorf("load relations: %w", err)
	}

	g := &Graph{
		Nodes: make([]Node, len(refs)),
		Out:   make([][]Edge, len(refs)),
		In:    make([][]Edge, len(refs)),
		index: make(map[int64]int, len(refs)),
	}
	for i, r := range refs {
		g.Nodes[i] = Node{ID: r.ID, FilePath: r.FilePath, PatternType: r.PatternType}
		g.index[r.ID] = i
	}
	for _, r := range rels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, ok1 := g.index[r.SourceID]
		t, ok2 := g.index[r.TargetID]
		if !ok1 || !ok2 {
			continue
		}
		g.Out[s] = append(g.Out[s], Edge{Peer: t, Type: r.Type, Confidence: r.Confidence})
		g.In[t] = append(g.In[t], Edge{Peer: s, Type: r.Type, Confidence: r.Confidence})
	}
	return g, nil
}

// Index returns the arena index of a finding id.
func (g *Graph) Index(id int64) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

func (g *Graph) Len() int { return len(g.Nodes) }

// ID returns the finding id at arena index i.
func (g *Graph) ID(i int) int64 { return g.Nodes[i].ID }

// EdgeCount is the number of directed edges in the arena.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, out := range g.Out {
		n += len(out)
	}
	return n
}

// Degree is the number of incident edges, in and out.
func (g *Graph) Degree(i int) int { return len(g.Out[i]) + len(g.In[i]) }
