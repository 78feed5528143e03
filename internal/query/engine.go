// Package query answers traversal and dependency questions over the relation
// graph. It holds no state of its own: every call loads a fresh arena.
package query

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"patternmem/internal/graph"
	"patternmem/internal/store"
)

// DefaultDepth is the Context traversal depth used by callers that have no
// preference.
const DefaultDepth = 2

// Reader is implemented by *store.Store and *store.Tx.
type Reader interface {
	graph.Source
	GetFinding(ctx context.Context, id int64) (*store.Finding, error)
}

type Engine struct {
	r Reader
}

func New(r Reader) *Engine {
	return &Engine{r: r}
}

func (e *Engine) load(ctx context.Context, types ...store.RelationType) (*graph.Graph, error) {
	return graph.Load(ctx, e.r, graph.LoadOptions{Types: types})
}

// Hop is a finding reached from the Context root.
type Hop struct {
	Finding    *store.Finding     `json:"finding"`
	Depth      int                `json:"depth"`
	Via        int64              `json:"via"`
	Relation   store.RelationType `json:"relation"`
	Confidence float64            `json:"confidence"`
	// Incoming is set when the edge points from the reached finding to Via.
	Incoming bool `json:"incoming"`
}

type ContextResult struct {
	Finding    *store.Finding `json:"finding"`
	Related    []Hop          `json:"related"`
	Dependents []Hop          `json:"dependents"`
}

// Context walks the graph breadth-first from id for up to depth hops,
// following edges in both directions and visiting each finding once.
// Findings that depend on a visited finding are reported as dependents.
func (e *Engine) Context(ctx context.Context, id int64, depth int) (*ContextResult, error) {
	root, err := e.r.GetFinding(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &ContextResult{Finding: root, Related: []Hop{}, Dependents: []Hop{}}
	if depth <= 0 {
		return res, nil
	}

	g, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	start, ok := g.Index(id)
	if !ok {
		// Stale findings are not part of the active graph.
		return res, nil
	}

	visited := map[int]bool{start: true}
	type item struct{ node, depth int }
	queue := []item{{start, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= depth {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		visit := func(edge graph.Edge, incoming bool) error {
			if visited[edge.Peer] {
				return nil
			}
			visited[edge.Peer] = true
			queue = append(queue, item{edge.Peer, cur.depth + 1})

			f, err := e.r.GetFinding(ctx, g.ID(edge.Peer))
			if err != nil {
				return err
			}
			hop := Hop{
				Finding:    f,
				Depth:      cur.depth + 1,
				Via:        g.ID(cur.node),
				Relation:   edge.Type,
				Confidence: edge.Confidence,
				Incoming:   incoming,
			}
			if incoming && edge.Type == store.DependsOn {
				res.Dependents = append(res.Dependents, hop)
			} else {
				res.Related = append(res.Related, hop)
			}
			return nil
		}

		// Dependents first, so a finding that both depends on the current
		// node and shares its file is reported as a dependent.
		for _, edge := range g.In[cur.node] {
			if edge.Type == store.DependsOn {
				if err := visit(edge, true); err != nil {
					return nil, err
				}
			}
		}
		for _, edge := range g.Out[cur.node] {
			if err := visit(edge, false); err != nil {
				return nil, err
			}
		}
		for _, edge := range g.In[cur.node] {
			if err := visit(edge, true); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

// ConnectedComponents groups findings connected by any edge, ignoring
// direction. A non-empty patternType restricts both nodes and edges to
// findings of that type. Findings without edges form singleton components.
// Components are sorted by their smallest id.
func (e *Engine) ConnectedComponents(ctx context.Context, patternType string) ([][]int64, error) {
	g, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	keep := func(i int) bool { return patternType == "" || g.Nodes[i].PatternType == patternType }

	uf := newUnionFind(g.Len())
	for u := range g.Out {
		if !keep(u) {
			continue
		}
		for _, edge := range g.Out[u] {
			if keep(edge.Peer) {
				uf.union(u, edge.Peer)
			}
		}
	}

	groups := map[int][]int64{}
	var roots []int
	for i := range g.Nodes {
		if !keep(i) {
			continue
		}
		r := uf.find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		// Nodes are visited in id order, so members stay sorted.
		groups[r] = append(groups[r], g.ID(i))
	}

	out := make([][]int64, 0, len(roots))
	for _, r := range roots {
		out = append(out, groups[r])
	}
	return out, nil
}

// CriticalPath returns the longest chain of DependsOn edges, starting at a
// finding nothing depends on. Ties are broken toward smaller ids. A cycle in
// the DependsOn subgraph yields a *CyclicDependencyError.
func (e *Engine) CriticalPath(ctx context.Context) ([]int64, error) {
	g, err := e.load(ctx, store.DependsOn)
	if err != nil {
		return nil, err
	}
	n := g.Len()

	indeg := make([]int, n)
	for u := range g.Out {
		for _, edge := range g.Out[u] {
			indeg[edge.Peer]++
		}
	}

	ready := &minHeap{}
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}
	order := make([]int, 0, n)
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		order = append(order, u)
		for _, edge := range g.Out[u] {
			if indeg[edge.Peer]--; indeg[edge.Peer] == 0 {
				heap.Push(ready, edge.Peer)
			}
		}
	}

	if len(order) < n {
		sccs := dependencyCycles(g)
		if len(sccs) == 0 {
			return nil, fmt.Errorf("topological sort stalled without a cycle")
		}
		return nil, &CyclicDependencyError{Cycle: sccs[0]}
	}

	// dist[v] is the number of edges on the longest chain ending at v.
	dist := make([]int, n)
	prev := make([]int, n)
	for i := range prev {
		prev[i] = -1
	}
	for _, u := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, edge := range g.Out[u] {
			v := edge.Peer
			d := dist[u] + 1
			if d > dist[v] || (d == dist[v] && prev[v] >= 0 && u < prev[v]) {
				dist[v] = d
				prev[v] = u
			}
		}
	}

	end := -1
	for i := 0; i < n; i++ {
		if dist[i] > 0 && (end < 0 || dist[i] > dist[end]) {
			end = i
		}
	}
	if end < 0 {
		return []int64{}, nil
	}

	var path []int64
	for v := end; v >= 0; v = prev[v] {
		path = append(path, g.ID(v))
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Cycles lists the strongly connected components of the DependsOn subgraph
// that contain more than one finding. Each cycle is sorted by id and cycles
// are ordered by their smallest id.
func (e *Engine) Cycles(ctx context.Context) ([][]int64, error) {
	g, err := e.load(ctx, store.DependsOn)
	if err != nil {
		return nil, err
	}
	return dependencyCycles(g), nil
}

func dependencyCycles(g *graph.Graph) [][]int64 {
	adj := make([][]int, g.Len())
	for u := range g.Out {
		for _, edge := range g.Out[u] {
			adj[u] = append(adj[u], edge.Peer)
		}
	}

	out := [][]int64{}
	for _, comp := range tarjan(adj) {
		if len(comp) < 2 {
			continue
		}
		ids := make([]int64, len(comp))
		for i, v := range comp {
			ids[i] = g.ID(v)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Orphaned returns findings with no incident edges, in id order.
func (e *Engine) Orphaned(ctx context.Context) ([]int64, error) {
	g, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	out := []int64{}
	for i := range g.Nodes {
		if g.Degree(i) == 0 {
			out = append(out, g.ID(i))
		}
	}
	return out, nil
}

// ShortestPath finds the fewest-hop directed path from one finding to
// another over edges of any type. It returns an empty path when none exists.
func (e *Engine) ShortestPath(ctx context.Context, from, to int64) ([]int64, error) {
	g, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	src, ok1 := g.Index(from)
	dst, ok2 := g.Index(to)
	if !ok1 || !ok2 {
		return []int64{}, nil
	}

	prev := make([]int, g.Len())
	for i := range prev {
		prev[i] = -1
	}
	prev[src] = src
	queue := []int{src}
	for len(queue) > 0 && prev[dst] < 0 {
		u := queue[0]
		queue = queue[1:]
		for _, edge := range g.Out[u] {
			if prev[edge.Peer] < 0 {
				prev[edge.Peer] = u
				queue = append(queue, edge.Peer)
			}
		}
	}
	if prev[dst] < 0 {
		return []int64{}, nil
	}

	var path []int64
	for v := dst; ; v = prev[v] {
		path = append([]int64{g.ID(v)}, path...)
		if v == src {
			break
		}
	}
	return path, nil
}

// Dependencies returns everything id transitively depends on.
func (e *Engine) Dependencies(ctx context.Context, id int64) ([]int64, error) {
	return e.closure(ctx, id, false)
}

// Dependents returns everything that transitively depends on id.
func (e *Engine) Dependents(ctx context.Context, id int64) ([]int64, error) {
	return e.closure(ctx, id, true)
}

func (e *Engine) closure(ctx context.Context, id int64, reverse bool) ([]int64, error) {
	g, err := e.load(ctx, store.DependsOn)
	if err != nil {
		return nil, err
	}
	out := []int64{}
	start, ok := g.Index(id)
	if !ok {
		return out, nil
	}

	adj := g.Out
	if reverse {
		adj = g.In
	}
	seen := map[int]bool{start: true}
	stack := []int{start}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range adj[u] {
			if !seen[edge.Peer] {
				seen[edge.Peer] = true
				stack = append(stack, edge.Peer)
				out = append(out, g.ID(edge.Peer))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type NodeDegree struct {
	ID     int64 `json:"id"`
	Degree int   `json:"degree"`
}

type GraphStats struct {
	Nodes         int                        `json:"nodes"`
	Edges         int                        `json:"edges"`
	EdgesByType   map[store.RelationType]int `json:"edges_by_type"`
	AvgDegree     float64                    `json:"avg_degree"`
	MostConnected []NodeDegree               `json:"most_connected"`
}

// Stats summarises the active graph, listing up to ten of the most connected
// findings.
func (e *Engine) Stats(ctx context.Context) (*GraphStats, error) {
	g, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	st := &GraphStats{
		Nodes:         g.Len(),
		Edges:         g.EdgeCount(),
		EdgesByType:   map[store.RelationType]int{},
		MostConnected: []NodeDegree{},
	}
	for u := range g.Out {
		for _, edge := range g.Out[u] {
			st.EdgesByType[edge.Type]++
		}
	}
	if st.Nodes > 0 {
		st.AvgDegree = float64(2*st.Edges) / float64(st.Nodes)
	}

	var degrees []NodeDegree
	for i := range g.Nodes {
		if d := g.Degree(i); d > 0 {
			degrees = append(degrees, NodeDegree{ID: g.ID(i), Degree: d})
		}
	}
	sort.Slice(degrees, func(i, j int) bool {
		if degrees[i].Degree != degrees[j].Degree {
			return degrees[i].Degree > degrees[j].Degree
		}
		return degrees[i].ID < degrees[j].ID
	})
	if len(degrees) > 10 {
		degrees = degrees[:10]
	}
	st.MostConnected = append(st.MostConnected, degrees...)
	return st, nil
}
