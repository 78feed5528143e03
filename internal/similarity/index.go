// Package similarity provides nearest-neighbour search over finding
// embeddings using cosine similarity.
package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Match is a search hit.
type Match struct {
	ID         int64   `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Searcher is satisfied by Index and Batch.
type Searcher interface {
	Search(ctx context.Context, query []float32, threshold float64, limit int) ([]Match, error)
}

// ANN is an approximate candidate generator used once the corpus is large.
// Candidates are re-scored exactly by the Index, so the backend only has to
// return ids.
type ANN interface {
	Nearest(ctx context.Context, query []float32, k int) ([]int64, error)
}

// Index is an in-memory vector index. The zero value is not usable; call New.
type Index struct {
	mu           sync.RWMutex
	vecs         map[int64][]float32
	norms        map[int64]float64
	ann          ANN
	annThreshold int
}

// Option configures an Index.
type Option func(*Index)

// WithANN routes searches through ann once the index holds more than
// threshold vectors.
func WithANN(ann ANN, threshold int) Option {
	return func(ix *Index) {
		ix.ann = ann
		ix.annThreshold = threshold
	}
}

func New(opts ...Option) *Index {
	ix := &Index{
		vecs:  make(map[int64][]float32),
		norms: make(map[int64]float64),
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Insert adds or replaces the vector for id. The slice is copied.
func (ix *Index) Insert(id int64, vec []float32) {
	cp := make([]float32, len(vec))
	copy(cp, vec)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.vecs[id] = cp
	ix.norms[id] = norm(cp)
}

// Remove deletes id; unknown ids are ignored.
func (ix *Index) Remove(id int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.vecs, id)
	delete(ix.norms, id)
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vecs)
}

// Vector returns a copy of the stored vector.
func (ix *Index) Vector(id int64) ([]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	v, ok := ix.vecs[id]
	if !ok {
		return nil, false
	}
	cp := make([]float32, len(v))
	copy(cp, v)
	return cp, true
}

// Search returns up to limit entries with similarity >= threshold, ordered
// by similarity descending and then id ascending.
func (ix *Index) Search(ctx context.Context, query []float32, threshold float64, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	qn := norm(query)

	ix.mu.RLock()
	useANN := ix.ann != nil && len(ix.vecs) > ix.annThreshold
	ix.mu.RUnlock()

	var candidates []int64
	if useANN {
		ids, err := ix.ann.Nearest(ctx, query, limit*2+16)
		if err != nil {
			return nil, fmt.Errorf("ann candidates: %w", err)
		}
		candidates = ids
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var matches []Match
	score := func(id int64, v []float32) {
		s := cosine(query, v, qn, ix.norms[id])
		if s >= threshold {
			matches = append(matches, Match{ID: id, Similarity: s})
		}
	}

	if useANN {
		for _, id := range candidates {
			if v, ok := ix.vecs[id]; ok {
				score(id, v)
			}
		}
	} else {
		n := 0
		for id, v := range ix.vecs {
			if n++; n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			score(id, v)
		}
	}

	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosine(a, b, norm(a), norm(b))
}

func cosine(a, b []float32, na, nb float64) float64 {
	if len(a) != len(b) || na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func sortMatches(m []Match) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Similarity != m[j].Similarity {
			return m[i].Similarity > m[j].Similarity
		}
		return m[i].ID < m[j].ID
	})
}
