package similarity

import "context"

// Batch stages vectors written inside an open transaction. Searches see the
// committed index plus the staged vectors; Commit publishes them once the
// transaction has committed. A discarded Batch leaves the index untouched.
type Batch struct {
	base   *Index
	staged *Index
}

func NewBatch(base *Index) *Batch {
	return &Batch{base: base, staged: New()}
}

func (b *Batch) Stage(id int64, vec []float32) {
	b.staged.Insert(id, vec)
}

func (b *Batch) Search(ctx context.Context, query []float32, threshold float64, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}

	staged, err := b.staged.Search(ctx, query, threshold, limit)
	if err != nil {
		return nil, err
	}
	committed, err := b.base.Search(ctx, query, threshold, limit+b.staged.Len())
	if err != nil {
		return nil, err
	}

	merged := staged
	for _, m := range committed {
		// A staged vector supersedes the committed one for the same id.
		if _, ok := b.staged.Vector(m.ID); ok {
			continue
		}
		merged = append(merged, m)
	}

	sortMatches(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Commit copies the staged vectors into the base index.
func (b *Batch) Commit() {
	b.staged.mu.RLock()
	defer b.staged.mu.RUnlock()
	for id, v := range b.staged.vecs {
		b.base.Insert(id, v)
	}
}
