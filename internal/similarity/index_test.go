package similarity

import (
	"context"
	"errors"
	"math"
	"testing"
)

func vec(xs ...float32) []float32 { return xs }

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", vec(1, 2, 3), vec(1, 2, 3), 1},
		{"opposite", vec(1, 0), vec(-1, 0), -1},
		{"orthogonal", vec(1, 0), vec(0, 1), 0},
		{"zero vector", vec(0, 0), vec(1, 1), 0},
		{"length mismatch", vec(1, 0), vec(1, 0, 0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSymmetric(t *testing.T) {
	a := vec(0.3, -1.2, 4.5, 0.01)
	b := vec(2.2, 0.7, -0.4, 9.9)
	if Cosine(a, b) != Cosine(b, a) {
		t.Errorf("Cosine not symmetric: %v vs %v", Cosine(a, b), Cosine(b, a))
	}
}

func TestSearchOrderingAndThreshold(t *testing.T) {
	ix := New()
	ix.Insert(3, vec(1, 0))
	ix.Insert(1, vec(1, 0))
	ix.Insert(2, vec(1, 1))
	ix.Insert(4, vec(0, 1))

	got, err := ix.Search(context.Background(), vec(1, 0), 0.5, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	wantIDs := []int64{1, 3, 2}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d matches, want %d: %+v", len(got), len(wantIDs), got)
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("match %d: id %d, want %d", i, got[i].ID, id)
		}
	}
}

func TestSearchThresholdInclusive(t *testing.T) {
	ix := New()
	ix.Insert(1, vec(1, 0))
	got, err := ix.Search(context.Background(), vec(1, 0), 1.0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exact match at threshold 1.0, got %+v", got)
	}
}

func TestSearchEdgeCases(t *testing.T) {
	ctx := context.Background()
	ix := New()

	got, err := ix.Search(ctx, vec(1, 0), 0, 10)
	if err != nil || len(got) != 0 {
		t.Errorf("empty index: got %+v, %v", got, err)
	}

	ix.Insert(1, vec(1, 0))
	got, err = ix.Search(ctx, vec(1, 0), 0, 0)
	if err != nil || got != nil {
		t.Errorf("limit 0: got %+v, %v", got, err)
	}

	ix.Insert(2, vec(0.9, 0.1))
	ix.Insert(3, vec(0.8, 0.2))
	got, _ = ix.Search(ctx, vec(1, 0), -1, 2)
	if len(got) != 2 {
		t.Errorf("limit 2: got %d matches", len(got))
	}
}

func TestInsertReplacesAndRemove(t *testing.T) {
	ix := New()
	ix.Insert(1, vec(1, 0))
	ix.Insert(1, vec(0, 1))
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
	v, ok := ix.Vector(1)
	if !ok || v[1] != 1 {
		t.Errorf("Vector(1) = %v, %v", v, ok)
	}
	ix.Remove(1)
	ix.Remove(42)
	if ix.Len() != 0 {
		t.Errorf("Len after remove = %d", ix.Len())
	}
}

func TestInsertCopiesInput(t *testing.T) {
	ix := New()
	in := vec(1, 0)
	ix.Insert(1, in)
	in[0] = 0
	got, _ := ix.Search(context.Background(), vec(1, 0), 0.99, 1)
	if len(got) != 1 {
		t.Error("index aliased caller's slice")
	}
}

type fakeANN struct {
	ids   []int64
	calls int
	err   error
}

func (f *fakeANN) Nearest(ctx context.Context, query []float32, k int) ([]int64, error) {
	f.calls++
	return f.ids, f.err
}

func TestSearchUsesANNAboveThreshold(t *testing.T) {
	ann := &fakeANN{ids: []int64{2, 99}}
	ix := New(WithANN(ann, 2))
	ix.Insert(1, vec(1, 0))
	ix.Insert(2, vec(1, 0))

	// At the threshold the linear scan is used.
	got, _ := ix.Search(context.Background(), vec(1, 0), 0.5, 10)
	if ann.calls != 0 || len(got) != 2 {
		t.Fatalf("linear scan expected: calls=%d got=%+v", ann.calls, got)
	}

	ix.Insert(3, vec(1, 0))
	got, err := ix.Search(context.Background(), vec(1, 0), 0.5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if ann.calls != 1 {
		t.Errorf("ann calls = %d, want 1", ann.calls)
	}
	// Unknown candidate 99 is dropped, only 2 is re-scored.
	if len(got) != 1 || got[0].ID != 2 || got[0].Similarity < 0.999 {
		t.Errorf("ann result = %+v", got)
	}

	ann.err = errors.New("boom")
	if _, err := ix.Search(context.Background(), vec(1, 0), 0.5, 10); err == nil {
		t.Error("expected ann error to propagate")
	}
}

func TestBatchOverlay(t *testing.T) {
	ctx := context.Background()
	base := New()
	base.Insert(1, vec(1, 0))
	base.Insert(2, vec(0, 1))

	b := NewBatch(base)
	b.Stage(3, vec(1, 0))
	b.Stage(2, vec(1, 0)) // re-embedded: staged vector wins

	got, err := b.Search(ctx, vec(1, 0), 0.9, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != 1 || got[1].ID != 2 || got[2].ID != 3 {
		t.Fatalf("batch search = %+v", got)
	}

	if base.Len() != 2 {
		t.Errorf("base modified before commit: Len=%d", base.Len())
	}
	b.Commit()
	if base.Len() != 3 {
		t.Errorf("base Len after commit = %d, want 3", base.Len())
	}
	v, _ := base.Vector(2)
	if v[0] != 1 {
		t.Errorf("commit did not replace vector 2: %v", v)
	}
}
