package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current time and advances the clock by one second.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(time.Second)
	return now
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".patternmem", "memory.db")
	s, err := Open(path, WithClock(newFakeClock().Now))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func unitVec(i int) []float32 {
	v := make([]float32, VectorDimensions)
	v[i%VectorDimensions] = 1
	return v
}

func newFinding(path, typ string, line int, sev Severity) *Finding {
	return &Finding{
		FilePath:    path,
		PatternType: typ,
		LineNumber:  line,
		CodeSnippet: "query(" + typ + ")",
		Severity:    sev,
		Embedding:   unitVec(line),
		FileHash:    "h1",
	}
}

func upsert(t *testing.T, s *Store, f *Finding) bool {
	t.Helper()
	var created bool
	err := s.Update(context.Background(), func(tx *Tx) error {
		var err error
		created, err = tx.UpsertFinding(context.Background(), f)
		return err
	})
	if err != nil {
		t.Fatalf("UpsertFinding: %v", err)
	}
	return created
}

func TestOpenCreatesIgnoredDir(t *testing.T) {
	root := t.TempDir()
	s, err := Open(filepath.Join(root, ".patternmem", "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	data, err := os.ReadFile(filepath.Join(root, ".patternmem", ".gitignore"))
	if err != nil {
		t.Fatalf("read .gitignore: %v", err)
	}
	if string(data) != "*\n" {
		t.Errorf(".gitignore = %q", data)
	}

	v, err := s.GetMeta(context.Background(), "schema_version")
	if err != nil || v == "" {
		t.Errorf("schema_version = %q, %v", v, err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	f := newFinding("a.go", "sql_injection", 3, SeverityHigh)
	upsert(t, s, f)
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetFinding(context.Background(), f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FunctionName != "" || got.Generation != 1 {
		t.Errorf("unexpected finding after reopen: %+v", got)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := newFinding("a.go", "sql_injection", 10, SeverityHigh)
	if !upsert(t, s, first) {
		t.Error("first upsert should create")
	}

	again := newFinding("a.go", "sql_injection", 10, SeverityCritical)
	again.CodeSnippet = "db.Query(x)"
	if upsert(t, s, again) {
		t.Error("second upsert should not create")
	}
	if again.ID != first.ID {
		t.Fatalf("ids differ: %d vs %d", again.ID, first.ID)
	}
	if again.Generation != 2 {
		t.Errorf("generation = %d, want 2", again.Generation)
	}

	got, err := s.GetFinding(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.DetectedAt.After(first.DetectedAt) {
		t.Errorf("detected_at not refreshed: %v <= %v", got.DetectedAt, first.DetectedAt)
	}
	if !got.FirstDetectedAt.Equal(first.DetectedAt) {
		t.Errorf("first_detected_at changed: %v", got.FirstDetectedAt)
	}
	if got.Severity != SeverityCritical || got.CodeSnippet != "db.Query(x)" {
		t.Errorf("fields not refreshed: %+v", got)
	}
	if len(got.Embedding) != VectorDimensions {
		t.Errorf("embedding len = %d", len(got.Embedding))
	}

	all, _ := s.QueryFindings(ctx, Filter{IncludeStale: true}, 0)
	if len(all) != 1 {
		t.Errorf("rows = %d, want 1", len(all))
	}
}

func TestUpsertKeepsKnownFunction(t *testing.T) {
	s := setupTestStore(t)
	f := newFinding("a.go", "xss", 4, SeverityLow)
	f.FunctionName = "render"
	upsert(t, s, f)

	again := newFinding("a.go", "xss", 4, SeverityLow)
	upsert(t, s, again)
	if again.FunctionName != "render" {
		t.Errorf("function name = %q, want render", again.FunctionName)
	}
}

func TestUpsertRejectsBadEmbedding(t *testing.T) {
	s := setupTestStore(t)
	f := newFinding("a.go", "xss", 1, SeverityLow)
	f.Embedding = []float32{1, 2, 3}
	err := s.Update(context.Background(), func(tx *Tx) error {
		_, err := tx.UpsertFinding(context.Background(), f)
		return err
	})
	if !errors.Is(err, ErrInvalidEmbeddingLength) {
		t.Fatalf("err = %v, want ErrInvalidEmbeddingLength", err)
	}
}

func TestUpdateRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.UpsertFinding(ctx, newFinding("a.go", "xss", 1, SeverityLow)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	got, _ := s.QueryFindings(ctx, Filter{IncludeStale: true}, 0)
	if len(got) != 0 {
		t.Errorf("rollback left %d findings", len(got))
	}
}

func TestGetFindingNotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetFinding(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueryFindingsFiltersAndOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := newFinding("a.go", "sql_injection", 1, SeverityHigh)
	b := newFinding("a.go", "xss", 2, SeverityLow)
	c := newFinding("b.go", "sql_injection", 3, SeverityHigh)
	for _, f := range []*Finding{a, b, c} {
		upsert(t, s, f)
	}

	got, err := s.QueryFindings(ctx, Filter{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != c.ID || got[2].ID != a.ID {
		t.Errorf("want newest first, got %+v", ids(got))
	}

	got, _ = s.QueryFindings(ctx, Filter{PatternType: "sql_injection"}, 0)
	if len(got) != 2 {
		t.Errorf("by type: %v", ids(got))
	}
	got, _ = s.QueryFindings(ctx, Filter{FilePath: "a.go", Severity: SeverityLow}, 0)
	if len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("by file+severity: %v", ids(got))
	}
	got, _ = s.QueryFindings(ctx, Filter{}, 2)
	if len(got) != 2 {
		t.Errorf("limit: %v", ids(got))
	}
}

func ids(fs []Finding) []int64 {
	out := make([]int64, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

func TestMarkStale(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	f := newFinding("a.go", "xss", 1, SeverityLow)
	err := s.Update(ctx, func(tx *Tx) error {
		// No snapshot yet: nothing to compare against.
		n, err := tx.MarkStale(ctx, "a.go", "h0")
		if err != nil || n != 0 {
			t.Errorf("MarkStale without snapshot = %d, %v", n, err)
		}
		if _, err := tx.UpsertFinding(ctx, f); err != nil {
			return err
		}
		_, _, err = tx.InsertSnapshot(ctx, "a.go", "h1", []SnapshotFinding{{PatternType: "xss", LineNumber: 1, Severity: SeverityLow, FindingID: f.ID}})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	var same, changed int64
	err = s.Update(ctx, func(tx *Tx) error {
		var err error
		if same, err = tx.MarkStale(ctx, "a.go", "h1"); err != nil {
			return err
		}
		changed, err = tx.MarkStale(ctx, "a.go", "h2")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if same != 0 || changed != 1 {
		t.Errorf("same=%d changed=%d, want 0 and 1", same, changed)
	}

	active, _ := s.QueryFindings(ctx, Filter{}, 0)
	if len(active) != 0 {
		t.Errorf("stale finding in default query: %v", ids(active))
	}
	all, _ := s.QueryFindings(ctx, Filter{IncludeStale: true}, 0)
	if len(all) != 1 || !all[0].Stale {
		t.Errorf("IncludeStale query = %+v", all)
	}

	// Re-detection clears the flag.
	upsert(t, s, newFinding("a.go", "xss", 1, SeverityLow))
	active, _ = s.QueryFindings(ctx, Filter{}, 0)
	if len(active) != 1 {
		t.Errorf("re-detected finding still stale")
	}
}

func TestRelationsCascadeOnDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a := newFinding("a.go", "xss", 1, SeverityLow)
	b := newFinding("a.go", "xss", 2, SeverityLow)
	upsert(t, s, a)
	upsert(t, s, b)

	err := s.Update(ctx, func(tx *Tx) error {
		ok, err := tx.InsertRelation(ctx, Relation{SourceID: a.ID, TargetID: b.ID, Type: SameFile, Confidence: 1})
		if err != nil || !ok {
			t.Errorf("InsertRelation = %v, %v", ok, err)
		}
		ok, err = tx.InsertRelation(ctx, Relation{SourceID: a.ID, TargetID: b.ID, Type: SameFile, Confidence: 0.5})
		if err != nil || ok {
			t.Errorf("duplicate InsertRelation = %v, %v", ok, err)
		}
		return tx.PutRelation(ctx, Relation{SourceID: b.ID, TargetID: a.ID, Type: RelatedTo, Confidence: 0.9})
	})
	if err != nil {
		t.Fatal(err)
	}

	from, _ := s.RelationsFrom(ctx, a.ID)
	if len(from) != 1 || from[0].Confidence != 1 {
		t.Errorf("RelationsFrom = %+v", from)
	}

	if err := s.Update(ctx, func(tx *Tx) error { return tx.DeleteFinding(ctx, a.ID) }); err != nil {
		t.Fatal(err)
	}
	all, _ := s.Relations(ctx)
	if len(all) != 0 {
		t.Errorf("dangling relations after delete: %+v", all)
	}
}

func TestSnapshotsAreDeduplicated(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	members := []SnapshotFinding{
		{PatternType: "xss", LineNumber: 1, Severity: SeverityCritical},
		{PatternType: "xss", LineNumber: 2, Severity: SeverityLow},
	}

	var first, second *FileSnapshot
	var created1, created2 bool
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		if first, created1, err = tx.InsertSnapshot(ctx, "a.go", "h1", members); err != nil {
			return err
		}
		second, created2, err = tx.InsertSnapshot(ctx, "a.go", "h1", nil)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created1 || created2 || first.ID != second.ID {
		t.Errorf("dedup failed: %v %v %d %d", created1, created2, first.ID, second.ID)
	}
	if first.Critical != 1 || first.Low != 1 || first.TotalPatterns != 2 {
		t.Errorf("counts = %+v", first)
	}
	got, _ := s.SnapshotFindings(ctx, first.ID)
	if len(got) != 2 {
		t.Errorf("snapshot findings = %+v", got)
	}
}

func TestLatestSnapshotFollowsRevert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	upsert(t, s, newFinding("a.go", "xss", 1, SeverityLow))

	var snapIDs []int64
	for _, hash := range []string{"hA", "hB", "hA"} {
		err := s.Update(ctx, func(tx *Tx) error {
			snap, _, err := tx.InsertSnapshot(ctx, "a.go", hash, nil)
			if err != nil {
				return err
			}
			snapIDs = append(snapIDs, snap.ID)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if snapIDs[0] != snapIDs[2] {
		t.Fatalf("reverted content got a new snapshot: %v", snapIDs)
	}

	latest, err := s.LatestSnapshot(ctx, "a.go")
	if err != nil {
		t.Fatal(err)
	}
	if latest.FileHash != "hA" {
		t.Errorf("latest hash = %s, want hA", latest.FileHash)
	}
	if !latest.LastAnalyzedAt.After(latest.AnalyzedAt) {
		t.Errorf("last analysed %v not after first %v", latest.LastAnalyzedAt, latest.AnalyzedAt)
	}

	var marked int64
	err = s.Update(ctx, func(tx *Tx) error {
		var err error
		marked, err = tx.MarkStale(ctx, "a.go", "hA")
		return err
	})
	if err != nil || marked != 0 {
		t.Errorf("MarkStale on reverted hash = %d, %v", marked, err)
	}
	active, _ := s.QueryFindings(ctx, Filter{}, 0)
	if len(active) != 1 {
		t.Errorf("active findings = %d, want 1", len(active))
	}

	snaps, _ := s.Snapshots(ctx, "a.go")
	if len(snaps) != 2 || snaps[0].ID != snapIDs[0] {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestAnnotations(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertAnnotation(ctx, &Annotation{Tag: "x"})
	})
	if !errors.Is(err, ErrInvalidAnnotationTarget) {
		t.Fatalf("err = %v", err)
	}

	id := int64(42) // no such finding
	err = s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertAnnotation(ctx, &Annotation{FindingID: &id, Tag: "wontfix", Note: "legacy"}); err != nil {
			return err
		}
		return tx.InsertAnnotation(ctx, &Annotation{FilePath: "a.go", Tag: "owner", Note: "team-b"})
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := s.Annotations(ctx, 42)
	if len(got) != 1 || got[0].Tag != "wontfix" || *got[0].FindingID != 42 {
		t.Errorf("Annotations = %+v", got)
	}
	got, _ = s.FileAnnotations(ctx, "a.go")
	if len(got) != 1 || got[0].FindingID != nil {
		t.Errorf("FileAnnotations = %+v", got)
	}
	got, _ = s.Annotations(ctx, 7)
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", got)
	}
}

func TestRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"r1", "r2"} {
		run := &AnalysisRun{RunID: id, Files: i + 1, Patterns: 3, Duration: 1500 * time.Millisecond}
		if err := s.Update(ctx, func(tx *Tx) error { return tx.InsertRun(ctx, run) }); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.Runs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "r2" || runs[1].Duration != 1500*time.Millisecond {
		t.Errorf("Runs = %+v", runs)
	}
}

func TestNearest(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	var a *Finding
	for line := 1; line <= 3; line++ {
		f := newFinding("a.go", "xss", line, SeverityLow)
		upsert(t, s, f)
		if line == 2 {
			a = f
		}
	}

	got, err := s.Nearest(ctx, unitVec(2), 1)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(got) != 1 || got[0] != a.ID {
		t.Errorf("Nearest = %v, want [%d]", got, a.ID)
	}
}

func TestStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	upsert(t, s, newFinding("a.go", "xss", 1, SeverityLow))
	upsert(t, s, newFinding("a.go", "xss", 2, SeverityHigh))
	upsert(t, s, newFinding("b.go", "sql_injection", 1, SeverityHigh))

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Findings != 3 || st.Files != 2 || st.BySeverity[SeverityHigh] != 2 {
		t.Errorf("Stats = %+v", st)
	}
	if len(st.TopPatterns) != 2 || st.TopPatterns[0].PatternType != "xss" {
		t.Errorf("TopPatterns = %+v", st.TopPatterns)
	}
}

func TestParseSeverity(t *testing.T) {
	for in, want := range map[string]Severity{"critical": SeverityCritical, " High ": SeverityHigh, "LOW": SeverityLow} {
		got, err := ParseSeverity(in)
		if err != nil || got != want {
			t.Errorf("ParseSeverity(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseSeverity("urgent"); !errors.Is(err, ErrInvalidFinding) {
		t.Errorf("want ErrInvalidFinding, got %v", err)
	}
}

func TestRawFindingValidate(t *testing.T) {
	ok := RawFinding{FilePath: "a.go", PatternType: "xss", LineNumber: 1, Severity: "low"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid finding rejected: %v", err)
	}
	bad := []RawFinding{
		{PatternType: "xss", LineNumber: 1, Severity: "low"},
		{FilePath: "a.go", LineNumber: 1, Severity: "low"},
		{FilePath: "a.go", PatternType: "xss", Severity: "low"},
		{FilePath: "a.go", PatternType: "xss", LineNumber: 1, Severity: "meh"},
	}
	for i, r := range bad {
		if err := r.Validate(); !errors.Is(err, ErrInvalidFinding) {
			t.Errorf("case %d: err = %v", i, err)
		}
	}
}
