package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"patternmem/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func finding(typ string, line int, sev store.Severity) store.Finding {
	return store.Finding{FilePath: "app.py", PatternType: typ, LineNumber: line, Severity: sev}
}

func record(t *testing.T, s *store.Store, m *Manager, hash string, fs ...store.Finding) *store.FileSnapshot {
	t.Helper()
	var snap *store.FileSnapshot
	err := s.Update(context.Background(), func(tx *store.Tx) error {
		var err error
		snap, _, err = m.RecordSnapshot(context.Background(), tx, "app.py", hash, fs)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestCompareSnapshots(t *testing.T) {
	s := setupTestStore(t)
	m := New(s)

	x := finding("hardcoded_secrets", 3, store.SeverityCritical)
	y := finding("sql_injection", 10, store.SeverityMedium)
	y2 := finding("sql_injection", 10, store.SeverityLow)
	z := finding("command_injection", 20, store.SeverityCritical)

	s1 := record(t, s, m, "h1", x, y)
	s2 := record(t, s, m, "h2", y2, z)

	d, err := m.CompareSnapshots(context.Background(), s1.ID, s2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.New) != 1 || d.New[0].Key != z.Key() {
		t.Errorf("new = %+v", d.New)
	}
	if len(d.Fixed) != 1 || d.Fixed[0].Key != x.Key() {
		t.Errorf("fixed = %+v", d.Fixed)
	}
	if len(d.ChangedSeverity) != 1 {
		t.Fatalf("changed = %+v", d.ChangedSeverity)
	}
	c := d.ChangedSeverity[0]
	if c.Key != y.Key() || c.From != store.SeverityMedium || c.To != store.SeverityLow || c.Escalated {
		t.Errorf("changed = %+v", c)
	}

	back, err := m.CompareSnapshots(context.Background(), s2.ID, s1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.ChangedSeverity) != 1 || !back.ChangedSeverity[0].Escalated {
		t.Errorf("reverse changed = %+v", back.ChangedSeverity)
	}
}

func TestCompareUnknownSnapshot(t *testing.T) {
	s := setupTestStore(t)
	m := New(s)
	_, err := m.CompareSnapshots(context.Background(), 1, 2)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestRecordSnapshotIsNoOpForSameHash(t *testing.T) {
	s := setupTestStore(t)
	m := New(s)
	a := record(t, s, m, "h1", finding("xss", 1, store.SeverityLow))
	b := record(t, s, m, "h1")
	if a.ID != b.ID || b.TotalPatterns != 1 {
		t.Errorf("second record = %+v, want existing %+v", b, a)
	}

	record(t, s, m, "h2")
	evo, err := m.Evolution(context.Background(), "app.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(evo) != 2 || evo[0].FileHash != "h1" || evo[1].FileHash != "h2" {
		t.Errorf("evolution = %+v", evo)
	}

	none, _ := m.Evolution(context.Background(), "missing.py")
	if none == nil || len(none) != 0 {
		t.Errorf("want empty evolution, got %#v", none)
	}
}

func TestRecordRunAssignsID(t *testing.T) {
	s := setupTestStore(t)
	m := New(s)
	run := &store.AnalysisRun{RepoStateHash: "abc", Files: 2, Patterns: 5, Duration: time.Second}
	err := s.Update(context.Background(), func(tx *store.Tx) error {
		return m.RecordRun(context.Background(), tx, run)
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.RunID == "" || run.ID == 0 {
		t.Errorf("run = %+v", run)
	}
	runs, _ := m.Runs(context.Background(), 0)
	if len(runs) != 1 || runs[0].RunID != run.RunID {
		t.Errorf("runs = %+v", runs)
	}
}
