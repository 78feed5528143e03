// Package history records per-file snapshots and analysis runs and compares
// snapshots over time.
package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"patternmem/internal/store"
)

// Reader is implemented by *store.Store and *store.Tx.
type Reader interface {
	GetSnapshot(ctx context.Context, id int64) (*store.FileSnapshot, error)
	SnapshotFindings(ctx context.Context, snapshotID int64) ([]store.SnapshotFinding, error)
	Snapshots(ctx context.Context, filePath string) ([]store.FileSnapshot, error)
	Runs(ctx context.Context, limit int) ([]store.AnalysisRun, error)
}

type Manager struct {
	r Reader
}

func New(r Reader) *Manager {
	return &Manager{r: r}
}

// RecordSnapshot appends a snapshot of findings for the file at fileHash.
// If that (file, hash) pair is already recorded the existing snapshot is
// returned and created is false.
func (m *Manager) RecordSnapshot(ctx context.Context, tx *store.Tx, filePath, fileHash string, findings []store.Finding) (snap *store.FileSnapshot, created bool, err error) {
	members := make([]store.SnapshotFinding, 0, len(findings))
	for _, f := range findings {
		members = append(members, store.SnapshotFinding{
			PatternType: f.PatternType,
			LineNumber:  f.LineNumber,
			Severity:    f.Severity,
			FindingID:   f.ID,
		})
	}
	snap, created, err = tx.InsertSnapshot(ctx, filePath, fileHash, members)
	if err != nil {
		return nil, false, fmt.Errorf("record snapshot %s: %w", filePath, err)
	}
	return snap, created, nil
}

// RecordRun appends an analysis run, assigning a run id when none is set.
func (m *Manager) RecordRun(ctx context.Context, tx *store.Tx, run *store.AnalysisRun) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if err := tx.InsertRun(ctx, run); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Evolution lists a file's snapshots oldest first.
func (m *Manager) Evolution(ctx context.Context, filePath string) ([]store.FileSnapshot, error) {
	snaps, err := m.r.Snapshots(ctx, filePath)
	if snaps == nil && err == nil {
		snaps = []store.FileSnapshot{}
	}
	return snaps, err
}

// Runs lists analysis runs newest first.
func (m *Manager) Runs(ctx context.Context, limit int) ([]store.AnalysisRun, error) {
	runs, err := m.r.Runs(ctx, limit)
	if runs == nil && err == nil {
		runs = []store.AnalysisRun{}
	}
	return runs, err
}

type Entry struct {
	Key       store.Key      `json:"key"`
	Severity  store.Severity `json:"severity"`
	FindingID int64          `json:"finding_id,omitempty"`
}

// SeverityChange is a finding present in both snapshots at different
// severities. Escalated is set when it got worse.
type SeverityChange struct {
	Key       store.Key      `json:"key"`
	From      store.Severity `json:"from"`
	To        store.Severity `json:"to"`
	Escalated bool           `json:"escalated"`
	FindingID int64          `json:"finding_id,omitempty"`
}

// Diff is the result of comparing snapshot A with snapshot B.
type Diff struct {
	From            int64            `json:"from"`
	To              int64            `json:"to"`
	New             []Entry          `json:"new"`
	Fixed           []Entry          `json:"fixed"`
	ChangedSeverity []SeverityChange `json:"changed_severity"`
}

// CompareSnapshots diffs the finding sets of two snapshots by
// (file, type, line). Fixed findings are in A only, new findings in B only.
func (m *Manager) CompareSnapshots(ctx context.Context, a, b int64) (*Diff, error) {
	setA, err := m.keyed(ctx, a)
	if err != nil {
		return nil, err
	}
	setB, err := m.keyed(ctx, b)
	if err != nil {
		return nil, err
	}

	d := &Diff{From: a, To: b, New: []Entry{}, Fixed: []Entry{}, ChangedSeverity: []SeverityChange{}}
	for k, ea := range setA {
		eb, ok := setB[k]
		switch {
		case !ok:
			d.Fixed = append(d.Fixed, ea)
		case ea.Severity != eb.Severity:
			d.ChangedSeverity = append(d.ChangedSeverity, SeverityChange{
				Key: k, From: ea.Severity, To: eb.Severity,
				Escalated: eb.Severity.Rank() > ea.Severity.Rank(),
				FindingID: eb.FindingID,
			})
		}
	}
	for k, eb := range setB {
		if _, ok := setA[k]; !ok {
			d.New = append(d.New, eb)
		}
	}

	sortEntries(d.New)
	sortEntries(d.Fixed)
	sort.Slice(d.ChangedSeverity, func(i, j int) bool {
		return keyLess(d.ChangedSeverity[i].Key, d.ChangedSeverity[j].Key)
	})
	return d, nil
}

func (m *Manager) keyed(ctx context.Context, id int64) (map[store.Key]Entry, error) {
	snap, err := m.r.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := m.r.SnapshotFindings(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(map[store.Key]Entry, len(members))
	for _, sf := range members {
		k := store.Key{FilePath: snap.FilePath, PatternType: sf.PatternType, LineNumber: sf.LineNumber}
		out[k] = Entry{Key: k, Severity: sf.Severity, FindingID: sf.FindingID}
	}
	return out, nil
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return keyLess(es[i].Key, es[j].Key) })
}

func keyLess(a, b store.Key) bool {
	if a.FilePath != b.FilePath {
		return a.FilePath < b.FilePath
	}
	if a.LineNumber != b.LineNumber {
		return a.LineNumber < b.LineNumber
	}
	return a.PatternType < b.PatternType
}
