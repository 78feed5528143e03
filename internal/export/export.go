// Package export writes the memory store as zstd-compressed JSON lines.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"patternmem/internal/store"
)

// Record kinds, in the order they are written.
const (
	KindFinding    = "finding"
	KindRelation   = "relation"
	KindSnapshot   = "snapshot"
	KindRun        = "run"
	KindAnnotation = "annotation"
)

// Record is one line of an export.
type Record struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// SnapshotRecord carries a snapshot with its finding set.
type SnapshotRecord struct {
	store.FileSnapshot
	Findings []store.SnapshotFinding `json:"findings"`
}

// Source is implemented by *store.Store.
type Source interface {
	EachFinding(ctx context.Context, fn func(f *store.Finding) error) error
	Relations(ctx context.Context, types ...store.RelationType) ([]store.Relation, error)
	AllSnapshots(ctx context.Context) ([]store.FileSnapshot, error)
	SnapshotFindings(ctx context.Context, snapshotID int64) ([]store.SnapshotFinding, error)
	Runs(ctx context.Context, limit int) ([]store.AnalysisRun, error)
	AllAnnotations(ctx context.Context) ([]store.Annotation, error)
}

// Counts is the number of records written per kind.
type Counts map[string]int

// maxRuns bounds the run history included in an export.
const maxRuns = 100000

// Write streams every finding, relation, snapshot, run and annotation to w.
// Embeddings are omitted: they are derived data.
func Write(ctx context.Context, src Source, w io.Writer) (Counts, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	bw := bufio.NewWriter(enc)
	je := json.NewEncoder(bw)
	counts := Counts{}

	emit := func(kind string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", kind, err)
		}
		counts[kind]++
		return je.Encode(Record{Kind: kind, Data: data})
	}

	err = func() error {
		if err := src.EachFinding(ctx, func(f *store.Finding) error { return emit(KindFinding, f) }); err != nil {
			return err
		}

		rels, err := src.Relations(ctx)
		if err != nil {
			return err
		}
		for _, r := range rels {
			if err := emit(KindRelation, r); err != nil {
				return err
			}
		}

		snaps, err := src.AllSnapshots(ctx)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			members, err := src.SnapshotFindings(ctx, s.ID)
			if err != nil {
				return err
			}
			if members == nil {
				members = []store.SnapshotFinding{}
			}
			if err := emit(KindSnapshot, SnapshotRecord{FileSnapshot: s, Findings: members}); err != nil {
				return err
			}
		}

		runs, err := src.Runs(ctx, maxRuns)
		if err != nil {
			return err
		}
		for i := len(runs) - 1; i >= 0; i-- {
			if err := emit(KindRun, runs[i]); err != nil {
				return err
			}
		}

		notes, err := src.AllAnnotations(ctx)
		if err != nil {
			return err
		}
		for _, a := range notes {
			if err := emit(KindAnnotation, a); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		enc.Close()
		return nil, err
	}

	if err := bw.Flush(); err != nil {
		enc.Close()
		return nil, fmt.Errorf("flush export: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd encoder: %w", err)
	}
	return counts, nil
}

// Read decodes an export produced by Write, calling fn for each record.
func Read(r io.Reader, fn func(Record) error) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	jd := json.NewDecoder(dec)
	for {
		var rec Record
		if err := jd.Decode(&rec); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
