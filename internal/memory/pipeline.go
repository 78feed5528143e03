package memory

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"patternmem/internal/logger"
	"patternmem/internal/store"
)

// ProgressFunc is called after each file is committed.
type ProgressFunc func(done, total int)

// RunResult summarises one IngestAll pass.
type RunResult struct {
	Run     *store.AnalysisRun `json:"run"`
	Files   []*IngestResult    `json:"files"`
	Failed  int                `json:"failed"`
	Created int                `json:"created"`
	Edges   int                `json:"edges"`
}

type preparedItem struct {
	path string
	p    *prepared
	err  error
}

// IngestAll ingests a full analysis pass. Batches are prepared concurrently
// and committed one file per transaction by a single writer, then an
// AnalysisRun is recorded. A failing file does not stop the pass; the
// failures are joined into the returned error alongside the result.
func (m *Memory) IngestAll(ctx context.Context, batches []FileBatch, onProgress ProgressFunc) (*RunResult, error) {
	start := time.Now()
	workers := m.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// Stage 1: feed batch indexes.
	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := range batches {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 2: validate, resolve scopes and embed (N workers).
	readyCh := make(chan preparedItem, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				p, err := m.prepare(ctx, batches[i])
				readyCh <- preparedItem{path: batches[i].FilePath, p: p, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(readyCh)
	}()

	// Stage 3: commit (1 writer).
	res := &RunResult{Files: []*IngestResult{}}
	var errs []error
	patterns := 0
	done := 0
	for item := range readyCh {
		done++
		if item.err == nil {
			var r *IngestResult
			r, item.err = m.commit(ctx, item.p)
			if item.err == nil {
				res.Files = append(res.Files, r)
				res.Created += r.Created
				res.Edges += r.Edges
				patterns += len(r.IDs)
			}
		}
		if item.err != nil {
			res.Failed++
			logger.Warn("ingest failed", "file", item.path, "error", item.err)
			errs = append(errs, fmt.Errorf("%s: %w", item.path, item.err))
		}
		if onProgress != nil {
			onProgress(done, len(batches))
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	run := &store.AnalysisRun{
		RepoStateHash: m.repoState,
		Files:         len(res.Files),
		Patterns:      patterns,
		Duration:      time.Since(start),
	}
	err := m.store.Update(ctx, func(tx *store.Tx) error {
		return m.history.RecordRun(ctx, tx, run)
	})
	if err != nil {
		logger.Error("could not record analysis run", "error", err)
		errs = append(errs, err)
	} else {
		res.Run = run
	}

	logger.Info("analysis run recorded", "files", run.Files, "patterns", run.Patterns,
		"failed", res.Failed, "duration", run.Duration)
	return res, errors.Join(errs...)
}
