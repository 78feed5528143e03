package store

import (
	"context"
	"time"
)

// InsertRun appends an analysis run. The run's CreatedAt is set from the
// transaction clock.
func (tx *Tx) InsertRun(ctx context.Context, run *AnalysisRun) error {
	res, err := tx.tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (run_id, repo_state_hash, files, patterns, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.RepoStateHash, run.Files, run.Patterns, run.Duration.Milliseconds(), millis(tx.now),
	)
	if err != nil {
		return storageErr("insert run", err)
	}
	run.ID, err = res.LastInsertId()
	run.CreatedAt = fromMillis(millis(tx.now))
	return storageErr("insert run", err)
}

// Runs lists analysis runs newest first.
func (r Reader) Runs(ctx context.Context, limit int) ([]AnalysisRun, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, run_id, repo_state_hash, files, patterns, duration_ms, created_at
		FROM analysis_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("runs", err)
	}
	defer rows.Close()

	var out []AnalysisRun
	for rows.Next() {
		var run AnalysisRun
		var durMS, created int64
		if err := rows.Scan(&run.ID, &run.RunID, &run.RepoStateHash, &run.Files, &run.Patterns, &durMS, &created); err != nil {
			return nil, storageErr("runs", err)
		}
		run.Duration = time.Duration(durMS) * time.Millisecond
		run.CreatedAt = fromMillis(created)
		out = append(out, run)
	}
	return out, storageErr("runs", rows.Err())
}
