package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"patternmem/internal/logger"
)

// DefaultQueryLimit bounds QueryFindings when the caller passes no limit.
const DefaultQueryLimit = 100

const findingColumns = `id, repo_state_hash, file_path, pattern_type, line_number, function_name,
	code_snippet, severity, embedding, file_hash, stale, generation, first_detected_at, detected_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFinding(sc scanner) (*Finding, error) {
	var f Finding
	var blob []byte
	var stale int
	var first, detected int64
	var sev string
	err := sc.Scan(
		&f.ID, &f.RepoStateHash, &f.FilePath, &f.PatternType, &f.LineNumber, &f.FunctionName,
		&f.CodeSnippet, &sev, &blob, &f.FileHash, &stale, &f.Generation, &first, &detected,
	)
	if err != nil {
		return nil, err
	}
	f.Severity = Severity(sev)
	f.Stale = stale != 0
	f.FirstDetectedAt = fromMillis(first)
	f.DetectedAt = fromMillis(detected)
	if len(blob) > 0 {
		f.Embedding = decodeVector(blob)
	}
	return &f, nil
}

func scanFindings(rows *sql.Rows) ([]Finding, error) {
	defer rows.Close()
	var out []Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// UpsertFinding inserts f or refreshes the row with the same
// (file, type, line) key. On return f carries the stored id, generation and
// timestamps. created reports whether a new row was inserted.
func (tx *Tx) UpsertFinding(ctx context.Context, f *Finding) (created bool, err error) {
	if len(f.Embedding) != VectorDimensions {
		return false, fmt.Errorf("%w: got %d, want %d", ErrInvalidEmbeddingLength, len(f.Embedding), VectorDimensions)
	}
	blob, err := encodeVector(f.Embedding)
	if err != nil {
		return false, err
	}

	var existing int64
	err = tx.tx.QueryRowContext(ctx,
		"SELECT id FROM findings WHERE file_path = ? AND pattern_type = ? AND line_number = ?",
		f.FilePath, f.PatternType, f.LineNumber,
	).Scan(&existing)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, storageErr("lookup finding", err)
	}

	now := millis(tx.now)
	var first int64
	err = tx.tx.QueryRowContext(ctx, `
		INSERT INTO findings (repo_state_hash, file_path, pattern_type, line_number, function_name,
			code_snippet, severity, embedding, file_hash, stale, generation, first_detected_at, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1, ?, ?)
		ON CONFLICT(file_path, pattern_type, line_number) DO UPDATE SET
			repo_state_hash = excluded.repo_state_hash,
			function_name = CASE WHEN excluded.function_name <> '' THEN excluded.function_name ELSE findings.function_name END,
			code_snippet = excluded.code_snippet,
			severity = excluded.severity,
			embedding = excluded.embedding,
			file_hash = excluded.file_hash,
			stale = 0,
			generation = findings.generation + 1,
			detected_at = excluded.detected_at
		RETURNING id, generation, first_detected_at, function_name`,
		f.RepoStateHash, f.FilePath, f.PatternType, f.LineNumber, f.FunctionName,
		f.CodeSnippet, string(f.Severity), blob, f.FileHash, now, now,
	).Scan(&f.ID, &f.Generation, &first, &f.FunctionName)
	if err != nil {
		return false, storageErr("upsert finding", err)
	}

	if !found && f.Generation > 1 {
		// Another writer inserted the key between our lookup and the upsert.
		// The upsert already applied last-writer-wins.
		logger.Debug(ErrDuplicateKeyRace.Error(), "key", f.Key().String(), "id", f.ID, "generation", f.Generation)
	}

	f.Stale = false
	f.DetectedAt = fromMillis(now)
	f.FirstDetectedAt = fromMillis(first)
	if first == 0 {
		// Row predates the first_detected_at column.
		f.FirstDetectedAt = f.DetectedAt
	}

	if err := tx.upsertVector(ctx, f.ID, blob); err != nil {
		return false, err
	}
	return !found && f.Generation == 1, nil
}

// SetEmbedding replaces the stored vector of a finding.
func (tx *Tx) SetEmbedding(ctx context.Context, id int64, vec []float32) error {
	if len(vec) != VectorDimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidEmbeddingLength, len(vec), VectorDimensions)
	}
	blob, err := encodeVector(vec)
	if err != nil {
		return err
	}
	res, err := tx.tx.ExecContext(ctx, "UPDATE findings SET embedding = ? WHERE id = ?", blob, id)
	if err != nil {
		return storageErr("set embedding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finding %d: %w", id, ErrNotFound)
	}
	return tx.upsertVector(ctx, id, blob)
}

// DeleteFinding hard-deletes a finding. Incident relations go with it.
func (tx *Tx) DeleteFinding(ctx context.Context, id int64) error {
	if _, err := tx.tx.ExecContext(ctx, "DELETE FROM vec_findings WHERE finding_id = ?", id); err != nil {
		return storageErr("delete vector", err)
	}
	res, err := tx.tx.ExecContext(ctx, "DELETE FROM findings WHERE id = ?", id)
	if err != nil {
		return storageErr("delete finding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finding %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkStale flags the file's findings as stale when currentHash differs from
// the hash of the file's latest snapshot. It returns the number of findings
// newly flagged. Files without a snapshot are left alone.
func (tx *Tx) MarkStale(ctx context.Context, filePath, currentHash string) (int64, error) {
	latest, err := tx.LatestSnapshot(ctx, filePath)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if latest.FileHash == currentHash {
		return 0, nil
	}

	res, err := tx.tx.ExecContext(ctx,
		"UPDATE findings SET stale = 1 WHERE file_path = ? AND stale = 0", filePath)
	if err != nil {
		return 0, storageErr("mark stale", err)
	}
	n, err := res.RowsAffected()
	return n, storageErr("mark stale", err)
}

// GetFinding returns the finding with id or ErrNotFound.
func (r Reader) GetFinding(ctx context.Context, id int64) (*Finding, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+findingColumns+" FROM findings WHERE id = ?", id)
	f, err := scanFinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("finding %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get finding", err)
	}
	return f, nil
}

// QueryFindings returns findings matching the filter, newest first.
func (r Reader) QueryFindings(ctx context.Context, f Filter, limit int) ([]Finding, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var where []string
	var args []any
	if f.FilePath != "" {
		where = append(where, "file_path = ?")
		args = append(args, f.FilePath)
	}
	if f.PatternType != "" {
		where = append(where, "pattern_type = ?")
		args = append(args, f.PatternType)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if !f.IncludeStale {
		where = append(where, "stale = 0")
	}

	q := "SELECT " + findingColumns + " FROM findings"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY detected_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("query findings", err)
	}
	out, err := scanFindings(rows)
	return out, storageErr("query findings", err)
}

// FindingsByFile returns every finding recorded for a file, ordered by line.
func (r Reader) FindingsByFile(ctx context.Context, filePath string, includeStale bool) ([]Finding, error) {
	q := "SELECT " + findingColumns + " FROM findings WHERE file_path = ?"
	if !includeStale {
		q += " AND stale = 0"
	}
	q += " ORDER BY line_number, id"
	rows, err := r.q.QueryContext(ctx, q, filePath)
	if err != nil {
		return nil, storageErr("findings by file", err)
	}
	out, err := scanFindings(rows)
	return out, storageErr("findings by file", err)
}

// FindingRef is the slice of a finding the graph engine needs.
type FindingRef struct {
	ID          int64
	FilePath    string
	PatternType string
	Stale       bool
}

// FindingRefs lists all findings in id order.
func (r Reader) FindingRefs(ctx context.Context, includeStale bool) ([]FindingRef, error) {
	q := "SELECT id, file_path, pattern_type, stale FROM findings"
	if !includeStale {
		q += " WHERE stale = 0"
	}
	q += " ORDER BY id"
	rows, err := r.q.QueryContext(ctx, q)
	if err != nil {
		return nil, storageErr("finding refs", err)
	}
	defer rows.Close()

	var out []FindingRef
	for rows.Next() {
		var ref FindingRef
		var stale int
		if err := rows.Scan(&ref.ID, &ref.FilePath, &ref.PatternType, &stale); err != nil {
			return nil, storageErr("finding refs", err)
		}
		ref.Stale = stale != 0
		out = append(out, ref)
	}
	return out, storageErr("finding refs", rows.Err())
}

// StaleIDs returns the subset of ids that are flagged stale.
func (r Reader) StaleIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool)
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx,
		"SELECT id FROM findings WHERE stale = 1 AND id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, storageErr("stale ids", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("stale ids", err)
		}
		out[id] = true
	}
	return out, storageErr("stale ids", rows.Err())
}

// EachEmbedding calls fn for every stored vector in id order.
func (r Reader) EachEmbedding(ctx context.Context, fn func(id int64, vec []float32) error) error {
	rows, err := r.q.QueryContext(ctx, "SELECT id, embedding FROM findings WHERE embedding IS NOT NULL ORDER BY id")
	if err != nil {
		return storageErr("load embeddings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return storageErr("load embeddings", err)
		}
		if err := fn(id, decodeVector(blob)); err != nil {
			return err
		}
	}
	return storageErr("load embeddings", rows.Err())
}

// TrackedFiles lists every file that has at least one snapshot.
func (r Reader) TrackedFiles(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT DISTINCT file_path FROM file_snapshots ORDER BY file_path")
	if err != nil {
		return nil, storageErr("tracked files", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, storageErr("tracked files", err)
		}
		out = append(out, p)
	}
	return out, storageErr("tracked files", rows.Err())
}

// EachFinding calls fn for every finding, stale ones included, in id order.
func (r Reader) EachFinding(ctx context.Context, fn func(f *Finding) error) error {
	rows, err := r.q.QueryContext(ctx, "SELECT "+findingColumns+" FROM findings ORDER BY id")
	if err != nil {
		return storageErr("each finding", err)
	}
	defer rows.Close()
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return storageErr("each finding", err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return storageErr("each finding", rows.Err())
}
