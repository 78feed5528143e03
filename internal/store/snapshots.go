package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const snapshotColumns = "id, file_path, file_hash, total_patterns, critical, high, medium, low, analyzed_at, last_analyzed_at"

func scanSnapshot(sc scanner) (*FileSnapshot, error) {
	var s FileSnapshot
	var analyzed, last int64
	err := sc.Scan(&s.ID, &s.FilePath, &s.FileHash, &s.TotalPatterns,
		&s.Critical, &s.High, &s.Medium, &s.Low, &analyzed, &last)
	if err != nil {
		return nil, err
	}
	s.AnalyzedAt = fromMillis(analyzed)
	s.LastAnalyzedAt = fromMillis(last)
	return &s, nil
}

// InsertSnapshot appends a snapshot and its finding set. If (file, hash) is
// already recorded only its last_analyzed_at is bumped, so a file that
// reverts to earlier content makes that snapshot current again, and the
// existing snapshot is returned with created == false.
func (tx *Tx) InsertSnapshot(ctx context.Context, filePath, fileHash string, members []SnapshotFinding) (*FileSnapshot, bool, error) {
	last, err := tx.nextAnalyzedAt(ctx, filePath)
	if err != nil {
		return nil, false, err
	}
	existing, err := scanSnapshot(tx.tx.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM file_snapshots WHERE file_path = ? AND file_hash = ?",
		filePath, fileHash,
	))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, storageErr("lookup snapshot", err)
	}
	if err == nil {
		_, err = tx.tx.ExecContext(ctx,
			"UPDATE file_snapshots SET last_analyzed_at = ? WHERE id = ?", last, existing.ID)
		if err != nil {
			return nil, false, storageErr("touch snapshot", err)
		}
		existing.LastAnalyzedAt = fromMillis(last)
		return existing, false, nil
	}

	snap := &FileSnapshot{
		FilePath:       filePath,
		FileHash:       fileHash,
		TotalPatterns:  len(members),
		AnalyzedAt:     fromMillis(millis(tx.now)),
		LastAnalyzedAt: fromMillis(last),
	}
	for _, m := range members {
		switch m.Severity {
		case SeverityCritical:
			snap.Critical++
		case SeverityHigh:
			snap.High++
		case SeverityMedium:
			snap.Medium++
		case SeverityLow:
			snap.Low++
		}
	}

	res, err := tx.tx.ExecContext(ctx, `
		INSERT INTO file_snapshots (file_path, file_hash, total_patterns, critical, high, medium, low, analyzed_at, last_analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.FilePath, snap.FileHash, snap.TotalPatterns,
		snap.Critical, snap.High, snap.Medium, snap.Low, millis(tx.now), last,
	)
	if err != nil {
		return nil, false, storageErr("insert snapshot", err)
	}
	if snap.ID, err = res.LastInsertId(); err != nil {
		return nil, false, storageErr("insert snapshot", err)
	}

	for _, m := range members {
		_, err := tx.tx.ExecContext(ctx,
			"INSERT INTO snapshot_findings (snapshot_id, pattern_type, line_number, severity, finding_id) VALUES (?, ?, ?, ?, ?)",
			snap.ID, m.PatternType, m.LineNumber, string(m.Severity), m.FindingID,
		)
		if err != nil {
			return nil, false, storageErr("insert snapshot finding", err)
		}
	}
	return snap, true, nil
}

// nextAnalyzedAt is the transaction time, pushed past the file's newest
// last_analyzed_at so two analyses within one millisecond still order.
func (tx *Tx) nextAnalyzedAt(ctx context.Context, filePath string) (int64, error) {
	var newest sql.NullInt64
	err := tx.tx.QueryRowContext(ctx,
		"SELECT MAX(last_analyzed_at) FROM file_snapshots WHERE file_path = ?", filePath).Scan(&newest)
	if err != nil {
		return 0, storageErr("snapshot clock", err)
	}
	now := millis(tx.now)
	if newest.Valid && newest.Int64 >= now {
		now = newest.Int64 + 1
	}
	return now, nil
}

// GetSnapshot returns the snapshot with id or ErrNotFound.
func (r Reader) GetSnapshot(ctx context.Context, id int64) (*FileSnapshot, error) {
	s, err := scanSnapshot(r.q.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM file_snapshots WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get snapshot", err)
	}
	return s, nil
}

// LatestSnapshot returns the snapshot of a file that was analysed most
// recently, which is the file's current content as far as the store knows.
func (r Reader) LatestSnapshot(ctx context.Context, filePath string) (*FileSnapshot, error) {
	s, err := scanSnapshot(r.q.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM file_snapshots WHERE file_path = ? ORDER BY last_analyzed_at DESC, id DESC LIMIT 1", filePath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot of %s: %w", filePath, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("latest snapshot", err)
	}
	return s, nil
}

// Snapshots lists a file's snapshots oldest first.
func (r Reader) Snapshots(ctx context.Context, filePath string) ([]FileSnapshot, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM file_snapshots WHERE file_path = ? ORDER BY analyzed_at, id", filePath)
	if err != nil {
		return nil, storageErr("snapshots", err)
	}
	defer rows.Close()

	var out []FileSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, storageErr("snapshots", err)
		}
		out = append(out, *s)
	}
	return out, storageErr("snapshots", rows.Err())
}

// SnapshotFindings returns the finding set recorded with a snapshot.
func (r Reader) SnapshotFindings(ctx context.Context, snapshotID int64) ([]SnapshotFinding, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT pattern_type, line_number, severity, finding_id FROM snapshot_findings WHERE snapshot_id = ? ORDER BY line_number, pattern_type",
		snapshotID)
	if err != nil {
		return nil, storageErr("snapshot findings", err)
	}
	defer rows.Close()

	var out []SnapshotFinding
	for rows.Next() {
		var m SnapshotFinding
		var sev string
		if err := rows.Scan(&m.PatternType, &m.LineNumber, &sev, &m.FindingID); err != nil {
			return nil, storageErr("snapshot findings", err)
		}
		m.Severity = Severity(sev)
		out = append(out, m)
	}
	return out, storageErr("snapshot findings", rows.Err())
}

// AllSnapshots lists every snapshot in id order.
func (r Reader) AllSnapshots(ctx context.Context) ([]FileSnapshot, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+snapshotColumns+" FROM file_snapshots ORDER BY id")
	if err != nil {
		return nil, storageErr("all snapshots", err)
	}
	defer rows.Close()

	var out []FileSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, storageErr("all snapshots", err)
		}
		out = append(out, *s)
	}
	return out, storageErr("all snapshots", rows.Err())
}
