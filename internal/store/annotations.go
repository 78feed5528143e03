package store

import (
	"context"
	"database/sql"
)

// InsertAnnotation stores a note. The finding id is not checked against the
// findings table: annotations outlive the findings they describe.
func (tx *Tx) InsertAnnotation(ctx context.Context, a *Annotation) error {
	if a.FindingID == nil && a.FilePath == "" {
		return ErrInvalidAnnotationTarget
	}

	var fid sql.NullInt64
	if a.FindingID != nil {
		fid = sql.NullInt64{Int64: *a.FindingID, Valid: true}
	}
	var path sql.NullString
	if a.FilePath != "" {
		path = sql.NullString{String: a.FilePath, Valid: true}
	}

	res, err := tx.tx.ExecContext(ctx,
		"INSERT INTO annotations (finding_id, file_path, tag, note, created_at) VALUES (?, ?, ?, ?, ?)",
		fid, path, a.Tag, a.Note, millis(tx.now),
	)
	if err != nil {
		return storageErr("insert annotation", err)
	}
	a.ID, err = res.LastInsertId()
	a.CreatedAt = fromMillis(millis(tx.now))
	return storageErr("insert annotation", err)
}

// Annotations returns the notes attached to a finding, oldest first.
func (r Reader) Annotations(ctx context.Context, findingID int64) ([]Annotation, error) {
	return r.annotations(ctx, "finding_id = ?", findingID)
}

// FileAnnotations returns the notes attached to a file path, oldest first.
func (r Reader) FileAnnotations(ctx context.Context, filePath string) ([]Annotation, error) {
	return r.annotations(ctx, "file_path = ?", filePath)
}

// AllAnnotations returns every annotation, oldest first.
func (r Reader) AllAnnotations(ctx context.Context) ([]Annotation, error) {
	return r.annotations(ctx, "1 = 1")
}

func (r Reader) annotations(ctx context.Context, where string, args ...any) ([]Annotation, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT id, finding_id, file_path, tag, note, created_at FROM annotations WHERE "+where+" ORDER BY created_at, id",
		args...)
	if err != nil {
		return nil, storageErr("annotations", err)
	}
	defer rows.Close()

	out := []Annotation{}
	for rows.Next() {
		var a Annotation
		var fid sql.NullInt64
		var path sql.NullString
		var created int64
		if err := rows.Scan(&a.ID, &fid, &path, &a.Tag, &a.Note, &created); err != nil {
			return nil, storageErr("annotations", err)
		}
		if fid.Valid {
			id := fid.Int64
			a.FindingID = &id
		}
		a.FilePath = path.String
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	return out, storageErr("annotations", rows.Err())
}
