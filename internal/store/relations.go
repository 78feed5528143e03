package store

import (
	"context"
	"database/sql"
	"strings"
)

const relationColumns = "source_id, target_id, relation_type, confidence, created_at"

func scanRelations(rows *sql.Rows) ([]Relation, error) {
	defer rows.Close()
	var out []Relation
	for rows.Next() {
		var r Relation
		var typ string
		var created int64
		if err := rows.Scan(&r.SourceID, &r.TargetID, &typ, &r.Confidence, &created); err != nil {
			return nil, err
		}
		r.Type = RelationType(typ)
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertRelation writes rel unless an edge with the same
// (source, target, type) exists. It reports whether a row was written.
func (tx *Tx) InsertRelation(ctx context.Context, rel Relation) (bool, error) {
	res, err := tx.tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO relations ("+relationColumns+") VALUES (?, ?, ?, ?, ?)",
		rel.SourceID, rel.TargetID, string(rel.Type), rel.Confidence, millis(tx.now),
	)
	if err != nil {
		return false, storageErr("insert relation", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PutRelation writes rel, replacing the confidence of an existing edge.
func (tx *Tx) PutRelation(ctx context.Context, rel Relation) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO relations (`+relationColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation_type) DO UPDATE SET confidence = excluded.confidence`,
		rel.SourceID, rel.TargetID, string(rel.Type), rel.Confidence, millis(tx.now),
	)
	return storageErr("put relation", err)
}

// DeleteRelations removes every edge incident to id.
func (tx *Tx) DeleteRelations(ctx context.Context, id int64) (int64, error) {
	res, err := tx.tx.ExecContext(ctx, "DELETE FROM relations WHERE source_id = ? OR target_id = ?", id, id)
	if err != nil {
		return 0, storageErr("delete relations", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RelationsFrom returns the outgoing edges of id.
func (r Reader) RelationsFrom(ctx context.Context, id int64) ([]Relation, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+relationColumns+" FROM relations WHERE source_id = ? ORDER BY target_id, relation_type", id)
	if err != nil {
		return nil, storageErr("relations from", err)
	}
	out, err := scanRelations(rows)
	return out, storageErr("relations from", err)
}

// RelationsTo returns the incoming edges of id.
func (r Reader) RelationsTo(ctx context.Context, id int64) ([]Relation, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+relationColumns+" FROM relations WHERE target_id = ? ORDER BY source_id, relation_type", id)
	if err != nil {
		return nil, storageErr("relations to", err)
	}
	out, err := scanRelations(rows)
	return out, storageErr("relations to", err)
}

// Relations returns all edges, restricted to the given types when any are
// passed.
func (r Reader) Relations(ctx context.Context, types ...RelationType) ([]Relation, error) {
	q := "SELECT " + relationColumns + " FROM relations"
	var args []any
	if len(types) > 0 {
		q += " WHERE relation_type IN (" + strings.TrimSuffix(strings.Repeat("?,", len(types)), ",") + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	q += " ORDER BY source_id, target_id, relation_type"
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("relations", err)
	}
	out, err := scanRelations(rows)
	return out, storageErr("relations", err)
}
