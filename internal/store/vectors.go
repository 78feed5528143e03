package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func encodeVector(v []float32) ([]byte, error) {
	blob, err := sqlite_vec.SerializeFloat32(v)
	if err != nil {
		return nil, fmt.Errorf("serialize embedding: %w", err)
	}
	return blob, nil
}

// decodeVector reverses SerializeFloat32 (little-endian float32s).
func decodeVector(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}

func (tx *Tx) upsertVector(ctx context.Context, id int64, blob []byte) error {
	// vec0 tables do not support upsert.
	if _, err := tx.tx.ExecContext(ctx, "DELETE FROM vec_findings WHERE finding_id = ?", id); err != nil {
		return storageErr("delete vector", err)
	}
	if _, err := tx.tx.ExecContext(ctx, "INSERT INTO vec_findings (finding_id, embedding) VALUES (?, ?)", id, blob); err != nil {
		return storageErr("insert vector", err)
	}
	return nil
}

// Nearest returns the ids of the k vectors closest to query by cosine
// distance, using the sqlite-vec KNN index.
func (r Reader) Nearest(ctx context.Context, query []float32, k int) ([]int64, error) {
	if k <= 0 {
		return nil, nil
	}
	blob, err := encodeVector(query)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT finding_id
		FROM vec_findings
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance`, blob, k)
	if err != nil {
		return nil, storageErr("knn search", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("knn search", err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr("knn search", rows.Err())
}
