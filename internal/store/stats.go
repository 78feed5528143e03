package store

import "context"

// Stats summarises the contents of the store.
type Stats struct {
	Findings        int                  `json:"findings"`
	ActiveFindings  int                  `json:"active_findings"`
	StaleFindings   int                  `json:"stale_findings"`
	Relations       int                  `json:"relations"`
	RelationsByType map[RelationType]int `json:"relations_by_type"`
	BySeverity      map[Severity]int     `json:"by_severity"`
	TopPatterns     []PatternCount       `json:"top_patterns"`
	Files           int                  `json:"files"`
	Snapshots       int                  `json:"snapshots"`
	Runs            int                  `json:"runs"`
	Annotations     int                  `json:"annotations"`
}

type PatternCount struct {
	PatternType string `json:"type"`
	Count       int    `json:"count"`
}

// Stats counts findings, relations and history rows. Severity and pattern
// breakdowns cover active findings only.
func (r Reader) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		RelationsByType: make(map[RelationType]int),
		BySeverity:      make(map[Severity]int),
		TopPatterns:     []PatternCount{},
	}

	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(stale), 0) FROM findings").Scan(&st.Findings, &st.StaleFindings)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	st.ActiveFindings = st.Findings - st.StaleFindings

	counts := []struct {
		q   string
		dst *int
	}{
		{"SELECT COUNT(*) FROM relations", &st.Relations},
		{"SELECT COUNT(DISTINCT file_path) FROM findings WHERE stale = 0", &st.Files},
		{"SELECT COUNT(*) FROM file_snapshots", &st.Snapshots},
		{"SELECT COUNT(*) FROM analysis_runs", &st.Runs},
		{"SELECT COUNT(*) FROM annotations", &st.Annotations},
	}
	for _, c := range counts {
		if err := r.q.QueryRowContext(ctx, c.q).Scan(c.dst); err != nil {
			return nil, storageErr("stats", err)
		}
	}

	rows, err := r.q.QueryContext(ctx, "SELECT relation_type, COUNT(*) FROM relations GROUP BY relation_type")
	if err != nil {
		return nil, storageErr("stats", err)
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return nil, storageErr("stats", err)
		}
		st.RelationsByType[RelationType(t)] = n
	}
	rows.Close()

	rows, err = r.q.QueryContext(ctx, "SELECT severity, COUNT(*) FROM findings WHERE stale = 0 GROUP BY severity")
	if err != nil {
		return nil, storageErr("stats", err)
	}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return nil, storageErr("stats", err)
		}
		st.BySeverity[Severity(s)] = n
	}
	rows.Close()

	rows, err = r.q.QueryContext(ctx, `
		SELECT pattern_type, COUNT(*) AS n FROM findings WHERE stale = 0
		GROUP BY pattern_type ORDER BY n DESC, pattern_type LIMIT 10`)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pc PatternCount
		if err := rows.Scan(&pc.PatternType, &pc.Count); err != nil {
			return nil, storageErr("stats", err)
		}
		st.TopPatterns = append(st.TopPatterns, pc)
	}
	return st, storageErr("stats", rows.Err())
}
