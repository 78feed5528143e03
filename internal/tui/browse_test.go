package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"patternmem/internal/query"
	"patternmem/internal/store"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in   string
		want store.Filter
	}{
		{"", store.Filter{}},
		{"type:xss", store.Filter{PatternType: "xss"}},
		{"sql-injection sev:High", store.Filter{PatternType: "sql-injection", Severity: store.SeverityHigh}},
		{"f:api/users.py stale", store.Filter{FilePath: "api/users.py", IncludeStale: true}},
	}
	for _, tt := range tests {
		got, err := parseFilter(tt.in)
		if err != nil {
			t.Errorf("parseFilter(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseFilter(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	if _, err := parseFilter("sev:urgent"); !errors.Is(err, store.ErrInvalidFinding) {
		t.Errorf("bad severity: %v", err)
	}
	if _, err := parseFilter("color:red"); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestDetailMarkdown(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	root := &store.Finding{
		ID: 7, PatternType: "sql-injection", Severity: store.SeverityHigh,
		FilePath: "db.go", LineNumber: 12, FunctionName: "load",
		CodeSnippet: "db.Query(q)", FirstDetectedAt: now, DetectedAt: now, Generation: 1,
	}
	peer := &store.Finding{ID: 9, PatternType: "missing-validation", FilePath: "db.go", LineNumber: 10}
	res := &query.ContextResult{
		Finding:    root,
		Related:    []query.Hop{{Finding: peer, Depth: 1, Via: 7, Relation: store.SameFile, Confidence: 1}},
		Dependents: []query.Hop{},
	}
	md := detailMarkdown(res, []store.Annotation{{Tag: "accepted-risk", Note: "internal only"}})

	for _, want := range []string{"# #7 sql-injection", "`db.go:12`", "`load`", "## Related", "**#9**", "## Notes", "accepted-risk"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "## Dependents") {
		t.Error("empty dependents section rendered")
	}
}
