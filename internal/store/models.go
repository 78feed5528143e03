package store

import (
	"fmt"
	"strings"
	"time"
)

// Severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// ParseSeverity accepts any casing of the four severity names.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return sev, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidFinding, s)
}

// Rank orders severities from Low (1) to Critical (4); unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// RawFinding is one detector result handed to the memory layer.
type RawFinding struct {
	FilePath    string `json:"file"`
	PatternType string `json:"type"`
	LineNumber  int    `json:"line"`
	CodeSnippet string `json:"code"`
	Severity    string `json:"severity"`
	// Function is the enclosing function name, when the detector knows it.
	Function string `json:"function,omitempty"`
}

// Validate rejects records missing any required field.
func (r RawFinding) Validate() error {
	switch {
	case r.FilePath == "":
		return fmt.Errorf("%w: empty file path", ErrInvalidFinding)
	case r.PatternType == "":
		return fmt.Errorf("%w: empty pattern type", ErrInvalidFinding)
	case r.LineNumber < 1:
		return fmt.Errorf("%w: line %d out of range", ErrInvalidFinding, r.LineNumber)
	}
	_, err := ParseSeverity(r.Severity)
	return err
}

// Key identifies a finding within the repository.
type Key struct {
	FilePath    string `json:"file"`
	PatternType string `json:"type"`
	LineNumber  int    `json:"line"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.FilePath, k.LineNumber, k.PatternType)
}

// Finding is a stored pattern instance.
type Finding struct {
	ID              int64     `json:"id"`
	RepoStateHash   string    `json:"repo_state_hash,omitempty"`
	FilePath        string    `json:"file"`
	PatternType     string    `json:"type"`
	LineNumber      int       `json:"line"`
	FunctionName    string    `json:"function,omitempty"`
	CodeSnippet     string    `json:"code"`
	Severity        Severity  `json:"severity"`
	Embedding       []float32 `json:"-"`
	FileHash        string    `json:"file_hash,omitempty"`
	Stale           bool      `json:"stale"`
	Generation      int64     `json:"generation"`
	FirstDetectedAt time.Time `json:"first_detected_at"`
	DetectedAt      time.Time `json:"detected_at"`
}

func (f *Finding) Key() Key {
	return Key{FilePath: f.FilePath, PatternType: f.PatternType, LineNumber: f.LineNumber}
}

// Filter narrows Query results. Empty fields match everything.
type Filter struct {
	FilePath     string
	PatternType  string
	Severity     Severity
	IncludeStale bool
}

// RelationType names the kind of edge between two findings.
type RelationType string

const (
	DependsOn     RelationType = "DependsOn"
	ConflictsWith RelationType = "ConflictsWith"
	SameFile      RelationType = "SameFile"
	SameFunction  RelationType = "SameFunction"
	RelatedTo     RelationType = "RelatedTo"
	Precedes      RelationType = "Precedes"
	Fixes         RelationType = "Fixes"
)

// RelationTypes lists every known relation type.
var RelationTypes = []RelationType{DependsOn, ConflictsWith, SameFile, SameFunction, RelatedTo, Precedes, Fixes}

// ParseRelationType matches case-insensitively against RelationTypes.
func ParseRelationType(s string) (RelationType, error) {
	for _, t := range RelationTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown relation type %q", s)
}

// Relation is a directed, typed edge.
type Relation struct {
	SourceID   int64        `json:"source"`
	TargetID   int64        `json:"target"`
	Type       RelationType `json:"type"`
	Confidence float64      `json:"confidence"`
	CreatedAt  time.Time    `json:"created_at"`
}

// FileSnapshot summarises one file's findings at a content hash.
// LastAnalyzedAt moves forward each time that content is analysed again.
type FileSnapshot struct {
	ID             int64     `json:"id"`
	FilePath       string    `json:"file"`
	FileHash       string    `json:"file_hash"`
	TotalPatterns  int       `json:"total_patterns"`
	Critical       int       `json:"critical"`
	High           int       `json:"high"`
	Medium         int       `json:"medium"`
	Low            int       `json:"low"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
	LastAnalyzedAt time.Time `json:"last_analyzed_at"`
}

// SnapshotFinding is one member of a snapshot's finding set.
type SnapshotFinding struct {
	PatternType string   `json:"type"`
	LineNumber  int      `json:"line"`
	Severity    Severity `json:"severity"`
	FindingID   int64    `json:"finding_id,omitempty"`
}

// AnalysisRun is an audit record for one full-repository pass.
type AnalysisRun struct {
	ID            int64         `json:"id"`
	RunID         string        `json:"run_id"`
	RepoStateHash string        `json:"repo_state_hash"`
	Files         int           `json:"files"`
	Patterns      int           `json:"patterns"`
	Duration      time.Duration `json:"duration"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Annotation is a user note on a finding and/or a file.
type Annotation struct {
	ID        int64     `json:"id"`
	FindingID *int64    `json:"finding_id,omitempty"`
	FilePath  string    `json:"file,omitempty"`
	Tag       string    `json:"tag"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}
