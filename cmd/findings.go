package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"patternmem/internal/memory"
	"patternmem/internal/store"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid finding id %q", s)
	}
	return id, nil
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a finding",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return m.Get(ctx, id)
	}),
}

var (
	flagFile     string
	flagType     string
	flagSeverity string
	flagStale    bool
	flagLimit    int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "List findings, newest first",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		f := store.Filter{FilePath: flagFile, PatternType: flagType, IncludeStale: flagStale}
		if flagSeverity != "" {
			sev, err := store.ParseSeverity(flagSeverity)
			if err != nil {
				return nil, err
			}
			f.Severity = sev
		}
		return m.Query(ctx, f, flagLimit)
	}),
}

var (
	flagThreshold float64
	flagSnippet   string
)

var similarCmd = &cobra.Command{
	Use:   "similar [id]",
	Short: "Find findings similar to a finding or to --code",
	Args:  cobra.MaximumNArgs(1),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		threshold := flagThreshold
		if threshold < 0 {
			threshold = m.Config().Similarity.Threshold
		}
		limit := flagLimit
		if limit <= 0 {
			limit = m.Config().Similarity.Limit
		}
		if len(args) == 0 {
			if flagSnippet == "" {
				return nil, fmt.Errorf("give a finding id or --code")
			}
			return m.SimilarToSnippet(ctx, flagSnippet, flagType, threshold, limit)
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return m.Similar(ctx, id, threshold, limit)
	}),
}

var (
	flagTag        string
	flagNote       string
	flagAnnotateID int64
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Attach a note to a finding or file",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		a := &store.Annotation{FilePath: flagFile, Tag: flagTag, Note: flagNote}
		if flagAnnotateID > 0 {
			id := flagAnnotateID
			a.FindingID = &id
		}
		if err := m.Annotate(ctx, a); err != nil {
			return nil, err
		}
		return a, nil
	}),
}

var annotationsCmd = &cobra.Command{
	Use:   "annotations [id]",
	Short: "List notes for a finding, or for --file",
	Args:  cobra.MaximumNArgs(1),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		if len(args) == 0 {
			if flagFile == "" {
				return nil, fmt.Errorf("give a finding id or --file")
			}
			return m.FileAnnotations(ctx, flagFile)
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return m.Annotations(ctx, id)
	}),
}

var flagConfidence float64

var linkCmd = &cobra.Command{
	Use:   "link <source-id> <type> <target-id>",
	Short: "Record a relation between two findings",
	Long:  "Types: DependsOn, ConflictsWith, SameFile, SameFunction, RelatedTo, Precedes, Fixes.",
	Args:  cobra.ExactArgs(3),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		src, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		typ, err := store.ParseRelationType(args[1])
		if err != nil {
			return nil, err
		}
		dst, err := parseID(args[2])
		if err != nil {
			return nil, err
		}
		rel := store.Relation{SourceID: src, TargetID: dst, Type: typ, Confidence: flagConfidence}
		if err := m.AddEdge(ctx, rel); err != nil {
			return nil, err
		}
		return rel, nil
	}),
}

var flagIncoming bool

var edgesCmd = &cobra.Command{
	Use:   "edges <id>",
	Short: "List a finding's relations, highest confidence first",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		if flagIncoming {
			return m.EdgesTo(ctx, id, true)
		}
		return m.EdgesFrom(ctx, id, true)
	}),
}

func init() {
	queryCmd.Flags().StringVar(&flagFile, "file", "", "filter by file path")
	queryCmd.Flags().StringVar(&flagType, "type", "", "filter by pattern type")
	queryCmd.Flags().StringVar(&flagSeverity, "severity", "", "filter by severity")
	queryCmd.Flags().BoolVar(&flagStale, "stale", false, "include stale findings")
	queryCmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum results (default from config)")

	similarCmd.Flags().Float64Var(&flagThreshold, "threshold", -1, "minimum cosine similarity (default from config)")
	similarCmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum results (default from config)")
	similarCmd.Flags().StringVar(&flagSnippet, "code", "", "search by code snippet instead of finding id")
	similarCmd.Flags().StringVar(&flagType, "type", "", "pattern type of --code")

	annotateCmd.Flags().Int64Var(&flagAnnotateID, "id", 0, "finding id")
	annotateCmd.Flags().StringVar(&flagFile, "file", "", "file path")
	annotateCmd.Flags().StringVar(&flagTag, "tag", "", "short label, e.g. false-positive")
	annotateCmd.Flags().StringVar(&flagNote, "note", "", "free-form note")

	annotationsCmd.Flags().StringVar(&flagFile, "file", "", "list notes attached to a file")

	linkCmd.Flags().Float64Var(&flagConfidence, "confidence", 1, "edge confidence in [0,1]")

	edgesCmd.Flags().BoolVar(&flagIncoming, "in", false, "list incoming edges")

	rootCmd.AddCommand(getCmd, queryCmd, similarCmd, annotateCmd, annotationsCmd, linkCmd, edgesCmd)
}
