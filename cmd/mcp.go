package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"patternmem/internal/memory"
	"patternmem/internal/query"
	"patternmem/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing the analysis memory",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	m, err := openMemory(cmd.Context())
	if err != nil {
		return err
	}
	defer m.Close()

	s := mcpserver.NewMCPServer("patternmem", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(queryFindingsTool(), makeQueryHandler(m))
	s.AddTool(findingContextTool(), makeContextHandler(m))
	s.AddTool(similarFindingsTool(), makeSimilarHandler(m))
	s.AddTool(criticalPathTool(), makeCriticalPathHandler(m))
	s.AddTool(fileEvolutionTool(), makeEvolutionHandler(m))
	s.AddTool(memoryStatsTool(), makeStatsHandler(m))
	s.AddTool(annotateTool(), makeAnnotateHandler(m))

	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func queryFindingsTool() mcp.Tool {
	return mcp.NewTool("query_findings",
		mcp.WithDescription("List recorded code-pattern findings, newest first. Stale findings (from files changed since analysis) are excluded unless requested."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("file", mcp.Description("Only findings in this file (path as analysed)")),
		mcp.WithString("type", mcp.Description("Only findings of this pattern type, e.g. sql-injection")),
		mcp.WithString("severity", mcp.Description("Only findings of this severity: critical, high, medium or low")),
		mcp.WithBoolean("include_stale", mcp.Description("Include stale findings")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of findings (default 20)")),
	)
}

func findingContextTool() mcp.Tool {
	return mcp.NewTool("finding_context",
		mcp.WithDescription("Show a finding together with related findings and the findings that depend on it, walking the relation graph breadth-first."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Finding id")),
		mcp.WithNumber("depth", mcp.Description("Traversal depth in hops (default 2)")),
	)
}

func similarFindingsTool() mcp.Tool {
	return mcp.NewTool("similar_findings",
		mcp.WithDescription("Find findings whose code resembles a finding, or a code snippet, by embedding similarity."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithNumber("id", mcp.Description("Finding id to compare against")),
		mcp.WithString("code", mcp.Description("Code snippet to compare against when no id is given")),
		mcp.WithString("type", mcp.Description("Pattern type of the snippet")),
		mcp.WithNumber("threshold", mcp.Description("Minimum cosine similarity in [0,1] (default from config)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of matches (default 10)")),
	)
}

func criticalPathTool() mcp.Tool {
	return mcp.NewTool("critical_path",
		mcp.WithDescription("Longest chain of DependsOn relations between active findings. Reports dependency cycles when the chain is undefined."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func fileEvolutionTool() mcp.Tool {
	return mcp.NewTool("file_evolution",
		mcp.WithDescription("Snapshots of a file's findings over time, oldest first, with severity counts."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("file", mcp.Required(), mcp.Description("File path as analysed")),
	)
}

func memoryStatsTool() mcp.Tool {
	return mcp.NewTool("memory_stats",
		mcp.WithDescription("Totals for findings, relations, snapshots and runs in the analysis memory."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func annotateTool() mcp.Tool {
	return mcp.NewTool("annotate",
		mcp.WithDescription("Attach a note to a finding or a file, e.g. to mark a false positive."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(false),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(false),
			OpenWorldHint:   mcp.ToBoolPtr(false),
		}),
		mcp.WithNumber("id", mcp.Description("Finding id")),
		mcp.WithString("file", mcp.Description("File path")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Short label, e.g. false-positive or accepted-risk")),
		mcp.WithString("note", mcp.Description("Free-form explanation")),
	)
}

// --- Handler factories ---

func makeQueryHandler(m *memory.Memory) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := store.Filter{
			FilePath:     req.GetString("file", ""),
			PatternType:  req.GetString("type", ""),
			IncludeStale: req.GetBool("include_stale", false),
		}
		if s := req.GetString("severity", ""); s != "" {
			sev, err := store.ParseSeverity(s)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			f.Severity = sev
		}
		findings, err := m.Query(ctx, f, req.GetInt("limit", 20))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatFindings(findings)), nil
	}
}

func makeContextHandler(m *memory.Memory) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetInt("id", 0))
		res, err := m.Context(ctx, id, req.GetInt("depth", query.DefaultDepth))
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("finding %d not found. Call query_findings to list ids", id)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("context failed: %v", err)), nil
		}

		var sb strings.Builder
		sb.WriteString(formatFinding(res.Finding))
		writeHops(&sb, "Related", res.Related)
		writeHops(&sb, "Dependents", res.Dependents)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeSimilarHandler(m *memory.Memory) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threshold := req.GetFloat("threshold", m.Config().Similarity.Threshold)
		limit := req.GetInt("limit", m.Config().Similarity.Limit)

		var matches []memory.SimilarFinding
		var err error
		if id := int64(req.GetInt("id", 0)); id > 0 {
			matches, err = m.Similar(ctx, id, threshold, limit)
		} else if code := req.GetString("code", ""); code != "" {
			matches, err = m.SimilarToSnippet(ctx, code, req.GetString("type", ""), threshold, limit)
		} else {
			return mcp.NewToolResultError("either id or code is required"), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("similarity search failed: %v", err)), nil
		}

		if len(matches) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No findings above similarity %.2f.", threshold)), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "## Similar findings (%d)\n\n", len(matches))
		for _, mt := range matches {
			fmt.Fprintf(&sb, "- **#%d** %.3f `%s:%d` %s (%s)\n",
				mt.Finding.ID, mt.Similarity, mt.Finding.FilePath, mt.Finding.LineNumber, mt.Finding.PatternType, mt.Finding.Severity)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeCriticalPathHandler(m *memory.Memory) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := m.CriticalPath(ctx)
		var cycle *query.CyclicDependencyError
		if errors.As(err, &cycle) {
			return mcp.NewToolResultText(cycle.Error() + ". Break one of these DependsOn edges to obtain a critical path."), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("critical path failed: %v", err)), nil
		}
		if len(path) == 0 {
			return mcp.NewToolResultText("No DependsOn relations recorded."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Critical path (%d findings)\n\n", len(path))
		for i, id := range path {
			f, err := m.Get(ctx, id)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("load finding %d: %v", id, err)), nil
			}
			fmt.Fprintf(&sb, "%d. **#%d** `%s:%d` %s (%s)\n", i+1, f.ID, f.FilePath, f.LineNumber, f.PatternType, f.Severity)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeEvolutionHandler(m *memory.Memory) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		file := req.GetString("file", "")
		if file == "" {
			return mcp.NewToolResultError("file is required"), nil
		}
		snaps, err := m.Evolution(ctx, file)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("evolution failed: %v", err)), nil
		}
		if len(snaps) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No snapshots recorded for %s.", file)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## %s (%d snapshots)\n\n", file, len(snaps))
		sb.WriteString("| # | analysed | last seen | total | critical | high | medium | low |\n|---|---|---|---|---|---|---|---|\n")
		for _, s := range snaps {
			fmt.Fprintf(&sb, "| %d | %s | %s | %d | %d | %d | %d | %d |\n",
				s.ID, s.AnalyzedAt.Format("2006-01-02 15:04"), s.LastAnalyzedAt.Format("2006-01-02 15:04"),
				s.TotalPatterns, s.Critical, s.High, s.Medium, s.Low)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeStatsHandler(m *memory.Memory) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := m.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("```json\n" + string(data) + "\n```"), nil
	}
}

func makeAnnotateHandler(m *memory.Memory) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := &store.Annotation{
			FilePath: req.GetString("file", ""),
			Tag:      req.GetString("tag", ""),
			Note:     req.GetString("note", ""),
		}
		if a.Tag == "" {
			return mcp.NewToolResultError("tag is required"), nil
		}
		if id := int64(req.GetInt("id", 0)); id > 0 {
			a.FindingID = &id
		}
		if err := m.Annotate(ctx, a); err != nil {
			if errors.Is(err, store.ErrInvalidAnnotationTarget) {
				return mcp.NewToolResultError("give a finding id, a file, or both"), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("annotate failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Annotation %d recorded.", a.ID)), nil
	}
}

// --- Formatting helpers ---

func formatFindings(fs []store.Finding) string {
	if len(fs) == 0 {
		return "No findings match."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Findings (%d)\n\n", len(fs))
	for i := range fs {
		sb.WriteString(formatFinding(&fs[i]))
	}
	return sb.String()
}

func formatFinding(f *store.Finding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### #%d %s (%s)\n\n", f.ID, f.PatternType, f.Severity)
	fmt.Fprintf(&sb, "**File:** `%s:%d`  \n", f.FilePath, f.LineNumber)
	if f.FunctionName != "" {
		fmt.Fprintf(&sb, "**Function:** %s  \n", f.FunctionName)
	}
	if f.Stale {
		sb.WriteString("**Stale:** file changed since detection  \n")
	}
	fmt.Fprintf(&sb, "**Detected:** %s\n\n```\n%s\n```\n\n", f.DetectedAt.Format("2006-01-02 15:04"), f.CodeSnippet)
	return sb.String()
}

func writeHops(sb *strings.Builder, title string, hops []query.Hop) {
	if len(hops) == 0 {
		return
	}
	fmt.Fprintf(sb, "#### %s (%d)\n\n", title, len(hops))
	for _, h := range hops {
		dir := "->"
		if h.Incoming {
			dir = "<-"
		}
		fmt.Fprintf(sb, "- **#%d** %s `%s:%d` depth %d, %s %s #%d (%.2f)\n",
			h.Finding.ID, h.Finding.PatternType, h.Finding.FilePath, h.Finding.LineNumber,
			h.Depth, h.Relation, dir, h.Via, h.Confidence)
	}
	sb.WriteString("\n")
}
