package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"patternmem/internal/memory"
	"patternmem/internal/query"
)

var flagDepth int

var contextCmd = &cobra.Command{
	Use:   "context <id>",
	Short: "Show a finding with its related findings and dependents",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return m.Context(ctx, id, flagDepth)
	}),
}

var componentsCmd = &cobra.Command{
	Use:   "components",
	Short: "Group findings into connected clusters",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		return m.Components(ctx, flagType)
	}),
}

var criticalPathCmd = &cobra.Command{
	Use:   "critical-path",
	Short: "Longest chain of DependsOn relations",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		return m.CriticalPath(ctx)
	}),
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List DependsOn cycles",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		return m.Cycles(ctx)
	}),
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List findings without relations",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		return m.Orphaned(ctx)
	}),
}

var pathCmd = &cobra.Command{
	Use:   "path <from-id> <to-id>",
	Short: "Shortest directed relation path between two findings",
	Args:  cobra.ExactArgs(2),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		from, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		to, err := parseID(args[1])
		if err != nil {
			return nil, err
		}
		return m.ShortestPath(ctx, from, to)
	}),
}

var flagReverse bool

var depsCmd = &cobra.Command{
	Use:   "deps <id>",
	Short: "Transitive DependsOn closure of a finding",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		if flagReverse {
			return m.Dependents(ctx, id)
		}
		return m.Dependencies(ctx, id)
	}),
}

func init() {
	contextCmd.Flags().IntVar(&flagDepth, "depth", query.DefaultDepth, "traversal depth")
	componentsCmd.Flags().StringVar(&flagType, "type", "", "restrict to one pattern type")
	depsCmd.Flags().BoolVar(&flagReverse, "dependents", false, "list findings that depend on id instead")

	rootCmd.AddCommand(contextCmd, componentsCmd, criticalPathCmd, cyclesCmd, orphansCmd, pathCmd, depsCmd)
}
