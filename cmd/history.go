package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"patternmem/internal/memory"
)

var evolutionCmd = &cobra.Command{
	Use:   "evolution <file>",
	Short: "Snapshots of a file, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		return m.Evolution(ctx, args[0])
	}),
}

var diffCmd = &cobra.Command{
	Use:   "diff <snapshot-a> <snapshot-b>",
	Short: "Findings new, fixed or re-rated between two snapshots",
	Args:  cobra.ExactArgs(2),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		a, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		b, err := parseID(args[1])
		if err != nil {
			return nil, err
		}
		return m.CompareSnapshots(ctx, a, b)
	}),
}

var flagRuns int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Analysis run log, newest first",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		return m.Runs(ctx, flagRuns)
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summary of the memory store",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		return m.Stats(ctx)
	}),
}

var flagOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the store as zstd-compressed JSON lines",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		if flagOutput == "" {
			return nil, fmt.Errorf("--output is required")
		}
		f, err := os.Create(flagOutput)
		if err != nil {
			return nil, err
		}
		counts, err := m.Export(ctx, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(flagOutput)
			return nil, err
		}
		return map[string]any{"output": flagOutput, "records": counts}, nil
	}),
}

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Recompute every finding's embedding",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		n, err := m.Reembed(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"reembedded": n}, nil
	}),
}

var staleCmd = &cobra.Command{
	Use:   "mark-stale <file> <hash>",
	Short: "Mark a file's findings stale if its hash changed",
	Args:  cobra.ExactArgs(2),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		n, err := m.MarkStale(ctx, args[0], args[1])
		if err != nil {
			return nil, err
		}
		return map[string]any{"file": args[0], "stale": n}, nil
	}),
}

func init() {
	runsCmd.Flags().IntVar(&flagRuns, "limit", 20, "maximum runs")
	exportCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output file (.jsonl.zst)")
	rootCmd.AddCommand(evolutionCmd, diffCmd, runsCmd, statsCmd, exportCmd, reembedCmd, staleCmd)
}
