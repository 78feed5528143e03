package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"patternmem/internal/memory"
)

var (
	flagWorkers  int
	flagProgress bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Store detector findings read from a JSON file or stdin",
	Long: `Reads detector output and records it as one analysis run.

Input is a FileBatch object, an array of FileBatch objects, or a flat array
of findings ({"file","type","line","severity","code"}) grouped by file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) == 0 || args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		batches, err := memory.DecodeBatches(data)
		if err != nil {
			return err
		}

		root, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagWorkers > 0 {
			cfg.Workers = flagWorkers
		}
		ctx := cmd.Context()
		m, err := memory.Open(ctx, root, cfg)
		if err != nil {
			return err
		}
		defer m.Close()

		var progress memory.ProgressFunc
		if flagProgress {
			progress = func(done, total int) {
				fmt.Fprintf(os.Stderr, "\r%d/%d files", done, total)
				if done == total {
					fmt.Fprintln(os.Stderr)
				}
			}
		}
		res, err := m.IngestAll(ctx, batches, progress)
		if res != nil {
			if perr := printJSON(res); perr != nil {
				return perr
			}
		}
		return err
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Mark findings stale for files that changed or were deleted",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, _ []string) (any, error) {
		return m.Refresh(ctx)
	}),
}

var purgeCmd = &cobra.Command{
	Use:   "purge <id>",
	Short: "Permanently delete a finding and its relations",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(ctx context.Context, m *memory.Memory, args []string) (any, error) {
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		edges, err := m.Purge(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"purged": id, "edges_removed": edges}, nil
	}),
}

func init() {
	ingestCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel prepare workers (default from config)")
	ingestCmd.Flags().BoolVar(&flagProgress, "progress", false, "report progress on stderr")
	rootCmd.AddCommand(ingestCmd, refreshCmd, purgeCmd)
}
