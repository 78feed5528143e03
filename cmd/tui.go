package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"patternmem/internal/logger"
	"patternmem/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse findings interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context())
	},
}

func runTUI(ctx context.Context) error {
	m, err := openMemory(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	// The alternate screen owns the terminal.
	logger.SetOutput(io.Discard, false)
	return tui.Run(ctx, m)
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
