package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"patternmem/internal/config"
	"patternmem/internal/logger"
	"patternmem/internal/memory"
	"patternmem/internal/query"
)

var (
	flagRepo   string
	flagConfig string
	flagDB     string
	flagDebug  bool
)

var rootCmd = &cobra.Command{
	Use:           "patternmem",
	Short:         "Analysis memory for code-pattern findings",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		godotenv.Load()
		if flagDebug {
			logger.SetOutput(os.Stderr, true)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context())
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var cycle *query.CyclicDependencyError
		if errors.As(err, &cycle) {
			fmt.Fprintln(os.Stderr, cycle.Error())
			fmt.Fprintln(os.Stderr, "break one of these DependsOn edges, or run 'patternmem cycles' to list every cycle")
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", "", "repository root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default <repo>/.patternmem/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default <repo>/.patternmem/memory.db)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug logging")
}

func repoRoot() (string, error) {
	root := flagRepo
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = wd
	}
	return filepath.Abs(root)
}

func loadConfig() (string, *config.Config, error) {
	root, err := repoRoot()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(root, flagConfig)
	if err != nil {
		return "", nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	return root, cfg, nil
}

// openMemory opens the repository's memory store for one command.
func openMemory(ctx context.Context) (*memory.Memory, error) {
	root, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return memory.Open(ctx, root, cfg)
}

// withMemory runs fn against an open memory store and prints its result as
// JSON.
func withMemory(fn func(ctx context.Context, m *memory.Memory, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		m, err := openMemory(ctx)
		if err != nil {
			return err
		}
		defer m.Close()

		v, err := fn(ctx, m, args)
		if err != nil {
			return err
		}
		return printJSON(v)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
