// Command awm induces workflows from recorded web-agent experience, retrieves
// them into acting prompts, and evaluates agents primed with them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-workflow-memory/internal/config"
	"github.com/haricheung/agent-workflow-memory/internal/fsutil"
	"github.com/haricheung/agent-workflow-memory/internal/llm"
)

var (
	configPath string
	verbose    bool
	seed       uint64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "awm",
		Short: "Agent workflow memory",
		Long: `awm turns successful agent trajectories into reusable workflows, selects
workflows for an acting prompt, and scores agents that act with them.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("AWM_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "Random seed for sampling (0 picks one)")

	rootCmd.AddCommand(newInduceCommand())
	rootCmd.AddCommand(newRetrieveCommand())
	rootCmd.AddCommand(newEvaluateCommand())
	rootCmd.AddCommand(newScoreCommand())

	// Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newRand returns the sampling source for this run. The seed is logged so a
// run can be repeated with --seed.
func newRand() *rand.Rand {
	s := seed
	if s == 0 {
		s = rand.Uint64()
	}
	slog.Info("[AWM] sampling seed", "seed", s)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

// newClient builds the client for one tier and fails fast on missing settings.
func newClient(tier string) (*llm.Client, error) {
	c := llm.NewTier(tier)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// readOptional returns the content of path, or "" when path is empty.
func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return fsutil.ReadFile(fsutil.ExpandHome(path))
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// orDefault returns v unless it is empty.
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
