package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-workflow-memory/internal/evaluate"
	"github.com/haricheung/agent-workflow-memory/internal/fsutil"
	"github.com/haricheung/agent-workflow-memory/internal/llm"
	"github.com/haricheung/agent-workflow-memory/internal/memory"
	"github.com/haricheung/agent-workflow-memory/internal/tasklog"
	"github.com/haricheung/agent-workflow-memory/internal/types"
	"github.com/haricheung/agent-workflow-memory/internal/ui"
)

func newEvaluateCommand() *cobra.Command {
	var (
		samplesPath, website, workflowPath, model string
		start, end                                int
		historyWindow                             int
		quiet                                     bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score an agent primed with workflow memory on evaluation samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			samples, err := evaluate.LoadSamples(samplesPath, website)
			if err != nil {
				return err
			}
			samples = window(samples, start, end)

			workflowText, err := readWorkflow(workflowPath)
			if err != nil {
				return err
			}
			var corpus []types.Example
			if _, err := os.Stat(cfg.Retrieval.MemoryPath); err == nil {
				if corpus, err = memory.LoadExemplars(cfg.Retrieval.MemoryPath); err != nil {
					return err
				}
			} else {
				slog.Warn("[EVAL] no exemplar corpus, acting with workflows only", "path", cfg.Retrieval.MemoryPath)
			}

			client, err := newClient("EVAL")
			if err != nil {
				return err
			}
			defer client.Close()

			model = orDefault(model, cfg.Evaluation.Model)
			if cmd.Flags().Changed("history-window") {
				cfg.Evaluation.HistoryWindow = historyWindow
			}
			rng := newRand()
			runner := &evaluate.Runner{
				Generator: client,
				Counter:   llm.Estimator{},
				Options: evaluate.Options{
					Model:         model,
					Temperature:   cfg.Evaluation.Temperature,
					MaxTokens:     cfg.Evaluation.MaxTokens,
					TopKElements:  cfg.Evaluation.TopKElements,
					HistoryWindow: cfg.Evaluation.HistoryWindow,
				},
				Exemplars: func(s types.Sample) []types.Example {
					return memory.Exemplars(workflowText, corpus, s.Tags(), cfg.Evaluation.RetrieveTopK, rng)
				},
				Log: tasklog.NewRegistry(filepath.Join(cfg.Paths.LogDir, model, website)),
			}
			slog.Info("[EVAL] run started", "run_id", runner.Log.RunID(), "samples", len(samples), "model", model, "dir", runner.Log.Dir())

			stopDisplay := func() {}
			if !quiet {
				ch := make(chan evaluate.Progress, 64)
				runner.Progress = ch
				done := make(chan struct{})
				go func() {
					ui.New(ch, os.Stderr).Run(cmd.Context())
					close(done)
				}()
				stopDisplay = func() {
					close(ch)
					<-done
				}
			}

			results, err := runner.Run(cmd.Context(), samples)
			stopDisplay()
			if err != nil {
				return err
			}
			return printScores(evaluate.Aggregate(results), false)
		},
	}
	cmd.Flags().StringVar(&samplesPath, "samples", "", "Evaluation samples JSON file")
	cmd.Flags().StringVar(&website, "website", "", "Only evaluate this website's samples")
	cmd.Flags().StringVar(&workflowPath, "workflow", "", "Workflow memory file placed in every prompt")
	cmd.Flags().StringVar(&model, "model", "", "Acting model")
	cmd.Flags().IntVar(&start, "start", 0, "Index of the first sample")
	cmd.Flags().IntVar(&end, "end", -1, "Index past the last sample (-1 for all)")
	cmd.Flags().IntVar(&historyWindow, "history-window", 0, "Previous steps kept in the prompt (0 keeps all)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Disable the live progress view")
	_ = cmd.MarkFlagRequired("samples")
	return cmd
}

// window returns samples[start:end] clamped to the slice; a negative end
// means the end of the slice.
func window(samples []types.Sample, start, end int) []types.Sample {
	if end < 0 || end > len(samples) {
		end = len(samples)
	}
	start = max(start, 0)
	if start >= end {
		return nil
	}
	return samples[start:end]
}

// readWorkflow returns the workflow memory text. A missing file is created
// empty so later induction runs can append to it.
func readWorkflow(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	text, err := fsutil.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("[EVAL] workflow file missing, starting empty", "path", path)
		return "", fsutil.WriteFile(path, "")
	}
	if err != nil {
		return "", fmt.Errorf("read workflow: %w", err)
	}
	return text, nil
}
