package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-workflow-memory/internal/evaluate"
	"github.com/haricheung/agent-workflow-memory/internal/fsutil"
	"github.com/haricheung/agent-workflow-memory/internal/memory"
	"github.com/haricheung/agent-workflow-memory/internal/types"
	"github.com/haricheung/agent-workflow-memory/internal/workflow"
)

func newRetrieveCommand() *cobra.Command {
	var (
		website, samplesPath, mode string
		workflowDir, suffix        string
		output                     string
		topK                       int
		ablation                   bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Select workflows for a website's acting prompt",
		Long: `retrieve picks workflow blocks from every workflow file under a directory.
Random mode samples top-k blocks; semantic mode ranks them against the tasks of
the website's test samples. With --ablation, whole exemplars are retrieved by
their specifier text instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			mode = orDefault(mode, cfg.Retrieval.Mode)
			if topK <= 0 {
				topK = cfg.Retrieval.TopK
			}
			suffix = orDefault(suffix, cfg.Retrieval.Suffix)

			var queries []string
			if mode == memory.ModeSemantic || ablation {
				samples, err := evaluate.LoadSamples(samplesPath, website)
				if err != nil {
					return err
				}
				for _, s := range samples {
					queries = append(queries, s.ConfirmedTask)
				}
			}

			var text string
			if ablation {
				text, err = retrieveExemplars(cmd, cfg.Retrieval.MemoryPath, cfg.Paths.VectorDB, queries, topK)
			} else {
				text, err = retrieveWorkflows(cmd, mode, orDefault(workflowDir, cfg.Paths.WorkflowDir), suffix, cfg.Paths.VectorDB, queries, topK)
			}
			if err != nil {
				return err
			}

			if output == "" {
				fmt.Println(text)
				return nil
			}
			if err := fsutil.WriteFile(output, text); err != nil {
				return err
			}
			slog.Info("[MEMORY] retrieval written", "path", output, "mode", mode, "ablation", ablation)
			return nil
		},
	}
	cmd.Flags().StringVar(&website, "website", "", "Website whose test tasks form the queries")
	cmd.Flags().StringVar(&samplesPath, "samples", "", "Evaluation samples JSON file")
	cmd.Flags().StringVar(&mode, "mode", "", "Retrieval mode: random or semantic")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of workflows to keep")
	cmd.Flags().StringVar(&workflowDir, "workflow-dir", "", "Directory of workflow files")
	cmd.Flags().StringVar(&suffix, "suffix", "", "Only read *_<suffix>.txt files")
	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write (default: stdout)")
	cmd.Flags().BoolVar(&ablation, "ablation", false, "Retrieve whole exemplars instead of workflows")
	return cmd
}

func retrieveWorkflows(cmd *cobra.Command, mode, dir, suffix, vectorDB string, queries []string, k int) (string, error) {
	pattern := "*.txt"
	if suffix != "" {
		pattern = "*_" + suffix + ".txt"
	}
	paths, err := fsutil.GlobFiles(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("list workflow files: %w", err)
	}
	var blocks []types.WorkflowBlock
	for _, p := range paths {
		bs, err := workflow.LoadFile(p)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, bs...)
	}
	slog.Info("[MEMORY] workflow pool", "files", len(paths), "blocks", len(blocks), "mode", mode)

	var embedder memory.Embedder
	if mode == memory.ModeSemantic {
		e, closeFn, err := newEmbedder(vectorDB)
		if err != nil {
			return "", err
		}
		defer closeFn()
		embedder = e
	}
	picked, err := memory.SelectWorkflows(cmd.Context(), mode, embedder, blocks, queries, k, newRand())
	if err != nil {
		return "", err
	}
	parts := make([]string, len(picked))
	for i, b := range picked {
		parts[i] = b.Content
	}
	return strings.Join(parts, "\n\n"), nil
}

func retrieveExemplars(cmd *cobra.Command, memoryPath, vectorDB string, queries []string, k int) (string, error) {
	corpus, err := memory.LoadExemplars(memoryPath)
	if err != nil {
		return "", err
	}
	embedder, closeFn, err := newEmbedder(vectorDB)
	if err != nil {
		return "", err
	}
	defer closeFn()
	picked, err := memory.SelectExamples(cmd.Context(), embedder, corpus, queries, k)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(picked))
	for i, ex := range picked {
		parts[i] = memory.RenderExample(ex)
	}
	return strings.Join(parts, "\n\n"), nil
}

// newEmbedder opens the vector store and wraps the EMBED tier client with it.
// The returned func releases both.
func newEmbedder(vectorDB string) (memory.Embedder, func(), error) {
	client, err := newClient("EMBED")
	if err != nil {
		return nil, nil, err
	}
	store, err := memory.OpenVectorStore(filepath.Clean(fsutil.ExpandHome(vectorDB)))
	if err != nil {
		return nil, nil, err
	}
	if n, err := store.Count(client.EmbeddingModel()); err == nil {
		slog.Info("[MEMORY] vector cache opened", "path", vectorDB, "model", client.EmbeddingModel(), "cached", n)
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			slog.Warn("[MEMORY] close vector store", "error", err)
		}
		client.Close()
	}
	return memory.NewCachedEmbedder(client, store, client.EmbeddingModel()), closeFn, nil
}
