package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-workflow-memory/internal/evaluate"
	"github.com/haricheung/agent-workflow-memory/internal/induce"
	"github.com/haricheung/agent-workflow-memory/internal/review"
	"github.com/haricheung/agent-workflow-memory/internal/types"
	"github.com/haricheung/agent-workflow-memory/internal/workflow"
)

func newInduceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "induce",
		Short: "Induce workflows from agent experience",
	}
	cmd.AddCommand(newInduceRuleCommand())
	cmd.AddCommand(newInduceNeuralCommand())
	cmd.AddCommand(newInduceOfflineCommand())
	cmd.AddCommand(newInduceOnlineCommand())
	return cmd
}

// collectFlags are shared by the rule and neural subcommands.
type collectFlags struct {
	results  []string
	output   string
	criteria string
	model    string
}

func (f *collectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.results, "results", nil, "Result directories to collect (default: paths.results_dir)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Workflow file to write (default: workflow/<site>.txt)")
	cmd.Flags().StringVar(&f.criteria, "criteria", "", "Success criteria: gt or autoeval")
	cmd.Flags().StringVar(&f.model, "model", "", "Model name of the autoeval records")
}

func (f *collectFlags) collect() (*induce.Collection, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dirs := f.results
	if len(dirs) == 0 {
		dirs = []string{cfg.Paths.ResultsDir}
	}
	c, err := induce.Collect(induce.CollectOptions{
		ResultDirs: dirs,
		ConfigDir:  cfg.Paths.ConfigDir,
		Criteria:   orDefault(f.criteria, cfg.Induction.Criteria),
		Model:      orDefault(f.model, cfg.Induction.Model),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("[INDUCE] collected", "trajectories", len(c.Trajectories), "skipped", len(c.Skips), "site", c.Site)
	return c, nil
}

func newInduceRuleCommand() *cobra.Command {
	var flags collectFlags
	var auto bool
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Deduplicate and review successful trajectories into a workflow file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := flags.collect()
			if err != nil {
				return err
			}

			var reviewer review.Reviewer = review.AutoAccept{}
			if !auto && !cfg.Induction.AutoReview {
				ir, err := review.NewInteractive(review.Options{})
				if err != nil {
					return err
				}
				defer ir.Close()
				reviewer = ir
			}

			rep, err := induce.Rule(cmd.Context(), c.Trajectories, induce.RuleOptions{
				Dedup:    cfg.Induction.Dedup,
				Reviewer: reviewer,
				Output:   flags.output,
			}, newRand())
			rep.Skips = append(c.Skips, rep.Skips...)
			if err != nil {
				return err
			}
			return finishInduction(rep)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&auto, "auto", false, "Accept every candidate without prompting")
	return cmd
}

func newInduceNeuralCommand() *cobra.Command {
	var flags collectFlags
	var instruction, oneShot string
	var perTemplate int
	cmd := &cobra.Command{
		Use:   "neural",
		Short: "Summarise successful trajectories into workflows with an LLM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			prompt, err := loadPrompt(orDefault(instruction, cfg.Induction.Instruction), orDefault(oneShot, cfg.Induction.OneShot))
			if err != nil {
				return err
			}
			c, err := flags.collect()
			if err != nil {
				return err
			}
			client, err := newClient("INDUCE")
			if err != nil {
				return err
			}
			defer client.Close()

			if perTemplate <= 0 {
				perTemplate = cfg.Induction.Dedup.PerTemplate
			}
			output := flags.output
			if output == "" {
				output = induce.DefaultOutput(c.Site, orDefault(cfg.Induction.Suffix, "neural"))
			}
			rep, err := induce.Neural(cmd.Context(), client, c.Trajectories, induce.NeuralOptions{
				PerTemplate: perTemplate,
				Prompt:      prompt,
				Model:       cfg.Induction.Model,
				Temperature: cfg.Induction.Temperature,
				MaxTokens:   cfg.Induction.MaxTokens,
				Output:      output,
			}, newRand())
			rep.Skips = append(c.Skips, rep.Skips...)
			if err != nil {
				return err
			}
			return finishInduction(rep)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&instruction, "instruction", "", "Instruction prompt file")
	cmd.Flags().StringVar(&oneShot, "one-shot", "", "One-shot example prompt file")
	cmd.Flags().IntVar(&perTemplate, "num-samples", 0, "Trajectories sampled per task template")
	return cmd
}

func newInduceOfflineCommand() *cobra.Command {
	var (
		dataDir, domain, subdomain, website string
		outputDir, outputSuffix, output     string
		prefix, suffix                      string
		instruction, oneShot, model         string
		temperature                         float32
		maxTokens                           int
	)
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Induce workflows for one website from its training examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			prompt, err := loadPrompt(orDefault(instruction, cfg.Induction.Instruction), orDefault(oneShot, cfg.Induction.OneShot))
			if err != nil {
				return err
			}
			set, err := induce.LoadTrainSet(orDefault(dataDir, filepath.Join(cfg.Paths.DataDir, "train")))
			if err != nil {
				return err
			}
			client, err := newClient("INDUCE")
			if err != nil {
				return err
			}
			defer client.Close()

			tags := types.Tags{Domain: domain, Subdomain: subdomain, Website: website}
			rep, err := induce.Offline(cmd.Context(), client, set, tags, induce.WebsiteOptions{
				Prompt:       prompt,
				Prefix:       prefix,
				Suffix:       suffix,
				Model:        orDefault(model, cfg.Induction.Model),
				Temperature:  temperature,
				MaxTokens:    maxTokens,
				OutputDir:    orDefault(outputDir, cfg.Paths.WorkflowDir),
				OutputSuffix: outputSuffix,
				Output:       output,
			})
			if err != nil {
				return err
			}
			return finishInduction(rep)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory of training JSON files (default: <data_dir>/train)")
	cmd.Flags().StringVar(&domain, "domain", "", "Domain tag")
	cmd.Flags().StringVar(&subdomain, "subdomain", "", "Subdomain tag")
	cmd.Flags().StringVar(&website, "website", "", "Website tag")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for the workflow file")
	cmd.Flags().StringVar(&outputSuffix, "output-suffix", "", "Name the file <website>_<suffix>.txt")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Workflow file to write")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Text placed before the queries")
	cmd.Flags().StringVar(&suffix, "suffix", workflow.QueriesSuffix, "Text placed after the queries")
	cmd.Flags().StringVar(&instruction, "instruction", "", "Instruction prompt file")
	cmd.Flags().StringVar(&oneShot, "one-shot", "", "One-shot example prompt file")
	cmd.Flags().StringVar(&model, "model", "", "Chat model")
	cmd.Flags().Float32Var(&temperature, "temperature", 0, "Sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 1024, "Completion token limit")
	_ = cmd.MarkFlagRequired("website")
	return cmd
}

func newInduceOnlineCommand() *cobra.Command {
	var samplesPath, website, resultsDir, output, instruction, oneShot string
	cmd := &cobra.Command{
		Use:   "online",
		Short: "Induce workflows for one website from the agent's own evaluation records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			prompt, err := loadPrompt(orDefault(instruction, cfg.Induction.Instruction), orDefault(oneShot, cfg.Induction.OneShot))
			if err != nil {
				return err
			}
			samples, err := evaluate.LoadSamples(samplesPath, website)
			if err != nil {
				return err
			}
			if resultsDir == "" {
				resultsDir = filepath.Join(cfg.Paths.LogDir, cfg.Evaluation.Model, website)
			}
			episodes, err := induce.ReadEpisodes(resultsDir)
			if err != nil {
				return err
			}
			client, err := newClient("INDUCE")
			if err != nil {
				return err
			}
			defer client.Close()

			rep, err := induce.Online(cmd.Context(), client, samples, episodes, induce.WebsiteOptions{
				Prompt:      prompt,
				Suffix:      workflow.QueriesSuffix,
				Model:       cfg.Induction.Model,
				Temperature: cfg.Induction.Temperature,
				MaxTokens:   cfg.Induction.MaxTokens,
				OutputDir:   cfg.Paths.WorkflowDir,
				Output:      output,
			})
			if err != nil {
				return err
			}
			return finishInduction(rep)
		},
	}
	cmd.Flags().StringVar(&samplesPath, "samples", "", "Evaluation samples JSON file")
	cmd.Flags().StringVar(&website, "website", "", "Website to induce for")
	cmd.Flags().StringVar(&resultsDir, "results", "", "Directory of episode records (default: <log_dir>/<eval model>/<website>)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Workflow file to write")
	cmd.Flags().StringVar(&instruction, "instruction", "", "Instruction prompt file")
	cmd.Flags().StringVar(&oneShot, "one-shot", "", "One-shot example prompt file")
	_ = cmd.MarkFlagRequired("samples")
	_ = cmd.MarkFlagRequired("website")
	return cmd
}

func loadPrompt(instructionPath, oneShotPath string) (induce.Prompt, error) {
	instruction, err := readOptional(instructionPath)
	if err != nil {
		return induce.Prompt{}, fmt.Errorf("read instruction: %w", err)
	}
	oneShot, err := readOptional(oneShotPath)
	if err != nil {
		return induce.Prompt{}, fmt.Errorf("read one-shot example: %w", err)
	}
	return induce.Prompt{Instruction: instruction, OneShot: oneShot}, nil
}

// finishInduction writes the run report next to the workflow file and prints it.
func finishInduction(rep induce.Report) error {
	if err := induce.WriteReport(rep); err != nil {
		return err
	}
	return printJSON(rep)
}
