package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haricheung/agent-workflow-memory/internal/evaluate"
)

func newScoreCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "score <results-dir>",
		Short: "Aggregate the metrics of finished episode records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := evaluate.LoadResults(args[0])
			if err != nil {
				return err
			}
			return printScores(evaluate.Aggregate(results), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print scores as JSON")
	return cmd
}

func printScores(s evaluate.Scores, asJSON bool) error {
	if asJSON {
		return printJSON(s)
	}
	fmt.Printf("Episodes:    %d\n", s.Episodes)
	fmt.Printf("Element Acc: %5.1f\n", s.ElementAcc)
	fmt.Printf("Action F1:   %5.1f\n", s.ActionF1)
	fmt.Printf("Step SR:     %5.1f\n", s.StepSR)
	fmt.Printf("SR:          %5.1f\n", s.SR)
	return nil
}
