package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-rag/internal/core/usecase"
)

func newClassifyCmd() *cobra.Command {
	var topScore float64
	cmd := &cobra.Command{
		Use:   "classify QUERY",
		Short: "Show the intent and fusion configuration chosen for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("query is empty")
			}
			classifier := usecase.NewIntentClassifier()
			if cmd.Flags().Changed("top-score") {
				return writeJSON(cmd.OutOrStdout(), classifier.ClassifyWithScore(query, &topScore))
			}
			return writeJSON(cmd.OutOrStdout(), classifier.Classify(query))
		},
	}
	cmd.Flags().Float64Var(&topScore, "top-score", 0, "top vector similarity, enables the high-confidence shortcut")
	return cmd
}
