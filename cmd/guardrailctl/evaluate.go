package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/tenant"
	"github.com/kirillkom/grounded-rag/internal/core/usecase"
)

// evaluateInput is one captured retrieval: the query plus raw backend hits.
type evaluateInput struct {
	Query    string                `json:"query"`
	TenantID string                `json:"tenant_id"`
	Vector   []domain.SearchResult `json:"vector"`
	Keyword  []domain.SearchResult `json:"keyword"`
}

type evaluateOutput struct {
	Intent   domain.IntentConfig      `json:"intent"`
	Results  []domain.FusedResult     `json:"results"`
	Decision domain.GuardrailDecision `json:"decision"`
}

func newEvaluateCmd() *cobra.Command {
	var (
		profile    string
		confidence float64
		rrfK       int
	)
	cmd := &cobra.Command{
		Use:   "evaluate [FILE]",
		Short: "Fuse captured search results and run the answerability guardrail",
		Long: `evaluate reads a JSON document with "query", "vector" and "keyword" result
lists (stdin when FILE is omitted or "-"), fuses them with the weights chosen
by the intent classifier and prints the guardrail decision.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			in, err := openInput(path)
			if err != nil {
				return err
			}
			defer in.Close()

			var input evaluateInput
			if err := json.NewDecoder(in).Decode(&input); err != nil {
				return fmt.Errorf("decode input: %w", err)
			}
			if strings.TrimSpace(input.Query) == "" {
				return fmt.Errorf("input query is empty")
			}

			cfg := domain.DefaultGuardrailConfig()
			cfg.Profile = domain.ThresholdProfile(strings.ToLower(profile))
			cfg.CustomConfidence = confidence
			if err := (domain.TenantConfig{TenantID: "cli", Guardrail: &cfg}).Validate(); err != nil {
				return err
			}

			intent := usecase.NewIntentClassifier().Classify(input.Query)
			fused := usecase.Fuse(input.Vector, input.Keyword, intent, rrfK)
			guardrail := usecase.NewGuardrail(tenant.NewStore(cfg), nil)
			decision := guardrail.Evaluate(cmd.Context(), input.Query, input.TenantID, fused, false)

			return writeJSON(cmd.OutOrStdout(), evaluateOutput{Intent: intent, Results: fused, Decision: decision})
		},
	}
	cmd.Flags().StringVar(&profile, "profile", string(domain.ThresholdModerate), "threshold profile: strict, moderate, permissive or custom")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "confidence for the custom profile")
	cmd.Flags().IntVar(&rrfK, "rrf-k", 60, "reciprocal rank fusion constant")
	return cmd
}
