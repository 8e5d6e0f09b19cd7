package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/usecase"
)

func newThresholdsCmd() *cobra.Command {
	var confidences []float64
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Print the answerability thresholds of each profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROFILE\tMIN_CONFIDENCE\tMIN_TOP\tMIN_MEAN\tMAX_STDDEV\tMIN_COUNT")
			row := func(name string, th domain.AnswerabilityThreshold) {
				fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%.3f\t%d\n",
					name, th.MinConfidence, th.MinTopScore, th.MinMeanScore, th.MaxStdDev, th.MinResultCount)
			}
			for _, profile := range []domain.ThresholdProfile{domain.ThresholdStrict, domain.ThresholdModerate, domain.ThresholdPermissive} {
				th, _ := usecase.ThresholdFor(domain.GuardrailConfig{Profile: profile})
				row(string(profile), th)
			}
			for _, c := range confidences {
				row(fmt.Sprintf("custom(%.2f)", c), usecase.CustomThreshold(c))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Float64SliceVar(&confidences, "confidence", nil, "also print the custom profile for these confidences")
	return cmd
}
