package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-rag/internal/observability/logging"
)

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "guardrailctl",
		Short: "Offline tooling for the grounded retrieval pipeline",
		Long: `guardrailctl runs the intent classifier, fusion and the answerability
guardrail on local input and tails guardrail audit decisions.

Example usage:
  guardrailctl classify "what is net revenue retention"
  guardrailctl evaluate --profile strict candidates.json
  guardrailctl thresholds --confidence 0.2 --confidence 0.6
  guardrailctl audit tail --tenant acme`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := "warn"
			if verbose {
				level = "debug"
			}
			slog.SetDefault(logging.NewJSONLoggerTo(cmd.ErrOrStderr(), "guardrailctl", level))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		newClassifyCmd(),
		newEvaluateCmd(),
		newThresholdsCmd(),
		newAuditCmd(),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openInput returns stdin for "-" or an empty path.
func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
