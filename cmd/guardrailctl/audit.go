package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	natsaudit "github.com/kirillkom/grounded-rag/internal/infrastructure/audit/nats"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect guardrail audit decisions",
	}
	cmd.AddCommand(newAuditTailCmd())
	return cmd
}

func newAuditTailCmd() *cobra.Command {
	var (
		url    string
		prefix string
		tenant string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print guardrail decisions as they are published",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			retry := false
			subscriber, err := natsaudit.Connect(url, prefix, natsaudit.Options{
				RetryOnFailedConnect: &retry,
				Logger:               slog.Default(),
			})
			if err != nil {
				return err
			}
			defer subscriber.Close()

			out := cmd.OutOrStdout()
			return subscriber.Subscribe(ctx, tenant, func(_ context.Context, trail domain.AuditTrail) error {
				return writeJSON(out, trail)
			})
		},
	}
	cmd.Flags().StringVar(&url, "nats-url", "nats://localhost:4222", "NATS server URL")
	cmd.Flags().StringVar(&prefix, "prefix", "guardrail.audit", "audit subject prefix")
	cmd.Flags().StringVar(&tenant, "tenant", "", "only show decisions for this tenant")
	return cmd
}
