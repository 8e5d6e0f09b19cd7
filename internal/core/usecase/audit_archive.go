package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

// AuditArchiveUseCase stores audit trails delivered by the audit stream.
type AuditArchiveUseCase struct {
	repo   ports.AuditTrailRepository
	logger *slog.Logger
}

func NewAuditArchiveUseCase(repo ports.AuditTrailRepository, logger *slog.Logger) *AuditArchiveUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditArchiveUseCase{repo: repo, logger: logger}
}

func (uc *AuditArchiveUseCase) Archive(ctx context.Context, trail domain.AuditTrail) error {
	if strings.TrimSpace(trail.ID) == "" || strings.TrimSpace(trail.TenantID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "archive audit trail", fmt.Errorf("audit trail requires id and tenant_id"))
	}
	inserted, err := uc.repo.Save(ctx, trail)
	if err != nil {
		return fmt.Errorf("archive audit trail %s: %w", trail.ID, err)
	}
	if !inserted {
		uc.logger.DebugContext(ctx, "audit_trail_duplicate", slog.String("audit_id", trail.ID))
		return nil
	}
	uc.logger.InfoContext(ctx, "audit_trail_archived",
		slog.String("audit_id", trail.ID),
		slog.String("tenant_id", trail.TenantID),
		slog.Bool("answerable", trail.Answerable),
	)
	return nil
}
