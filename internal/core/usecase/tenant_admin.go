package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/core/tenant"
)

// TenantStores are the live per-tenant configuration maps read by the pipeline.
type TenantStores struct {
	Guardrail *tenant.Store[domain.GuardrailConfig]
	Timeouts  *tenant.Store[domain.TimeoutConfig]
	Search    *tenant.Store[domain.SearchConfig]
}

func NewTenantStores(guardrail domain.GuardrailConfig, timeouts domain.TimeoutConfig, search domain.SearchConfig) TenantStores {
	return TenantStores{
		Guardrail: tenant.NewStore(guardrail),
		Timeouts:  tenant.NewStore(timeouts),
		Search:    tenant.NewStore(search),
	}
}

// TenantAdminUseCase persists tenant overrides and publishes them to the live
// stores. Requests already in flight keep the snapshot they resolved.
type TenantAdminUseCase struct {
	repo   ports.TenantConfigRepository
	stores TenantStores
	logger *slog.Logger
}

func NewTenantAdminUseCase(repo ports.TenantConfigRepository, stores TenantStores, logger *slog.Logger) *TenantAdminUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantAdminUseCase{repo: repo, stores: stores, logger: logger}
}

// Apply validates cfg, stores it and replaces the tenant's live entries. Nil
// sections keep the tenant's current values.
func (uc *TenantAdminUseCase) Apply(ctx context.Context, cfg domain.TenantConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	merged := uc.merge(cfg)
	if uc.repo != nil {
		if err := uc.repo.Save(ctx, merged); err != nil {
			return fmt.Errorf("save tenant config %s: %w", cfg.TenantID, err)
		}
	}
	uc.publish(merged)
	uc.logger.InfoContext(ctx, "tenant_config_applied",
		slog.String("tenant_id", cfg.TenantID),
		slog.Bool("guardrail", cfg.Guardrail != nil),
		slog.Bool("timeouts", cfg.Timeouts != nil),
		slog.Bool("search", cfg.Search != nil),
	)
	return nil
}

// Load hydrates the live stores from the repository. Invalid rows are skipped.
func (uc *TenantAdminUseCase) Load(ctx context.Context) (int, error) {
	if uc.repo == nil {
		return 0, nil
	}
	configs, err := uc.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenant configs: %w", err)
	}
	return uc.Seed(ctx, configs), nil
}

// Seed publishes configs to the live stores without persisting them.
func (uc *TenantAdminUseCase) Seed(ctx context.Context, configs []domain.TenantConfig) int {
	loaded := 0
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			uc.logger.WarnContext(ctx, "tenant_config_skipped",
				slog.String("tenant_id", cfg.TenantID),
				slog.String("error", err.Error()),
			)
			continue
		}
		uc.publish(cfg)
		loaded++
	}
	return loaded
}

// Current returns the effective configuration for tenantID, defaults included.
func (uc *TenantAdminUseCase) Current(tenantID string) domain.TenantConfig {
	guardrail := uc.stores.Guardrail.Resolve(tenantID)
	timeouts := uc.stores.Timeouts.Resolve(tenantID).Normalize()
	search := uc.stores.Search.Resolve(tenantID).Normalize()
	return domain.TenantConfig{
		TenantID:  tenantID,
		Guardrail: &guardrail,
		Timeouts:  &timeouts,
		Search:    &search,
	}
}

// Overrides returns only the sections set for tenantID.
func (uc *TenantAdminUseCase) Overrides(tenantID string) (domain.TenantConfig, error) {
	out := uc.merge(domain.TenantConfig{TenantID: tenantID})
	if out.Guardrail == nil && out.Timeouts == nil && out.Search == nil {
		return domain.TenantConfig{}, domain.WrapError(domain.ErrTenantNotFound, "tenant overrides", fmt.Errorf("tenant %s has no overrides", tenantID))
	}
	return out, nil
}

func (uc *TenantAdminUseCase) merge(cfg domain.TenantConfig) domain.TenantConfig {
	out := domain.TenantConfig{TenantID: cfg.TenantID}
	if g, ok := uc.stores.Guardrail.Get(cfg.TenantID); ok {
		out.Guardrail = &g
	}
	if t, ok := uc.stores.Timeouts.Get(cfg.TenantID); ok {
		out.Timeouts = &t
	}
	if s, ok := uc.stores.Search.Get(cfg.TenantID); ok {
		out.Search = &s
	}
	if cfg.Guardrail != nil {
		out.Guardrail = cfg.Guardrail
	}
	if cfg.Timeouts != nil {
		out.Timeouts = cfg.Timeouts
	}
	if cfg.Search != nil {
		out.Search = cfg.Search
	}
	return out
}

func (uc *TenantAdminUseCase) publish(cfg domain.TenantConfig) {
	if cfg.Guardrail != nil {
		uc.stores.Guardrail.Replace(cfg.TenantID, *cfg.Guardrail)
	}
	if cfg.Timeouts != nil {
		uc.stores.Timeouts.Replace(cfg.TenantID, *cfg.Timeouts)
	}
	if cfg.Search != nil {
		uc.stores.Search.Replace(cfg.TenantID, *cfg.Search)
	}
}
