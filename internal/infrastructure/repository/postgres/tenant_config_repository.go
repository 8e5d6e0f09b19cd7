package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type TenantConfigRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTenantConfigRepository(db *sql.DB) *TenantConfigRepository {
	return &TenantConfigRepository{db: db, now: time.Now}
}

// Save upserts the whole row. Nil sections are stored as NULL.
func (r *TenantConfigRepository) Save(ctx context.Context, cfg domain.TenantConfig) error {
	guardrail, err := marshalSection(cfg.Guardrail)
	if err != nil {
		return fmt.Errorf("marshal guardrail: %w", err)
	}
	timeouts, err := marshalSection(cfg.Timeouts)
	if err != nil {
		return fmt.Errorf("marshal timeouts: %w", err)
	}
	search, err := marshalSection(cfg.Search)
	if err != nil {
		return fmt.Errorf("marshal search: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO tenant_configs (tenant_id, guardrail, timeouts, search, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (tenant_id) DO UPDATE SET
	guardrail = EXCLUDED.guardrail,
	timeouts = EXCLUDED.timeouts,
	search = EXCLUDED.search,
	updated_at = EXCLUDED.updated_at
`, cfg.TenantID, guardrail, timeouts, search, r.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert tenant config: %w", err)
	}
	return nil
}

func (r *TenantConfigRepository) Get(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT tenant_id, guardrail, timeouts, search
FROM tenant_configs
WHERE tenant_id = $1
`, tenantID)

	cfg, err := scanTenantConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTenantNotFound, "get tenant config", fmt.Errorf("tenant %s", tenantID))
		}
		return nil, err
	}
	return cfg, nil
}

func (r *TenantConfigRepository) List(ctx context.Context) ([]domain.TenantConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT tenant_id, guardrail, timeouts, search
FROM tenant_configs
ORDER BY tenant_id
`)
	if err != nil {
		return nil, fmt.Errorf("list tenant configs: %w", err)
	}
	defer rows.Close()

	var out []domain.TenantConfig
	for rows.Next() {
		cfg, err := scanTenantConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant configs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenantConfig(s scanner) (*domain.TenantConfig, error) {
	var cfg domain.TenantConfig
	var guardrail, timeouts, search []byte
	if err := s.Scan(&cfg.TenantID, &guardrail, &timeouts, &search); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan tenant config: %w", err)
	}

	var err error
	if cfg.Guardrail, err = unmarshalSection[domain.GuardrailConfig](guardrail); err != nil {
		return nil, fmt.Errorf("decode guardrail for %s: %w", cfg.TenantID, err)
	}
	if cfg.Timeouts, err = unmarshalSection[domain.TimeoutConfig](timeouts); err != nil {
		return nil, fmt.Errorf("decode timeouts for %s: %w", cfg.TenantID, err)
	}
	if cfg.Search, err = unmarshalSection[domain.SearchConfig](search); err != nil {
		return nil, fmt.Errorf("decode search for %s: %w", cfg.TenantID, err)
	}
	return &cfg, nil
}

func marshalSection[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalSection[T any](raw []byte) (*T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
