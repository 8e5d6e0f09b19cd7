package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type AuditTrailRepository struct {
	db *sql.DB
}

func NewAuditTrailRepository(db *sql.DB) *AuditTrailRepository {
	return &AuditTrailRepository{db: db}
}

// Save inserts trail once. Redelivered trails are ignored and report false.
func (r *AuditTrailRepository) Save(ctx context.Context, trail domain.AuditTrail) (bool, error) {
	rationale := trail.Rationale
	if rationale == nil {
		rationale = []string{}
	}
	rawRationale, err := json.Marshal(rationale)
	if err != nil {
		return false, fmt.Errorf("marshal rationale: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO guardrail_audit (id, tenant_id, query, result_count, answerable, rationale, duration_ms, decided_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`, trail.ID, trail.TenantID, trail.Query, trail.ResultCount, trail.Answerable, rawRationale, trail.Duration.Milliseconds(), trail.Timestamp.UTC())
	if err != nil {
		return false, fmt.Errorf("insert audit trail: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("audit rows affected: %w", err)
	}
	return affected > 0, nil
}
