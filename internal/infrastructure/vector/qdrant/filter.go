package qdrant

import "github.com/kirillkom/grounded-rag/internal/core/domain"

// buildFilter maps the access filter onto Qdrant match-any conditions.
func buildFilter(f domain.Filter) map[string]any {
	if f.IsEmpty() {
		return nil
	}
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = conditions(f.Must)
	}
	if len(f.Should) > 0 {
		out["should"] = conditions(f.Should)
	}
	return out
}

func conditions(clauses []domain.FilterClause) []map[string]any {
	out := make([]map[string]any, 0, len(clauses))
	for _, clause := range clauses {
		out = append(out, map[string]any{
			"key":   clause.Key,
			"match": map[string]any{"any": clause.Values},
		})
	}
	return out
}
