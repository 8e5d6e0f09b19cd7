package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

func TestLoadUsesDefaults(t *testing.T) {
	t.Setenv("GUARDRAIL_PROFILE", "")
	t.Setenv("TIMEOUT_RERANKER", "")
	t.Setenv("RAG_FUSION_RRF_K", "")
	t.Setenv("KEYWORD_BACKEND", "")
	t.Setenv("POSTGRES_DSN", "")

	cfg := Load()
	if cfg.Guardrail.Profile != domain.ThresholdModerate {
		t.Fatalf("expected moderate profile, got %q", cfg.Guardrail.Profile)
	}
	if cfg.Timeouts.Reranker != 10*time.Second {
		t.Fatalf("expected reranker timeout 10s, got %s", cfg.Timeouts.Reranker)
	}
	if cfg.Search.RRFK != 60 {
		t.Fatalf("expected rrf k 60, got %d", cfg.Search.RRFK)
	}
	if cfg.KeywordBackend != KeywordQdrantSparse {
		t.Fatalf("expected qdrant sparse keyword backend, got %q", cfg.KeywordBackend)
	}
	if cfg.PostgresDSN != "" {
		t.Fatalf("postgres must be disabled by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("GUARDRAIL_PROFILE", "Strict")
	t.Setenv("TIMEOUT_RERANKER", "2500ms")
	t.Setenv("TIMEOUT_LLM", "45")
	t.Setenv("RAG_FUSION_RRF_K", "75")
	t.Setenv("RAG_MMR_ALPHA", "0.7")
	t.Setenv("RAG_RERANK_ENABLED", "false")
	t.Setenv("GENERATOR_BACKEND", "OpenAI")

	cfg := Load()
	if cfg.Guardrail.Profile != domain.ThresholdStrict {
		t.Fatalf("expected strict profile, got %q", cfg.Guardrail.Profile)
	}
	if cfg.Timeouts.Reranker != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s reranker timeout, got %s", cfg.Timeouts.Reranker)
	}
	if cfg.Timeouts.LLM != 45*time.Second {
		t.Fatalf("expected bare integer seconds, got %s", cfg.Timeouts.LLM)
	}
	if cfg.Search.RRFK != 75 || cfg.Search.MMRAlpha != 0.7 || cfg.Search.RerankEnabled {
		t.Fatalf("unexpected search config: %+v", cfg.Search)
	}
	if cfg.GeneratorBackend != GeneratorOpenAI {
		t.Fatalf("expected openai backend, got %q", cfg.GeneratorBackend)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RAG_FUSION_RRF_K", "sixty")
	t.Setenv("TIMEOUT_OVERALL", "soon")

	cfg := Load()
	if cfg.Search.RRFK != 60 {
		t.Fatalf("expected fallback rrf k, got %d", cfg.Search.RRFK)
	}
	if cfg.Timeouts.Overall != 90*time.Second {
		t.Fatalf("expected fallback overall timeout, got %s", cfg.Timeouts.Overall)
	}
}

func TestLoadKeepsSafetyMarginBelowTokenBudget(t *testing.T) {
	t.Setenv("RAG_MAX_CONTEXT_TOKENS", "150")
	t.Setenv("RAG_TOKEN_SAFETY_MARGIN", "400")

	cfg := Load()
	if cfg.Search.MaxContextTokens != 150 {
		t.Fatalf("expected max context tokens 150, got %d", cfg.Search.MaxContextTokens)
	}
	if cfg.Search.TokenSafetyMargin != 75 {
		t.Fatalf("expected margin clamped to 75, got %d", cfg.Search.TokenSafetyMargin)
	}
}

func TestParseTenantFile(t *testing.T) {
	raw := []byte(`
tenants:
  - tenant_id: acme
    guardrail:
      profile: strict
      suggestion_limit: 5
    timeouts:
      reranker: 2s
      overall: 30s
  - tenant_id: globex
    search:
      rrf_k: 40
      direct_answer_rules:
        - name: pricing
          query_pattern: "(?i)how much"
          content_pattern: "\\$\\d+"
`)
	tenants, err := ParseTenantFile(raw)
	require.NoError(t, err)
	require.Len(t, tenants, 2)

	acme := tenants[0]
	require.Equal(t, domain.ThresholdStrict, acme.Guardrail.Profile)
	require.Equal(t, 5, acme.Guardrail.SuggestionLimit)
	require.Equal(t, 2*time.Second, acme.Timeouts.Reranker)
	require.Nil(t, acme.Search)

	globex := tenants[1]
	require.Equal(t, 40, globex.Search.RRFK)
	require.Len(t, globex.Search.DirectAnswerRules, 1)
	require.Nil(t, globex.Guardrail)
}

func TestParseTenantFileRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "tenants:\n  - tenant_id: acme\n    colour: red\n",
		"bad profile":   "tenants:\n  - tenant_id: acme\n    guardrail:\n      profile: paranoid\n",
		"missing id":    "tenants:\n  - guardrail:\n      profile: strict\n",
		"duplicate":     "tenants:\n  - tenant_id: acme\n  - tenant_id: acme\n",
		"margin":        "tenants:\n  - tenant_id: acme\n    search:\n      max_context_tokens: 300\n      token_safety_margin: 300\n",
		"bad rule":      "tenants:\n  - tenant_id: acme\n    search:\n      direct_answer_rules:\n        - name: x\n          query_pattern: \"(\"\n          content_pattern: y\n",
		"not a mapping": "- just\n- a list\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTenantFile([]byte(raw))
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestParseTenantFileAcceptsEmptyDocument(t *testing.T) {
	tenants, err := ParseTenantFile(nil)
	require.NoError(t, err)
	require.Empty(t, tenants)
}

func TestLoadTenantFileReadsDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  - tenant_id: acme\n    guardrail:\n      profile: permissive\n"), 0o600))

	tenants, err := LoadTenantFile(path)
	require.NoError(t, err)
	require.Equal(t, domain.ThresholdPermissive, tenants[0].Guardrail.Profile)

	_, err = LoadTenantFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
