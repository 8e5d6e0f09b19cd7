package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/usecase"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/keyword/bleveindex"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/vector/qdrant"
)

func quietApp() *App {
	return &App{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestKeywordSearcherSelectsBackend(t *testing.T) {
	app := quietApp()
	client := qdrant.New("http://qdrant.invalid", qdrant.Options{})

	searcher, err := app.keywordSearcher(config.Config{KeywordBackend: config.KeywordBleve, BleveIndexPath: t.TempDir()}, client)
	require.NoError(t, err)
	require.IsType(t, &bleveindex.Index{}, searcher)
	require.NoError(t, app.Close(context.Background()))

	searcher, err = app.keywordSearcher(config.Config{KeywordBackend: config.KeywordQdrantSparse}, client)
	require.NoError(t, err)
	require.IsType(t, &qdrant.SparseSearcher{}, searcher)

	_, err = app.keywordSearcher(config.Config{KeywordBackend: "solr"}, client)
	require.Error(t, err)
}

func TestKeywordSearcherRejectsMissingBleveIndexDir(t *testing.T) {
	app := quietApp()
	client := qdrant.New("http://qdrant.invalid", qdrant.Options{})

	_, err := app.keywordSearcher(config.Config{KeywordBackend: config.KeywordBleve, BleveIndexPath: filepath.Join(t.TempDir(), "missing")}, client)
	require.Error(t, err)
}

func TestAnswerGeneratorSelectsBackend(t *testing.T) {
	client := ollama.New("http://ollama.invalid", "gen", "embed", ollama.Options{})

	gen, err := answerGenerator(config.Config{GeneratorBackend: config.GeneratorOllama}, client, nil)
	require.NoError(t, err)
	require.IsType(t, &ollama.Generator{}, gen)

	gen, err = answerGenerator(config.Config{GeneratorBackend: config.GeneratorOpenAI, OpenAIModel: "gpt-4o-mini", OpenAIAPIKey: "k"}, client, nil)
	require.NoError(t, err)
	require.IsType(t, &openaicompat.Generator{}, gen)

	_, err = answerGenerator(config.Config{GeneratorBackend: config.GeneratorOpenAI}, client, nil)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = answerGenerator(config.Config{GeneratorBackend: "vllm"}, client, nil)
	require.Error(t, err)
}

func TestHydrateTenantsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  - tenant_id: acme\n    guardrail:\n      profile: strict\n"), 0o600))

	app := quietApp()
	stores := usecase.NewTenantStores(domain.DefaultGuardrailConfig(), domain.DefaultTimeoutConfig(), domain.DefaultSearchConfig())
	app.Admin = usecase.NewTenantAdminUseCase(nil, stores, app.Logger)

	require.NoError(t, app.hydrateTenants(context.Background(), config.Config{TenantConfigFile: path}))
	require.Equal(t, domain.ThresholdStrict, stores.Guardrail.Resolve("acme").Profile)
	require.Equal(t, domain.ThresholdModerate, stores.Guardrail.Resolve("globex").Profile)

	err := app.hydrateTenants(context.Background(), config.Config{TenantConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestResilienceConfigCopiesUpstreamSettings(t *testing.T) {
	got := resilienceConfig(config.Config{
		RetryMaxAttempts:    4,
		RetryInitialBackoff: 10 * time.Millisecond,
		RetryMaxBackoff:     time.Second,
		BreakerEnabled:      false,
		BreakerOpenTimeout:  5 * time.Second,
		UpstreamRateLimit:   20,
		UpstreamRateBurst:   5,
	})
	require.Equal(t, 4, got.Retry.MaxAttempts)
	require.Equal(t, time.Second, got.Retry.MaxBackoff)
	require.False(t, got.Breaker.Enabled)
	require.Equal(t, resilience.RatePolicy{PerSecond: 20, Burst: 5}, got.Rate)
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	app := quietApp()
	var order []int
	for i := range 3 {
		app.onClose(func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, app.Close(context.Background()))
	require.Equal(t, []int{2, 1, 0}, order)
	require.NoError(t, app.Close(context.Background()))
}
