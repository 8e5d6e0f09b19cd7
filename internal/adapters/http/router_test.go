package httpadapter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/observability/metrics"
)

type fakeAnswerService struct {
	lastReq domain.AnswerRequest
	resp    *domain.ResponseCompleted
	err     error
	events  []domain.StreamEvent
}

func (f *fakeAnswerService) Answer(_ context.Context, req domain.AnswerRequest) (*domain.ResponseCompleted, error) {
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeAnswerService) Stream(_ context.Context, req domain.AnswerRequest) <-chan domain.StreamEvent {
	f.lastReq = req
	out := make(chan domain.StreamEvent, len(f.events))
	for _, event := range f.events {
		out <- event
	}
	close(out)
	return out
}

type fakeAdmin struct {
	applied   []domain.TenantConfig
	applyErr  error
	overrides map[string]domain.TenantConfig
}

func (f *fakeAdmin) Apply(_ context.Context, cfg domain.TenantConfig) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, cfg)
	if f.overrides == nil {
		f.overrides = map[string]domain.TenantConfig{}
	}
	f.overrides[cfg.TenantID] = cfg
	return nil
}

func (f *fakeAdmin) Current(tenantID string) domain.TenantConfig {
	guardrail := domain.DefaultGuardrailConfig()
	if cfg, ok := f.overrides[tenantID]; ok && cfg.Guardrail != nil {
		guardrail = *cfg.Guardrail
	}
	return domain.TenantConfig{TenantID: tenantID, Guardrail: &guardrail}
}

func (f *fakeAdmin) Overrides(tenantID string) (domain.TenantConfig, error) {
	cfg, ok := f.overrides[tenantID]
	if !ok {
		return domain.TenantConfig{}, domain.WrapError(domain.ErrTenantNotFound, "overrides", errors.New(tenantID))
	}
	return cfg, nil
}

func answered() *domain.ResponseCompleted {
	return &domain.ResponseCompleted{
		RequestID: "req-1",
		Answer:    "Revenue grew [1].",
		Documents: []domain.DocumentSummary{{ID: "a", Rank: 1}},
		Guardrail: domain.GuardrailSummary{IsAnswerable: true, Confidence: 0.8, Profile: domain.ThresholdModerate},
	}
}

func TestAnswerReturnsResponse(t *testing.T) {
	svc := &fakeAnswerService{resp: answered()}
	handler := NewRouter(svc, nil, Options{}).Handler()

	body := `{"query":"how did revenue change?","tenant_id":"acme","filter":{"must":[{"key":"dept","values":["finance"]}]}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(body))
	req.Header.Set(requestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get(requestIDHeader))
	require.Equal(t, "req-1", svc.lastReq.RequestID)
	require.Equal(t, "acme", svc.lastReq.TenantID)
	require.Equal(t, []domain.FilterClause{{Key: "dept", Values: []string{"finance"}}}, svc.lastReq.Filter.Must)

	var got domain.ResponseCompleted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Revenue grew [1].", got.Answer)
	require.True(t, got.Guardrail.IsAnswerable)
}

func TestAnswerValidatesRequest(t *testing.T) {
	handler := NewRouter(&fakeAnswerService{resp: answered()}, nil, Options{}).Handler()

	cases := map[string]string{
		"missing query":  `{"tenant_id":"acme"}`,
		"missing tenant": `{"query":"q"}`,
		"bad filter":     `{"query":"q","tenant_id":"acme","filter":{"must":[{"key":"","values":["x"]}]}}`,
		"unknown field":  `{"query":"q","tenant_id":"acme","limit":3}`,
		"bad json":       `{"query":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var got errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.Equal(t, domain.CodeInvalidInput, got.Code)
		})
	}
}

func TestAnswerMapsPipelineErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"stage timeout", domain.NewStageError(domain.StageReranker, &domain.StageTimeoutError{Stage: domain.StageReranker}), http.StatusGatewayTimeout, domain.CodeStageTimeout},
		{"request timeout", domain.WrapError(domain.ErrRequestTimeout, "answer", context.DeadlineExceeded), http.StatusGatewayTimeout, domain.CodeRequestTimeout},
		{"upstream", domain.NewStageError(domain.StageVectorSearch, errors.New("qdrant down")), http.StatusServiceUnavailable, domain.CodeUpstreamUnavailable},
		{"internal", domain.WrapError(domain.ErrInternalScoring, "score", errors.New("nan")), http.StatusInternalServerError, domain.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewRouter(&fakeAnswerService{err: tc.err}, nil, Options{}).Handler()
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(`{"query":"q","tenant_id":"acme"}`)))
			require.Equal(t, tc.status, rec.Code)

			var got errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.Equal(t, tc.code, got.Code)
			require.NotContains(t, got.Error, "qdrant")
		})
	}
}

func TestAnswerStreamWritesNamedEvents(t *testing.T) {
	resp := answered()
	svc := &fakeAnswerService{events: []domain.StreamEvent{
		{Kind: domain.EventConnectionOpened, Payload: domain.ConnectionOpened{RequestID: "req-1", TenantID: "acme"}},
		{Kind: domain.EventChunk, Payload: domain.Chunk{Text: "Revenue", Accumulated: "Revenue"}},
		{Kind: domain.EventCitations, Payload: domain.Citations{Citations: []domain.Citation{{Index: 1, ID: "a"}}}},
		{Kind: domain.EventMetadata, Payload: domain.Metadata{ResultCount: 1}},
		{Kind: domain.EventResponseCompleted, Payload: *resp},
		{Kind: domain.EventDone, Payload: domain.Done{RequestID: "req-1"}},
	}}
	registry := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPServerMetrics("api", registry)
	server := httptest.NewServer(NewRouter(svc, nil, Options{Metrics: httpMetrics}).Handler())
	defer server.Close()

	res, err := http.Post(server.URL+"/v1/answer/stream", "application/json", strings.NewReader(`{"query":"q","tenant_id":"acme"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	var kinds []string
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			kinds = append(kinds, name)
		}
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, []string{"connection_opened", "chunk", "citations", "metadata", "response_completed", "done"}, kinds)

	metricsRes, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsRes.Body.Close()
	var scraped strings.Builder
	scanner = bufio.NewScanner(metricsRes.Body)
	for scanner.Scan() {
		scraped.WriteString(scanner.Text() + "\n")
	}
	require.Contains(t, scraped.String(), `grag_answer_requests_total{endpoint="answer_stream",outcome="answered",service="api"} 1`)
}

func TestAnswerStreamEndsWithErrorEvent(t *testing.T) {
	svc := &fakeAnswerService{events: []domain.StreamEvent{
		{Kind: domain.EventConnectionOpened, Payload: domain.ConnectionOpened{RequestID: "r"}},
		{Kind: domain.EventError, Payload: domain.StreamError{Code: domain.CodeUpstreamUnavailable, Message: domain.GenericStreamErrorMessage}},
		{Kind: domain.EventDone, Payload: domain.Done{RequestID: "r"}},
	}}
	rec := httptest.NewRecorder()
	NewRouter(svc, nil, Options{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/answer/stream", strings.NewReader(`{"query":"q","tenant_id":"acme"}`)))

	body := rec.Body.String()
	require.Contains(t, body, "event: error\ndata: {\"code\":\"UPSTREAM_UNAVAILABLE\"")
	require.True(t, strings.HasSuffix(body, "event: done\ndata: {\"request_id\":\"r\"}\n\n"))
}

func TestTenantConfigAdminRoutes(t *testing.T) {
	admin := &fakeAdmin{}
	handler := NewRouter(&fakeAnswerService{}, admin, Options{}).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/tenants/acme/config", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/admin/tenants/acme/config", strings.NewReader(`{"guardrail":{"profile":"strict"}}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, admin.applied, 1)
	require.Equal(t, "acme", admin.applied[0].TenantID)
	require.Equal(t, domain.ThresholdStrict, admin.applied[0].Guardrail.Profile)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/tenants/acme/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.TenantConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, domain.ThresholdStrict, got.Guardrail.Profile)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/tenants/globex/config?effective=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, domain.ThresholdModerate, got.Guardrail.Profile)
}

func TestTenantConfigRejectsMismatchedTenant(t *testing.T) {
	admin := &fakeAdmin{}
	handler := NewRouter(&fakeAnswerService{}, admin, Options{}).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/admin/tenants/acme/config", strings.NewReader(`{"tenant_id":"globex"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, admin.applied)
}

func TestReadinessReportsFailingCheck(t *testing.T) {
	handler := NewRouter(&fakeAnswerService{}, nil, Options{Readiness: map[string]HealthCheck{
		"qdrant": func(context.Context) error { return nil },
		"ollama": func(context.Context) error { return errors.New("connection refused") },
	}}).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var got struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "ok", got.Checks["qdrant"])
	require.Equal(t, "connection refused", got.Checks["ollama"])
}
