package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/observability/metrics"
)

const (
	defaultMaxBodyBytes = 1 << 20
	defaultOverloadWait = 250 * time.Millisecond
	readinessTimeout    = 3 * time.Second
)

// HealthCheck reports whether one dependency is ready to serve traffic.
type HealthCheck = func(ctx context.Context) error

type Options struct {
	Service      string
	MaxInFlight  int
	OverloadWait time.Duration
	MaxBodyBytes int64
	Readiness    map[string]HealthCheck
	Metrics      *metrics.HTTPServerMetrics
	Logger       *slog.Logger
}

type Router struct {
	answers ports.AnswerService
	admin   ports.TenantConfigAdmin
	opts    Options
	logger  *slog.Logger
}

func NewRouter(answers ports.AnswerService, admin ports.TenantConfigAdmin, opts Options) *Router {
	if opts.Service == "" {
		opts.Service = "api"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.OverloadWait <= 0 {
		opts.OverloadWait = defaultOverloadWait
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{answers: answers, admin: admin, opts: opts, logger: logger}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /readyz", rt.readyz)
	mux.Handle("POST /v1/answer", backpressureMiddleware(http.HandlerFunc(rt.answer), rt.opts.MaxInFlight, rt.opts.OverloadWait))
	mux.Handle("POST /v1/answer/stream", backpressureMiddleware(http.HandlerFunc(rt.answerStream), rt.opts.MaxInFlight, rt.opts.OverloadWait))
	if rt.admin != nil {
		mux.HandleFunc("PUT /v1/admin/tenants/{tenant_id}/config", rt.putTenantConfig)
		mux.HandleFunc("GET /v1/admin/tenants/{tenant_id}/config", rt.getTenantConfig)
	}
	if rt.opts.Metrics != nil {
		mux.Handle("GET /metrics", rt.opts.Metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(rt.opts.Service, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(rt.opts.Readiness))
	for name, check := range rt.opts.Readiness {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

type answerRequest struct {
	Query          string `json:"query"`
	TenantID       string `json:"tenant_id"`
	IncludeMetrics bool   `json:"include_metrics"`
	Filter         struct {
		Must   []domain.FilterClause `json:"must"`
		Should []domain.FilterClause `json:"should"`
	} `json:"filter"`
}

func (rt *Router) decodeAnswerRequest(r *http.Request) (domain.AnswerRequest, error) {
	var body answerRequest
	if err := decodeJSON(r, rt.opts.MaxBodyBytes, &body); err != nil {
		return domain.AnswerRequest{}, err
	}
	if strings.TrimSpace(body.Query) == "" {
		return domain.AnswerRequest{}, domain.WrapError(domain.ErrInvalidInput, "answer request", errors.New("query is required"))
	}
	if strings.TrimSpace(body.TenantID) == "" {
		return domain.AnswerRequest{}, domain.WrapError(domain.ErrInvalidInput, "answer request", errors.New("tenant_id is required"))
	}
	filter, err := domain.NewFilter(body.Filter.Must, body.Filter.Should)
	if err != nil {
		return domain.AnswerRequest{}, err
	}
	return domain.AnswerRequest{
		RequestID:      requestIDFromContext(r.Context()),
		Query:          body.Query,
		TenantID:       body.TenantID,
		Filter:         filter,
		IncludeMetrics: body.IncludeMetrics,
	}, nil
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := rt.decodeAnswerRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := rt.answers.Answer(r.Context(), req)
	if err != nil {
		rt.recordAnswer("answer", metrics.OutcomeError, 0, start)
		rt.logger.ErrorContext(r.Context(), "answer_failed",
			slog.String("request_id", req.RequestID),
			slog.String("tenant_id", req.TenantID),
			slog.String("stage", domain.FailedStage(err)),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	rt.recordAnswer("answer", answerOutcome(resp), len(resp.Documents), start)
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) answerStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := rt.decodeAnswerRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Code: domain.CodeInternal})
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.StreamOpened()
		defer rt.opts.Metrics.StreamClosed()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outcome := metrics.OutcomeError
	sources := 0
	events := rt.answers.Stream(ctx, req)
	for event := range events {
		switch payload := event.Payload.(type) {
		case domain.ResponseCompleted:
			outcome = answerOutcome(&payload)
			sources = len(payload.Documents)
		case domain.StreamError:
			outcome = metrics.OutcomeError
		}
		if err := sse.write(event); err != nil {
			rt.logger.WarnContext(r.Context(), "stream_client_gone",
				slog.String("request_id", req.RequestID),
				slog.String("error", err.Error()),
			)
			// Cancelling stops the producer; drain so its goroutine can exit.
			cancel()
			for range events {
			}
			break
		}
	}
	rt.recordAnswer("answer_stream", outcome, sources, start)
}

func (rt *Router) putTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var cfg domain.TenantConfig
	if err := decodeJSON(r, rt.opts.MaxBodyBytes, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if cfg.TenantID != "" && cfg.TenantID != tenantID {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "tenant config", fmt.Errorf("body tenant_id %q does not match path", cfg.TenantID)))
		return
	}
	cfg.TenantID = tenantID

	if err := rt.admin.Apply(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.admin.Current(tenantID))
}

// getTenantConfig returns the stored overrides, or the effective configuration
// with defaults filled in when effective=true.
func (rt *Router) getTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	if r.URL.Query().Get("effective") == "true" {
		writeJSON(w, http.StatusOK, rt.admin.Current(tenantID))
		return
	}
	cfg, err := rt.admin.Overrides(tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (rt *Router) recordAnswer(endpoint, outcome string, sources int, start time.Time) {
	if rt.opts.Metrics == nil {
		return
	}
	rt.opts.Metrics.RecordAnswer(rt.opts.Service, endpoint, outcome, sources, time.Since(start))
}

func answerOutcome(resp *domain.ResponseCompleted) string {
	if resp.Guardrail.IsAnswerable {
		return metrics.OutcomeAnswered
	}
	return metrics.OutcomeRefused
}

func decodeJSON(r *http.Request, limit int64, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
