// Package crossencoder calls an HTTP cross-encoder service that scores
// query/passage pairs.
package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

const service = "reranker"

type rerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
	Model   string         `json:"model"`
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Options struct {
	HTTPClient *http.Client
	Executor   *resilience.Executor
	Logger     *slog.Logger
}

func New(baseURL, model string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		executor:   opts.Executor,
		logger:     logger,
	}
}

// Rerank scores documents against query. Scores come back keyed by document id
// in the order the service returned them.
func (c *Client) Rerank(ctx context.Context, query string, documents []domain.RerankDocument, topK int) ([]domain.RerankScore, error) {
	if len(documents) == 0 {
		return []domain.RerankScore{}, nil
	}

	candidates := make([]string, len(documents))
	for i, doc := range documents {
		candidates[i] = doc.Content
	}
	payload, err := json.Marshal(rerankRequest{Query: query, Candidates: candidates, Model: c.model, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	start := time.Now()
	resp, err := resilience.Call(ctx, c.executor, "reranker.rerank", func(ctx context.Context) (rerankResponse, error) {
		return c.post(ctx, payload)
	}, resilience.ClassifyHTTP)
	if err != nil {
		c.logger.WarnContext(ctx, "reranking_failed",
			slog.Int("candidate_count", len(documents)),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
			slog.String("error", err.Error()),
		)
		return nil, resilience.WrapTemporary("reranker rerank", err, resilience.ClassifyHTTP)
	}

	out := make([]domain.RerankScore, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("invalid rerank result index %d for %d candidates", r.Index, len(documents))
		}
		out = append(out, domain.RerankScore{ID: documents[r.Index].ID, Score: r.Score})
	}

	c.logger.DebugContext(ctx, "reranking_completed",
		slog.Int("result_count", len(out)),
		slog.String("model", resp.Model),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return out, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (rerankResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return rerankResponse{}, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rerankResponse{}, fmt.Errorf("reranker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rerankResponse{}, resilience.NewStatusError(service, "rerank", resp)
	}
	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return rerankResponse{}, fmt.Errorf("decode rerank response: %w", err)
	}
	return out, nil
}
