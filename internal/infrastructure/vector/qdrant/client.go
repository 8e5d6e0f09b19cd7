package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

const service = "qdrant"

// Client issues point searches against the Qdrant REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	APIKey     string
	HTTPClient *http.Client
	Executor   *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		executor:   opts.Executor,
	}
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) search(ctx context.Context, collection, operation string, body map[string]any) ([]scoredPoint, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, operation, fmt.Errorf("collection is required"))
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", operation, err)
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, collection)

	points, err := resilience.Call(ctx, c.executor, "qdrant."+operation, func(ctx context.Context) ([]scoredPoint, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("qdrant %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return nil, resilience.NewStatusError(service, operation, resp)
		}

		var searchResp struct {
			Result []scoredPoint `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", operation, err)
		}
		return searchResp.Result, nil
	}, resilience.ClassifyHTTP)
	if err != nil {
		return nil, resilience.WrapTemporary("qdrant "+operation, err, resilience.ClassifyHTTP)
	}
	return points, nil
}

func toSearchResults(points []scoredPoint, origin domain.SearchOrigin) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(points))
	for _, p := range points {
		out = append(out, domain.SearchResult{
			ID:       pointID(p),
			RawScore: p.Score,
			Content:  contentOf(p.Payload),
			Payload:  p.Payload,
			Origin:   origin,
		})
	}
	return out
}

// pointID prefers the chunk id stored in the payload so both searchers agree
// on identity for the same chunk.
func pointID(p scoredPoint) string {
	if id := getStringPayload(p.Payload, "chunk_id"); id != "" {
		return id
	}
	switch v := p.ID.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func contentOf(payload map[string]any) string {
	for _, key := range []string{"text", "content"} {
		if s := getStringPayload(payload, key); s != "" {
			return s
		}
	}
	return ""
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// VectorSearcher runs dense similarity search.
type VectorSearcher struct {
	client     *Client
	vectorName string
}

// NewVectorSearcher searches the unnamed vector when vectorName is empty.
func NewVectorSearcher(client *Client, vectorName string) *VectorSearcher {
	return &VectorSearcher{client: client, vectorName: vectorName}
}

func (s *VectorSearcher) Search(ctx context.Context, query domain.SearchQuery) ([]domain.SearchResult, error) {
	if len(query.QueryVector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant dense search", fmt.Errorf("query vector is empty"))
	}
	var vector any = query.QueryVector
	if s.vectorName != "" {
		vector = map[string]any{"name": s.vectorName, "vector": query.QueryVector}
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        limitOrDefault(query.Limit),
		"with_payload": true,
	}
	if filter := buildFilter(query.Filter); filter != nil {
		body["filter"] = filter
	}

	points, err := s.client.search(ctx, query.Collection, "dense_search", body)
	if err != nil {
		return nil, err
	}
	return toSearchResults(points, domain.OriginVector), nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}

// Ping checks Qdrant readiness through /readyz.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resilience.NewStatusError(service, "ping", resp)
	}
	return nil
}
