package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

const service = "ollama"

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	HTTPClient *http.Client
	Executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Streams are bounded by the caller's context, not a client timeout.
		httpClient = &http.Client{Transport: http.DefaultTransport}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: httpClient,
		executor:   opts.Executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// Generator streams answers from /api/generate.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

type generateLine struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (g *Generator) GenerateStream(ctx context.Context, query string, contexts []domain.FusedResult) (<-chan domain.GenerationChunk, error) {
	body, err := g.client.openStream(ctx, "/api/generate", map[string]any{
		"model":  g.client.genModel,
		"system": prompt.System,
		"prompt": prompt.Answer(query, contexts),
		"stream": true,
	}, "generate")
	if err != nil {
		return nil, err
	}

	out := make(chan domain.GenerationChunk)
	go func() {
		defer close(out)
		defer body.Close()

		send := func(chunk domain.GenerationChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		dec := json.NewDecoder(body)
		for {
			var line generateLine
			if err := dec.Decode(&line); err != nil {
				if errors.Is(err, io.EOF) {
					send(domain.GenerationChunk{Err: fmt.Errorf("ollama stream ended before done")})
					return
				}
				if ctx.Err() != nil {
					return
				}
				send(domain.GenerationChunk{Err: fmt.Errorf("decode ollama stream: %w", err)})
				return
			}
			if line.Error != "" {
				send(domain.GenerationChunk{Err: fmt.Errorf("ollama generate: %s", line.Error)})
				return
			}
			if line.Response != "" && !send(domain.GenerationChunk{Text: line.Response}) {
				return
			}
			if line.Done {
				return
			}
		}
	}()
	return out, nil
}

// healthTimeout bounds the readiness check independently of the stream client.
const healthTimeout = 3 * time.Second

// Ping checks that the Ollama server answers /api/tags.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resilience.NewStatusError(service, "ping", resp)
	}
	return nil
}
