package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

func collectChunks(t *testing.T, ch <-chan domain.GenerationChunk) (string, error) {
	t.Helper()
	var b strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return b.String(), chunk.Err
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), nil
}

func TestGeneratorStreamsNDJSON(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"Revenue ","done":false}
{"response":"grew [1].","done":false}
{"response":"","done":true}
`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "gen", "embed", Options{}))
	contexts := []domain.FusedResult{{SearchResult: domain.SearchResult{ID: "a", Content: "chunk text"}}}
	ch, err := gen.GenerateStream(context.Background(), "question?", contexts)
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	text, err := collectChunks(t, ch)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if text != "Revenue grew [1]." {
		t.Fatalf("text = %q", text)
	}
	if payload["stream"] != true || payload["model"] != "gen" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if p, _ := payload["prompt"].(string); !strings.Contains(p, "question?") || !strings.Contains(p, "chunk text") {
		t.Fatalf("unexpected prompt: %v", payload["prompt"])
	}
}

func TestGeneratorReportsStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"partial","done":false}
{"error":"model crashed"}
`))
	}))
	defer server.Close()

	ch, err := NewGenerator(New(server.URL, "gen", "embed", Options{})).GenerateStream(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	text, err := collectChunks(t, ch)
	if text != "partial" || err == nil || !strings.Contains(err.Error(), "model crashed") {
		t.Fatalf("got %q, %v", text, err)
	}
}

func TestGeneratorTruncatedStreamIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"half","done":false}` + "\n"))
	}))
	defer server.Close()

	ch, err := NewGenerator(New(server.URL, "gen", "embed", Options{})).GenerateStream(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if _, err := collectChunks(t, ch); err == nil {
		t.Fatalf("expected error for stream without done")
	}
}

func TestGeneratorStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for {
			if _, err := w.Write([]byte(`{"response":"x","done":false}` + "\n")); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewGenerator(New(server.URL, "gen", "embed", Options{})).GenerateStream(ctx, "q", nil)
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not close after cancel")
	}
}

func TestGenerateStreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewGenerator(New(server.URL, "gen", "embed", Options{})).GenerateStream(context.Background(), "q", nil)
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected status error with body, got %v", err)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", Options{}))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("502 should be temporary: %v", err)
	}
}

func TestEmbedRetriesThroughExecutor(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	cfg := resilience.DefaultConfig()
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = time.Millisecond
	client := New(server.URL, "gen", "embed", Options{Executor: resilience.NewExecutor(cfg, nil)})

	vector, err := NewEmbedder(client).EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vector) != 3 || calls != 2 {
		t.Fatalf("vector=%v calls=%d", vector, calls)
	}
}
