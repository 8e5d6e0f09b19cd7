package crossencoder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

func TestRerankMapsIndicesToIDs(t *testing.T) {
	var captured rerankRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"results":[{"index":1,"score":0.92},{"index":0,"score":0.15}],"model":"bge"}`))
	}))
	defer server.Close()

	client := New(server.URL, "bge", Options{})
	scores, err := client.Rerank(context.Background(), "revenue", []domain.RerankDocument{
		{ID: "a", Content: "alpha"},
		{ID: "b", Content: "beta"},
	}, 2)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}

	if len(scores) != 2 || scores[0].ID != "b" || scores[0].Score != 0.92 || scores[1].ID != "a" {
		t.Fatalf("unexpected scores: %+v", scores)
	}
	if captured.Query != "revenue" || captured.TopK != 2 || captured.Model != "bge" {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if strings.Join(captured.Candidates, ",") != "alpha,beta" {
		t.Fatalf("candidates = %v", captured.Candidates)
	}
}

func TestRerankRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":5,"score":0.5}]}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "", Options{}).Rerank(context.Background(), "q", []domain.RerankDocument{{ID: "a"}}, 1)
	if err == nil || !strings.Contains(err.Error(), "invalid rerank result index") {
		t.Fatalf("expected index error, got %v", err)
	}
}

func TestRerankServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "", Options{}).Rerank(context.Background(), "q", []domain.RerankDocument{{ID: "a"}}, 1)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestRerankEmptyInputSkipsCall(t *testing.T) {
	scores, err := New("http://unused.invalid", "", Options{}).Rerank(context.Background(), "q", nil, 5)
	if err != nil || len(scores) != 0 {
		t.Fatalf("Rerank() = %v, %v", scores, err)
	}
}
