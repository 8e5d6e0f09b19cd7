package qdrant

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	queryBM25K     = 1.2
	maxSparseTerms = 256
)

// SparseSearcher runs lexical search over a BM25-style sparse vector stored
// next to the dense one.
type SparseSearcher struct {
	client     *Client
	vectorName string
}

func NewSparseSearcher(client *Client, vectorName string) *SparseSearcher {
	if strings.TrimSpace(vectorName) == "" {
		vectorName = "text-sparse"
	}
	return &SparseSearcher{client: client, vectorName: vectorName}
}

func (s *SparseSearcher) Search(ctx context.Context, query domain.SearchQuery) ([]domain.SearchResult, error) {
	vector := encodeSparseQuery(query.QueryText)
	if len(vector.Indices) == 0 {
		return []domain.SearchResult{}, nil
	}
	body := map[string]any{
		"vector":       map[string]any{"name": s.vectorName, "vector": vector},
		"limit":        limitOrDefault(query.Limit),
		"with_payload": true,
	}
	if filter := buildFilter(query.Filter); filter != nil {
		body["filter"] = filter
	}

	points, err := s.client.search(ctx, query.Collection, "sparse_search", body)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	return toSearchResults(points, domain.OriginKeyword), nil
}

func encodeSparseQuery(query string) sparseVector {
	termFreq := make(map[uint32]float64, 32)
	for _, token := range tokenizeAlphaNum(query) {
		termFreq[hashToken(token)]++
	}
	return termFreqToSparse(termFreq, queryBM25K)
}

func termFreqToSparse(tf map[uint32]float64, k float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > maxSparseTerms {
		indices = indices[:maxSparseTerms]
	}

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		tfValue := tf[idx]
		weight := (tfValue * (k + 1.0)) / (tfValue + k)
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		values = append(values, float32(weight))
	}
	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	if sum := h.Sum32(); sum != 0 {
		return sum
	}
	return 1
}

// tokenizeAlphaNum lowercases and splits on anything that is not a letter or digit.
func tokenizeAlphaNum(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
