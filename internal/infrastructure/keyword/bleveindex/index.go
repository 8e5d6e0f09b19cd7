// Package bleveindex serves keyword search from local bleve full-text indexes,
// one per collection.
package bleveindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

var (
	errReadOnly = errors.New("keyword index is read-only")
	errNoIndex  = errors.New("collection has no keyword index")
)

const (
	fieldContent = "content"
	fieldTitle   = "title"
	fieldACL     = "acl"
)

// Document is one indexed chunk. Attributes are matched exactly by access filters.
type Document struct {
	ID         string
	Title      string
	Content    string
	Attributes map[string][]string
}

type indexedDocument struct {
	Content string   `json:"content"`
	Title   string   `json:"title"`
	ACL     []string `json:"acl"`
}

// Index opens collections lazily. An empty dir keeps every collection in memory.
type Index struct {
	dir      string
	readOnly bool

	mu      sync.Mutex
	indexes map[string]bleve.Index
}

func Open(dir string) (*Index, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create keyword index dir: %w", err)
		}
	}
	return &Index{dir: dir, indexes: make(map[string]bleve.Index)}, nil
}

// OpenReadOnly serves indexes built ahead of time under dir. Collections
// without an index directory search as empty and Add is rejected.
func OpenReadOnly(dir string) (*Index, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("keyword index dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("keyword index dir %s is not a directory", dir)
	}
	return &Index{dir: dir, readOnly: true, indexes: make(map[string]bleve.Index)}, nil
}

func NewInMemory() *Index {
	return &Index{indexes: make(map[string]bleve.Index)}
}

func (i *Index) Add(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if i.readOnly {
		return domain.WrapError(domain.ErrInvalidInput, "bleve add", errReadOnly)
	}
	idx, err := i.collection(collection)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "bleve add", errors.New("document id is required"))
		}
		if err := batch.Index(doc.ID, indexedDocument{
			Content: doc.Content,
			Title:   doc.Title,
			ACL:     aclTerms(doc.Attributes),
		}); err != nil {
			return fmt.Errorf("batch document %s: %w", doc.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("index batch for %s: %w", collection, err)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResult, error) {
	text := strings.TrimSpace(q.QueryText)
	if text == "" {
		return []domain.SearchResult{}, nil
	}
	idx, err := i.collection(q.Collection)
	if errors.Is(err, errNoIndex) {
		return []domain.SearchResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(buildQuery(text, q.Filter), limit, 0, false)
	req.Fields = []string{fieldContent, fieldTitle}

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search %s: %w", q.Collection, err)
	}

	out := make([]domain.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		content, _ := hit.Fields[fieldContent].(string)
		payload := map[string]any{}
		if title, ok := hit.Fields[fieldTitle].(string); ok && title != "" {
			payload[fieldTitle] = title
		}
		out = append(out, domain.SearchResult{
			ID:       hit.ID,
			RawScore: hit.Score,
			Content:  content,
			Payload:  payload,
			Origin:   domain.OriginKeyword,
		})
	}
	return out, nil
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var errs []error
	for name, idx := range i.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	i.indexes = make(map[string]bleve.Index)
	return errors.Join(errs...)
}

func (i *Index) collection(name string) (bleve.Index, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, domain.WrapError(domain.ErrInvalidInput, "bleve collection", fmt.Errorf("invalid collection name %q", name))
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if idx, ok := i.indexes[name]; ok {
		return idx, nil
	}

	idx, err := i.openOrCreate(name)
	if err != nil {
		return nil, err
	}
	i.indexes[name] = idx
	return idx, nil
}

func (i *Index) openOrCreate(name string) (bleve.Index, error) {
	if i.dir == "" {
		idx, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory index %s: %w", name, err)
		}
		return idx, nil
	}

	path := filepath.Join(i.dir, name+".bleve")
	if i.readOnly {
		idx, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return nil, errNoIndex
		}
		if err != nil {
			return nil, fmt.Errorf("open keyword index %s: %w", name, err)
		}
		return idx, nil
	}
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, newMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index %s: %w", name, err)
	}
	return idx, nil
}

func newMapping() *mapping.IndexMappingImpl {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	acl := bleve.NewKeywordFieldMapping()
	acl.Analyzer = keyword.Name
	acl.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldContent, text)
	doc.AddFieldMappingsAt(fieldTitle, text)
	doc.AddFieldMappingsAt(fieldACL, acl)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// buildQuery matches text against content and title and applies the access
// filter: every Must clause and at least one Should clause.
func buildQuery(text string, filter domain.Filter) query.Query {
	content := bleve.NewMatchQuery(text)
	content.SetField(fieldContent)
	title := bleve.NewMatchQuery(text)
	title.SetField(fieldTitle)
	title.SetBoost(0.5)

	b := bleve.NewBooleanQuery()
	b.AddMust(bleve.NewDisjunctionQuery(content, title))
	for _, clause := range filter.Must {
		b.AddMust(clauseQuery(clause))
	}
	if len(filter.Should) > 0 {
		anyOf := make([]query.Query, 0, len(filter.Should))
		for _, clause := range filter.Should {
			anyOf = append(anyOf, clauseQuery(clause))
		}
		b.AddMust(bleve.NewDisjunctionQuery(anyOf...))
	}
	return b
}

func clauseQuery(clause domain.FilterClause) query.Query {
	terms := make([]query.Query, 0, len(clause.Values))
	for _, value := range clause.Values {
		term := bleve.NewTermQuery(aclTerm(clause.Key, value))
		term.SetField(fieldACL)
		terms = append(terms, term)
	}
	return bleve.NewDisjunctionQuery(terms...)
}

func aclTerms(attributes map[string][]string) []string {
	var out []string
	for key, values := range attributes {
		for _, value := range values {
			out = append(out, aclTerm(key, value))
		}
	}
	return out
}

func aclTerm(key, value string) string {
	return key + "=" + value
}
