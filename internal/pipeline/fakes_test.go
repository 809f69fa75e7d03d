package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/ragsql/ragsql/internal/embedding"
	"github.com/ragsql/ragsql/internal/llm"
	"github.com/ragsql/ragsql/internal/schema"
	"github.com/ragsql/ragsql/internal/storage"
	"github.com/ragsql/ragsql/internal/target"
	"github.com/ragsql/ragsql/internal/vectorstore"
	"github.com/ragsql/ragsql/internal/vectorstore/memory"
)

// wordEmbedder hashes words into a bag-of-words vector so that texts
// sharing words are similar.
type wordEmbedder struct {
	err      error
	maxWords int
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.maxWords > 0 && len(strings.Fields(text)) > e.maxWords {
		return nil, embedding.ErrInputTooLong
	}
	return bagOfWords(text), nil
}

func (e *wordEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vector
	}
	return out, nil
}

func bagOfWords(text string) []float32 {
	vector := make([]float32, vectorstore.Dimensions)
	vector[0] = 1
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	}) {
		word = strings.TrimSuffix(word, "s")
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vector[1+int(h.Sum32()%uint32(vectorstore.Dimensions-1))]++
	}
	normalized, _ := embedding.Normalize(vector)
	return normalized
}

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (llm.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return llm.Result{}, g.err
	}
	return llm.Result{Text: g.text, Provider: "fake", Model: "fake-sql"}, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fakeExecutor struct {
	mu     sync.Mutex
	result target.Result
	err    error
	seen   []string
}

func (e *fakeExecutor) Execute(_ context.Context, sql string) (target.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, sql)
	if e.err != nil {
		return target.Result{}, e.err
	}
	return e.result, nil
}

func (e *fakeExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

type fakeIntrospector struct {
	doc        schema.Document
	err        error
	schemaName string
}

func (i *fakeIntrospector) Introspect(_ context.Context, schemaName string) (schema.Document, error) {
	i.schemaName = schemaName
	return i.doc, i.err
}

type fakeDocuments struct {
	objects map[string]string
}

func (d *fakeDocuments) Get(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := d.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (d *fakeDocuments) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	body, ok := d.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}

func (d *fakeDocuments) List(context.Context, string) ([]storage.ObjectInfo, error) {
	out := make([]storage.ObjectInfo, 0, len(d.objects))
	for key, body := range d.objects {
		out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(body))})
	}
	return out, nil
}

type fixture struct {
	service   *Service
	store     *memory.Store
	generator *fakeGenerator
	executor  *fakeExecutor
}

func newFixture(t *testing.T, generator llm.Provider) fixture {
	t.Helper()
	store := memory.New()
	executor := &fakeExecutor{}
	fake, _ := generator.(*fakeGenerator)
	service, err := New(Service{
		Embedder:  &wordEmbedder{},
		Store:     store,
		Generator: generator,
		Executor:  executor,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return fixture{service: service, store: store, generator: fake, executor: executor}
}

func usersDocument() schema.Document {
	return schema.Document{{
		Schema: "public",
		Name:   "users",
		Columns: []schema.Column{
			{Name: "id", DataType: "integer", IsNullable: "NO"},
			{Name: "name", DataType: "text"},
			{Name: "email", DataType: "text"},
		},
	}}
}

func shopDocument() schema.Document {
	return schema.Document{
		{Schema: "public", Name: "users", Columns: []schema.Column{{Name: "id", DataType: "integer"}, {Name: "email", DataType: "text"}}},
		{Schema: "public", Name: "orders", Columns: []schema.Column{{Name: "id", DataType: "integer"}, {Name: "total", DataType: "numeric"}}},
		{Schema: "public", Name: "products", Columns: []schema.Column{{Name: "sku", DataType: "text"}, {Name: "price", DataType: "numeric"}}},
	}
}

var errBoom = errors.New("boom")
