// Package builtins ships the plugins bundled with the runtime: a
// filesystem loader, a deterministic local embedder, an in-memory cosine
// retriever, a lexical reranker, and an extractive answer generator. They
// make a pipeline runnable out of the box with no external services.
package builtins

import (
	"context"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ragworks/raggo/internal/model"
	"github.com/ragworks/raggo/internal/plugin"
)

// Register binds every builtin under its conventional name.
func Register(registry *plugin.Registry) error {
	bindings := []struct {
		kind plugin.Kind
		name string
		impl any
	}{
		{plugin.KindLoader, "files", NewFileLoader()},
		{plugin.KindEmbedder, "local", NewHashEmbedder(256)},
		{plugin.KindRetriever, "memory", NewMemoryRetriever(5)},
		{plugin.KindReranker, "lexical", NewLexicalReranker()},
		{plugin.KindLLM, "extractive", NewExtractiveLLM()},
	}
	for _, b := range bindings {
		if err := registry.Register(b.kind, b.name, b.impl); err != nil {
			return err
		}
	}
	return nil
}

// loadableExtensions are the file types the filesystem loader reads.
var loadableExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".markdown": {}, ".rst": {}, ".text": {},
}

// FileLoader reads plain-text documents from a file or directory.
type FileLoader struct{}

// NewFileLoader creates the filesystem loader.
func NewFileLoader() *FileLoader { return &FileLoader{} }

// Load reads the path. A directory is walked recursively; only known
// text extensions are picked up.
func (l *FileLoader) Load(ctx context.Context, path string) ([]model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		doc, err := readDocument(path)
		if err != nil {
			return nil, err
		}
		return []model.Document{doc}, nil
	}

	var docs []model.Document
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := loadableExtensions[strings.ToLower(filepath.Ext(p))]; !ok {
			return nil
		}
		doc, err := readDocument(p)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func readDocument(path string) (model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Document{}, err
	}
	return model.Document{
		ID:      path,
		Content: string(data),
		Metadata: map[string]any{
			"source": path,
			"bytes":  len(data),
		},
	}, nil
}

// HashEmbedder produces deterministic vectors from token hashes. It is
// not a semantic model; it exists so pipelines run without credentials
// and so tests get stable vectors.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates an embedder producing vectors of the given
// dimensionality.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions reports the vector length.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Embed maps each chunk to a normalized bag-of-hashed-tokens vector.
func (e *HashEmbedder) Embed(ctx context.Context, chunks []model.Chunk) ([]model.Vector, error) {
	out := make([]model.Vector, len(chunks))
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vectorize(c.Text)
	}
	return out, nil
}

// EmbedQuery embeds a query string the same way chunks are embedded.
func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) (model.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vectorize(text), nil
}

func (e *HashEmbedder) vectorize(text string) model.Vector {
	vec := make(model.Vector, e.dims)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%uint32(e.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

// MemoryRetriever keeps embeddings in memory and retrieves by cosine
// similarity.
type MemoryRetriever struct {
	mu     sync.RWMutex
	stored []model.Embedding
	topK   int
}

// NewMemoryRetriever creates a retriever returning at most topK results.
func NewMemoryRetriever(topK int) *MemoryRetriever {
	if topK <= 0 {
		topK = 5
	}
	return &MemoryRetriever{topK: topK}
}

// Store appends embeddings.
func (r *MemoryRetriever) Store(ctx context.Context, embeddings []model.Embedding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.stored = append(r.stored, embeddings...)
	r.mu.Unlock()
	return nil
}

// Retrieve returns the topK nearest stored chunks by cosine similarity,
// highest first. Ties keep insertion order.
func (r *MemoryRetriever) Retrieve(ctx context.Context, query model.Vector) ([]model.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	scored := make([]model.ScoredChunk, 0, len(r.stored))
	for _, e := range r.stored {
		scored = append(scored, model.ScoredChunk{Chunk: e.Chunk, Score: cosine(query, e.Vector)})
	}
	r.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}
	return scored, nil
}

// Delete removes stored embeddings by id.
func (r *MemoryRetriever) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	r.mu.Lock()
	kept := r.stored[:0]
	for _, e := range r.stored {
		if _, gone := drop[e.ID]; !gone {
			kept = append(kept, e)
		}
	}
	r.stored = kept
	r.mu.Unlock()
	return nil
}

func cosine(a, b model.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// LexicalReranker reorders candidates by query-term overlap.
type LexicalReranker struct{}

// NewLexicalReranker creates the lexical reranker.
func NewLexicalReranker() *LexicalReranker { return &LexicalReranker{} }

// Rerank sorts chunks by their overlap score, highest first.
func (LexicalReranker) Rerank(ctx context.Context, query string, chunks []model.ScoredChunk) ([]model.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]model.ScoredChunk, len(chunks))
	copy(out, chunks)
	for i := range out {
		out[i].Score = overlap(query, out[i].Chunk.Text)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Score reports the overlap score for a single chunk.
func (LexicalReranker) Score(ctx context.Context, query string, chunk model.Chunk) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return overlap(query, chunk.Text), nil
}

// overlap is the fraction of query terms present in the text.
func overlap(query, text string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	present := make(map[string]struct{})
	for _, t := range tokenize(text) {
		present[t] = struct{}{}
	}
	hits := 0
	for _, t := range queryTokens {
		if _, ok := present[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// ExtractiveLLM answers by quoting the best-scoring retrieved chunks. It
// is the zero-dependency stand-in for a hosted model.
type ExtractiveLLM struct {
	maxChunks int
}

// NewExtractiveLLM creates the extractive generator.
func NewExtractiveLLM() *ExtractiveLLM { return &ExtractiveLLM{maxChunks: 3} }

// Generate concatenates the highest-scored context chunks into an
// extractive answer. Without context it says so rather than inventing.
func (l *ExtractiveLLM) Generate(ctx context.Context, prompt string, contextChunks []model.ScoredChunk) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(contextChunks) == 0 {
		return "No relevant context was found for: " + prompt, nil
	}

	limit := l.maxChunks
	if len(contextChunks) < limit {
		limit = len(contextChunks)
	}
	var b strings.Builder
	for i := 0; i < limit; i++ {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(contextChunks[i].Chunk.Text))
	}
	return b.String(), nil
}

// GenerateStream emits the extractive answer in sentence-sized pieces.
func (l *ExtractiveLLM) GenerateStream(ctx context.Context, prompt string, contextChunks []model.ScoredChunk) (<-chan string, error) {
	answer, err := l.Generate(ctx, prompt, contextChunks)
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for _, piece := range strings.SplitAfter(answer, ". ") {
			if piece == "" {
				continue
			}
			select {
			case out <- piece:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
