package plugin

import (
	"context"

	"github.com/ragworks/raggo/internal/model"
)

// The interfaces below are the typed contracts for each plugin kind. A
// plugin satisfies its kind either nominally (implementing the interface)
// or structurally (exposing the required methods with matching signatures);
// the registry checks method presence at registration time either way.
//
// Optional capabilities are separate interfaces detected by type assertion.
// A plugin never fails registration for lacking an optional method.

// Loader produces documents from a source path.
type Loader interface {
	Load(ctx context.Context, path string) ([]model.Document, error)
}

// Chunker lets a loader override the default document chunking strategy.
type Chunker interface {
	Chunk(ctx context.Context, doc model.Document) ([]model.Chunk, error)
}

// Embedder maps chunks to fixed-length vectors. All vectors produced by one
// embedder instance share identical length.
type Embedder interface {
	Embed(ctx context.Context, chunks []model.Chunk) ([]model.Vector, error)
	EmbedQuery(ctx context.Context, text string) (model.Vector, error)
}

// Dimensioner reports the vector length an embedder produces.
type Dimensioner interface {
	Dimensions() int
}

// Retriever persists embeddings and returns nearest neighbors for a query
// vector. Result ordering is producer-defined but must be stable for equal
// scores.
type Retriever interface {
	Store(ctx context.Context, embeddings []model.Embedding) error
	Retrieve(ctx context.Context, query model.Vector) ([]model.ScoredChunk, error)
}

// Deleter removes stored embeddings by id.
type Deleter interface {
	Delete(ctx context.Context, ids []string) error
}

// LLM generates a response for a prompt given retrieved context.
type LLM interface {
	Generate(ctx context.Context, prompt string, contextChunks []model.ScoredChunk) (string, error)
}

// StreamGenerator emits a response incrementally. The channel is closed when
// generation finishes; errors after the first token surface on the channel
// being closed early and the returned error of the final call.
type StreamGenerator interface {
	GenerateStream(ctx context.Context, prompt string, contextChunks []model.ScoredChunk) (<-chan string, error)
}

// Reranker reorders a candidate list given the original query.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []model.ScoredChunk) ([]model.ScoredChunk, error)
}

// Scorer scores a single chunk against a query.
type Scorer interface {
	Score(ctx context.Context, query string, chunk model.Chunk) (float64, error)
}
