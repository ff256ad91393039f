// Package model defines the data types that flow through the RAG pipeline.
// Documents, chunks and vectors are transient per ingest invocation; none of
// these types owns goroutines or background state.
package model

import (
	"fmt"
	"strings"
)

// Vector is a fixed-length sequence of 32-bit floats produced by an
// embedder. All vectors from a given embedder instance share one length.
type Vector []float32

// Document is the unit a loader produces. Immutable after load.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChunkOptions controls the default chunking strategy used when a loader
// does not implement its own chunker.
type ChunkOptions struct {
	// Size is the target chunk length in characters.
	Size int
	// Overlap is the number of characters repeated between adjacent chunks.
	Overlap int
}

const (
	defaultChunkSize    = 500
	defaultChunkOverlap = 50
)

// Chunk splits the document content into an ordered sequence of chunks.
// Splits prefer whitespace boundaries near the target size so words are not
// cut mid-way. Each chunk inherits the document metadata plus its index and
// the originating document id.
func (d Document) Chunk(opts ChunkOptions) []Chunk {
	size := opts.Size
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := opts.Overlap
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = 0
		}
	}

	content := d.Content
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if len(content) <= size {
		return []Chunk{d.newChunk(content, 0)}
	}

	var chunks []Chunk
	start := 0
	index := 0
	for start < len(content) {
		end := start + size
		if end >= len(content) {
			chunks = append(chunks, d.newChunk(content[start:], index))
			break
		}

		// Back up to the nearest whitespace within the final quarter of
		// the window; a hard cut is acceptable when none exists.
		cut := end
		for i := end; i > start+size*3/4; i-- {
			if content[i-1] == ' ' || content[i-1] == '\n' || content[i-1] == '\t' {
				cut = i
				break
			}
		}

		chunks = append(chunks, d.newChunk(content[start:cut], index))
		index++
		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

func (d Document) newChunk(text string, index int) Chunk {
	meta := make(map[string]any, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	meta["documentId"] = d.ID
	meta["chunkIndex"] = index
	return Chunk{Text: text, Metadata: meta}
}

// Chunk is a bounded text segment produced from a Document. Chunks form an
// ordered sequence within their document.
type Chunk struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ScoredChunk pairs a chunk with a relevance score. Higher means more
// relevant; producers must keep ordering stable for equal scores.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Embedding pairs a chunk with the vector an embedder produced for it.
// Retrievers persist embeddings and return scored chunks for queries.
type Embedding struct {
	ID     string `json:"id,omitempty"`
	Chunk  Chunk  `json:"chunk"`
	Vector Vector `json:"vector"`
}

// Validate reports dimension mismatches across a set of embeddings.
func ValidateDimensions(embeddings []Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	want := len(embeddings[0].Vector)
	for i, e := range embeddings[1:] {
		if len(e.Vector) != want {
			return fmt.Errorf("embedding %d has dimension %d, expected %d", i+1, len(e.Vector), want)
		}
	}
	return nil
}
