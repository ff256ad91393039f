package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkShortDocumentYieldsSingleChunk(t *testing.T) {
	t.Parallel()

	doc := Document{ID: "d1", Content: "a short document"}
	chunks := doc.Chunk(ChunkOptions{})

	require.Len(t, chunks, 1)
	require.Equal(t, "a short document", chunks[0].Text)
	require.Equal(t, "d1", chunks[0].Metadata["documentId"])
	require.Equal(t, 0, chunks[0].Metadata["chunkIndex"])
}

func TestChunkEmptyDocumentYieldsNothing(t *testing.T) {
	t.Parallel()

	doc := Document{ID: "d1", Content: "   \n\t "}
	require.Empty(t, doc.Chunk(ChunkOptions{}))
}

func TestChunkPreservesOrderAndCoversContent(t *testing.T) {
	t.Parallel()

	words := strings.Repeat("lorem ipsum dolor sit amet ", 100)
	doc := Document{ID: "d2", Content: words}
	chunks := doc.Chunk(ChunkOptions{Size: 120, Overlap: 20})

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		require.Equal(t, i, c.Metadata["chunkIndex"])
		require.LessOrEqual(t, len(c.Text), 120)
		require.NotEmpty(t, c.Text)
	}

	// The last chunk must end where the document ends.
	last := chunks[len(chunks)-1].Text
	require.True(t, strings.HasSuffix(words, last))
}

func TestChunkInheritsDocumentMetadata(t *testing.T) {
	t.Parallel()

	doc := Document{
		ID:       "d3",
		Content:  "content",
		Metadata: map[string]any{"source": "/docs/guide.md"},
	}
	chunks := doc.Chunk(ChunkOptions{})

	require.Len(t, chunks, 1)
	require.Equal(t, "/docs/guide.md", chunks[0].Metadata["source"])
	// The document's own metadata map must not be mutated.
	require.NotContains(t, doc.Metadata, "chunkIndex")
}

func TestValidateDimensions(t *testing.T) {
	t.Parallel()

	ok := []Embedding{
		{Vector: Vector{1, 2, 3}},
		{Vector: Vector{4, 5, 6}},
	}
	require.NoError(t, ValidateDimensions(ok))

	bad := []Embedding{
		{Vector: Vector{1, 2, 3}},
		{Vector: Vector{4, 5}},
	}
	require.Error(t, ValidateDimensions(bad))

	require.NoError(t, ValidateDimensions(nil))
}
