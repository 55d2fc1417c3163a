package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"rag-agent/internal/domain"
)

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(" ")
	require.ErrorContains(t, err, "dsn")
}

func TestNew_NilDB(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestToModels(t *testing.T) {
	chunks := []domain.Chunk{
		{ID: "doc:0", DocumentID: "doc", Index: 0, Text: "first"},
		{ID: "doc:1", DocumentID: "doc", Index: 1, Text: "second"},
	}
	models := toModels(chunks, [][]float32{{1, 0}, {0, 1}})
	require.Len(t, models, 2)
	require.Equal(t, "doc:1", models[1].ID)
	require.Equal(t, 1, models[1].ChunkIndex)
	require.Equal(t, []float32{0, 1}, models[1].Embedding.Slice())
}

func TestToPassages_KeepsOrder(t *testing.T) {
	rows := []scoredChunk{
		{chunkModel: chunkModel{ID: "a", Content: "best"}, Similarity: 0.9},
		{chunkModel: chunkModel{ID: "b", Content: "next"}, Similarity: 0.7},
	}
	out := toPassages(rows)
	require.Equal(t, "best", out[0].Chunk.Text)
	require.InDelta(t, 0.7, out[1].Score, 1e-9)
}

// TestStore_Postgres runs against a real database when PGVECTOR_TEST_DSN is set.
func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("PGVECTOR_TEST_DSN")
	if dsn == "" {
		t.Skip("PGVECTOR_TEST_DSN not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Ensure(ctx, 3))
	require.NoError(t, s.db.Exec("DELETE FROM kb_chunks WHERE document_id = ?", "pgtest").Error)

	chunks := []domain.Chunk{
		{ID: "pgtest:0", DocumentID: "pgtest", Index: 0, Text: "north"},
		{ID: "pgtest:1", DocumentID: "pgtest", Index: 1, Text: "east"},
	}
	require.NoError(t, s.Upsert(ctx, chunks, [][]float32{{0, 1, 0}, {1, 0, 0}}))

	out, err := s.Search(ctx, []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "east", out[0].Chunk.Text)
}
