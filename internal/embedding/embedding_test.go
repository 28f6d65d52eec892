package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"evidence-rag/internal/config"
	"evidence-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dropOne  bool
	err      error
	deadline bool
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	_, f.deadline = ctx.Deadline()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	if f.dropOne {
		out = out[1:]
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	_, f.deadline = ctx.Deadline()
	return []float32{float32(len(text)), 1}, nil
}

func TestGenerateEmbedding(t *testing.T) {
	chunks := []models.Chunk{{Content: "abc"}, {Content: "hello"}}

	t.Run("vectors in chunk order", func(t *testing.T) {
		emb := &fakeEmbedder{}
		vectors, err := GenerateEmbedding(context.Background(), emb, chunks, time.Second)
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.Equal(t, float32(3), vectors[0][0])
		assert.Equal(t, float32(5), vectors[1][0])
		assert.True(t, emb.deadline)
	})

	t.Run("empty input", func(t *testing.T) {
		vectors, err := GenerateEmbedding(context.Background(), &fakeEmbedder{}, nil, 0)
		require.NoError(t, err)
		assert.Nil(t, vectors)
	})

	t.Run("count mismatch", func(t *testing.T) {
		_, err := GenerateEmbedding(context.Background(), &fakeEmbedder{dropOne: true}, chunks, 0)
		assert.ErrorContains(t, err, "1 vectors for 2 chunks")
	})

	t.Run("backend error", func(t *testing.T) {
		boom := errors.New("429 too many requests")
		_, err := GenerateEmbedding(context.Background(), &fakeEmbedder{err: boom}, chunks, 0)
		assert.ErrorIs(t, err, boom)
	})
}

func TestEmbedQuery(t *testing.T) {
	emb := &fakeEmbedder{}
	v, err := EmbedQuery(context.Background(), emb, "what is my salary", 0)
	require.NoError(t, err)
	assert.Equal(t, float32(17), v[0])
	assert.False(t, emb.deadline)
}

func TestNewEmbedder(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Key = "sk-test"

	emb, err := NewEmbedder(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, emb)
}
