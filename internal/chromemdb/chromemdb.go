package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"time"

	"evidence-rag/internal/embedding"
	"evidence-rag/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

const collectionName = "chunks"

// ErrNoChunks is returned when an index is built from nothing.
var ErrNoChunks = errors.New("no chunks to index")

// Index is an immutable in-memory vector index over one set of chunks.
// A rebuild produces a new Index; nothing mutates an Index after Build.
type Index struct {
	collection *chromem.Collection
	embedder   embeddings.Embedder
	timeout    time.Duration
	chunks     map[string]models.Chunk
}

// Build embeds the chunks and loads them into a fresh chromem collection.
func Build(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk, timeout time.Duration) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	vectors, err := embedding.GenerateEmbedding(ctx, embedder, chunks, timeout)
	if err != nil {
		return nil, err
	}

	db := chromem.NewDB()
	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedding.EmbedQuery(ctx, embedder, text, timeout)
	}
	c, err := db.CreateCollection(collectionName, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	idx := &Index{
		collection: c,
		embedder:   embedder,
		timeout:    timeout,
		chunks:     make(map[string]models.Chunk, len(chunks)),
	}
	seen := map[string]bool{}
	docs := make([]chromem.Document, 0, len(chunks))
	for i, chunk := range chunks {
		if _, dup := idx.chunks[chunk.ID]; dup {
			return nil, fmt.Errorf("duplicate chunk id %q", chunk.ID)
		}
		idx.chunks[chunk.ID] = chunk
		seen[chunk.Source] = true
		docs = append(docs, chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Content,
			Metadata:  CreateMetadata(chunk),
			Embedding: vectors[i],
		})
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}
	log.Info().Int("chunks", len(docs)).Int("sources", len(seen)).Msg("Built vector index")
	return idx, nil
}

// CreateMetadata stores where a chunk came from.
func CreateMetadata(chunk models.Chunk) map[string]string {
	return map[string]string{
		models.MetaSource:  chunk.Source,
		models.MetaPage:    strconv.Itoa(chunk.PageNumber),
		models.MetaChunkID: strconv.Itoa(chunk.ChunkID),
	}
}

// Search returns up to k chunks nearest to query, most similar first.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if n := idx.collection.Count(); k > n {
		k = n
	}

	queryEmbedding, err := embedding.EmbedQuery(ctx, idx.embedder, query, idx.timeout)
	if err != nil {
		return nil, err
	}

	results, err := idx.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	// chromem already orders by similarity; keep ties stable by id
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	out := make([]models.Chunk, 0, len(results))
	for _, r := range results {
		chunk, ok := idx.chunks[r.ID]
		if !ok {
			chunk = chunkFromResult(r)
		}
		out = append(out, chunk)
	}
	return out, nil
}

func chunkFromResult(r chromem.Result) models.Chunk {
	page, _ := strconv.Atoi(r.Metadata[models.MetaPage])
	chunkID, _ := strconv.Atoi(r.Metadata[models.MetaChunkID])
	return models.Chunk{
		ID:         r.ID,
		Content:    r.Content,
		Source:     r.Metadata[models.MetaSource],
		PageNumber: page,
		ChunkID:    chunkID,
	}
}
