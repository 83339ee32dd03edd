// Package vectorstore manages per-query-engine document indexes: chunk
// embedding with index-base bookkeeping, deploy/delete lifecycle, and
// similarity search with optional metadata filters.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// NumMatchResults is how many chunk ids a similarity search returns.
const NumMatchResults = 5

// MaxBatchChunks caps the number of text chunks embedded per provider call,
// bounding memory and API throttling during ingest.
const MaxBatchChunks = 1000

// ErrIndexingFailure is returned when any chunk in an ingest batch fails to
// embed. The batch is all-or-nothing; ids assigned to prior batches stay
// valid so ingest can resume at the failure point.
var ErrIndexingFailure = errors.New("indexing failure")

// Embedder is the slice of the generation layer the store needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string, modelID string) (mask []bool, vectors [][]float32, err error)
	EmbedMultimodal(ctx context.Context, text, modelID, fileName string, data []byte) ([]float32, error)
}

// MultimodalChunk is one unit of a multimodal document: text plus an
// optional image or video payload.
type MultimodalChunk struct {
	Text      string
	ImageName string
	Image     []byte
	VideoName string
	Video     []byte
}

// embedMultimodalChunk embeds every modality present in the chunk and
// returns its stored vector, preferring the richest modality. A missing
// vector for any present modality fails the whole ingest call.
func embedMultimodalChunk(ctx context.Context, e Embedder, modelID string, c MultimodalChunk) ([]float32, error) {
	var chosen []float32

	if len(c.Image) > 0 {
		vec, err := e.EmbedMultimodal(ctx, c.Text, modelID, c.ImageName, c.Image)
		if err != nil {
			return nil, fmt.Errorf("image %s: %w: %v", c.ImageName, ErrIndexingFailure, err)
		}
		chosen = vec
	}
	if len(c.Video) > 0 {
		vec, err := e.EmbedMultimodal(ctx, c.Text, modelID, c.VideoName, c.Video)
		if err != nil {
			return nil, fmt.Errorf("video %s: %w: %v", c.VideoName, ErrIndexingFailure, err)
		}
		if chosen == nil {
			chosen = vec
		}
	}
	if chosen == nil {
		vec, err := e.EmbedMultimodal(ctx, c.Text, modelID, "", nil)
		if err != nil {
			return nil, fmt.Errorf("text: %w: %v", ErrIndexingFailure, err)
		}
		chosen = vec
	}
	if len(chosen) == 0 {
		return nil, fmt.Errorf("empty embedding: %w", ErrIndexingFailure)
	}
	return chosen, nil
}

// Store is the per-engine index backend. Implementations exist for a
// managed nearest-neighbor index service and for the local SQLite vector
// table.
type Store interface {
	// InitIndex prepares backing storage for a fresh build. Idempotent.
	InitIndex(ctx context.Context) error
	// IndexDocument embeds the chunks in batches, assigns contiguous ids
	// starting at indexBase, persists them, and returns the new base.
	// metadata, when present, carries one record per chunk.
	IndexDocument(ctx context.Context, docName string, chunks []string, indexBase int64, metadata []map[string]any) (int64, error)
	// IndexDocumentMultimodal embeds one chunk per call and otherwise
	// behaves like IndexDocument.
	IndexDocumentMultimodal(ctx context.Context, docName string, chunks []MultimodalChunk, indexBase int64) (int64, error)
	// Deploy publishes the backing index and persists the resulting
	// identifiers on the query engine. A no-op for backends whose rows are
	// immediately queryable.
	Deploy(ctx context.Context) error
	// Delete tears down the backing index and its stored vectors.
	Delete(ctx context.Context) error
	// SimilaritySearch returns up to NumMatchResults chunk ids ranked by
	// similarity, honoring an optional parsed metadata filter.
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, filter Expr) ([]int64, error)
}
