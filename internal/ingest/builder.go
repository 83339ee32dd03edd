package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gantryml/gantry/internal/storage"
	"github.com/gantryml/gantry/internal/vectorstore"
	"golang.org/x/sync/errgroup"
)

// Document is one uploaded file queued for indexing. The name's extension
// selects the extraction format.
type Document struct {
	Name    string
	Content []byte
}

// StoreFactory returns the vector store backend for an engine. The backend
// column on the engine record decides between the managed index and the
// local vector table.
type StoreFactory func(eng storage.QueryEngine) vectorstore.Store

// Builder runs index builds: extract, chunk, embed, persist. Concurrent
// builds against the same engine are unsupported; the job queue serializes
// them in practice.
type Builder struct {
	store   *storage.Store
	stores  StoreFactory
	size    int
	overlap int
	logger  *slog.Logger
}

// NewBuilder creates a Builder with the default chunking windows.
func NewBuilder(store *storage.Store, stores StoreFactory, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		store:   store,
		stores:  stores,
		size:    defaultChunkWords,
		overlap: defaultOverlapWords,
		logger:  logger,
	}
}

// BuildIndex extracts and chunks docs, then indexes them into the engine's
// vector store one document at a time. The engine's index base advances
// durably after each embedded batch, so a failed build resumes from the
// last persisted batch rather than reassigning ids.
func (b *Builder) BuildIndex(ctx context.Context, engineID string, docs []Document) error {
	eng, err := b.store.GetQueryEngine(engineID)
	if err != nil {
		return fmt.Errorf("loading engine %s: %w", engineID, err)
	}

	vec := b.stores(eng)
	if err := vec.InitIndex(ctx); err != nil {
		return fmt.Errorf("initializing index for %s: %w", eng.Name, err)
	}

	chunked := make([][]string, len(docs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound extraction concurrency; PDFs can be large.
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			text, err := Extract(doc.Name, doc.Content)
			if err != nil {
				return fmt.Errorf("extracting %s: %w", doc.Name, err)
			}
			chunked[i] = ChunkWords(text, b.size, b.overlap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	base := eng.IndexBase
	for i, doc := range docs {
		if len(chunked[i]) == 0 {
			b.logger.Warn("document produced no chunks, skipping", "doc", doc.Name)
			continue
		}
		newBase, err := vec.IndexDocument(ctx, doc.Name, chunked[i], base, nil)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", doc.Name, err)
		}
		b.logger.Info("indexed document",
			"engine", eng.Name, "doc", doc.Name,
			"chunks", len(chunked[i]), "index_base", newBase)
		base = newBase
	}
	return nil
}
