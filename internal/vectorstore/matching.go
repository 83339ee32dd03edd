package vectorstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/gantryml/gantry/internal/objstore"
	"github.com/gantryml/gantry/internal/storage"
)

// Matching is the managed nearest-neighbor backend. Embedding batches are
// staged as JSONL files in the engine's bucket; deploy builds and publishes
// an index over them through the index service.
type Matching struct {
	store    *storage.Store
	engineID string
	embedder Embedder
	obj      objstore.Client
	svc      IndexService
	log      *slog.Logger
}

func NewMatching(store *storage.Store, engineID string, embedder Embedder, obj objstore.Client, svc IndexService, log *slog.Logger) *Matching {
	return &Matching{
		store:    store,
		engineID: engineID,
		embedder: embedder,
		obj:      obj,
		svc:      svc,
		log:      log,
	}
}

var _ Store = (*Matching)(nil)

func (m *Matching) engine() (storage.QueryEngine, error) {
	return m.store.GetQueryEngine(m.engineID)
}

// bucketName derives the engine's bucket from its display name and fails
// fast if the derived identifier is unusable.
func (m *Matching) bucketName(q storage.QueryEngine) (string, error) {
	return Slug(q.Name)
}

func (m *Matching) InitIndex(ctx context.Context) error {
	q, err := m.engine()
	if err != nil {
		return err
	}
	bucket, err := m.bucketName(q)
	if err != nil {
		return err
	}
	return m.obj.EnsureBucket(ctx, bucket)
}

// IndexDocument embeds chunks in capped batches. A batch commits before the
// next starts: its JSONL file is uploaded and the engine's index base is
// durably advanced, so a failure later leaves every finished batch valid
// and ingest resumable at the recorded base.
func (m *Matching) IndexDocument(ctx context.Context, docName string, chunks []string, indexBase int64, metadata []map[string]any) (int64, error) {
	q, err := m.engine()
	if err != nil {
		return indexBase, err
	}
	bucket, err := m.bucketName(q)
	if err != nil {
		return indexBase, err
	}

	base := indexBase
	for start := 0; start < len(chunks); start += MaxBatchChunks {
		end := min(start+MaxBatchChunks, len(chunks))
		batch := chunks[start:end]

		mask, vectors, err := m.embedder.Embed(ctx, batch, q.EmbeddingModel)
		if err != nil {
			return base, fmt.Errorf("embedding %s chunks %d..%d: %w", docName, start, end, err)
		}
		for i, ok := range mask {
			if !ok {
				return base, fmt.Errorf("document %s: chunk %d produced no embedding: %w",
					docName, start+i, ErrIndexingFailure)
			}
		}

		ids := make([]int64, len(batch))
		for i := range ids {
			ids[i] = base + int64(i)
		}

		var buf bytes.Buffer
		if err := writeEmbeddingLines(&buf, ids, vectors); err != nil {
			return base, err
		}
		path := fmt.Sprintf("embeddings/%s-%d.jsonl", docName, base)
		if err := m.obj.Upload(ctx, bucket, path, &buf); err != nil {
			return base, fmt.Errorf("uploading batch %s: %w", path, err)
		}

		base += int64(len(batch))
		if err := m.store.AdvanceIndexBase(m.engineID, base); err != nil {
			return base, fmt.Errorf("advancing index base to %d: %w", base, err)
		}
		m.log.Info("indexed batch", "engine", q.Name, "doc", docName, "chunks", len(batch), "base", base)
	}
	if err := m.refreshDeployed(ctx, q, bucket); err != nil {
		return base, err
	}
	return base, nil
}

// IndexDocumentMultimodal embeds one chunk per call; the embedding model
// accepts a single multimodal unit at a time, so there is no batching.
// Every modality present in a chunk must yield a vector or the call fails.
func (m *Matching) IndexDocumentMultimodal(ctx context.Context, docName string, chunks []MultimodalChunk, indexBase int64) (int64, error) {
	q, err := m.engine()
	if err != nil {
		return indexBase, err
	}
	bucket, err := m.bucketName(q)
	if err != nil {
		return indexBase, err
	}

	ids := make([]int64, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for i, c := range chunks {
		vec, err := embedMultimodalChunk(ctx, m.embedder, q.EmbeddingModel, c)
		if err != nil {
			return indexBase, fmt.Errorf("document %s: chunk %d: %w", docName, i, err)
		}
		ids = append(ids, indexBase+int64(i))
		vectors = append(vectors, vec)
	}

	var buf bytes.Buffer
	if err := writeEmbeddingLines(&buf, ids, vectors); err != nil {
		return indexBase, err
	}
	path := fmt.Sprintf("embeddings/%s-%d.jsonl", docName, indexBase)
	if err := m.obj.Upload(ctx, bucket, path, &buf); err != nil {
		return indexBase, fmt.Errorf("uploading batch %s: %w", path, err)
	}

	newBase := indexBase + int64(len(chunks))
	if err := m.store.AdvanceIndexBase(m.engineID, newBase); err != nil {
		return indexBase, fmt.Errorf("advancing index base to %d: %w", newBase, err)
	}
	if err := m.refreshDeployed(ctx, q, bucket); err != nil {
		return newBase, err
	}
	return newBase, nil
}

// refreshDeployed points an already-deployed index at the staged files again
// so batches ingested after deploy become searchable. A no-op before deploy.
func (m *Matching) refreshDeployed(ctx context.Context, q storage.QueryEngine, bucket string) error {
	if !q.Deployed() {
		return nil
	}
	if err := m.svc.UpdateIndex(ctx, q.IndexID, bucket+"/embeddings/"); err != nil {
		return fmt.Errorf("refreshing deployed index %s: %w", q.IndexID, err)
	}
	m.log.Info("refreshed deployed index", "engine", q.Name, "index", q.IndexID)
	return nil
}

// Deploy builds the index over the staged embedding files, creates an
// endpoint, deploys, and persists the resulting identifiers on the engine.
// The identifiers are immutable once set.
func (m *Matching) Deploy(ctx context.Context) error {
	q, err := m.engine()
	if err != nil {
		return err
	}
	if q.Deployed() {
		return fmt.Errorf("query engine %s is already deployed", q.Name)
	}
	bucket, err := m.bucketName(q)
	if err != nil {
		return err
	}

	contentsURI := bucket + "/embeddings/"
	indexID, err := m.svc.CreateIndex(ctx, bucket, contentsURI)
	if err != nil {
		return err
	}
	endpointID, err := m.svc.CreateEndpoint(ctx, bucket)
	if err != nil {
		return err
	}
	deployedName := "deployed-" + bucket
	if err := m.svc.DeployIndex(ctx, indexID, endpointID, deployedName); err != nil {
		return err
	}

	if err := m.store.SetDeployment(m.engineID, indexID, endpointID, deployedName); err != nil {
		return fmt.Errorf("persisting deployment for %s: %w", q.Name, err)
	}
	m.log.Info("deployed index", "engine", q.Name, "index", indexID, "endpoint", endpointID)
	return nil
}

// Delete tears down the deployed index and endpoint and removes the staged
// embedding files.
func (m *Matching) Delete(ctx context.Context) error {
	q, err := m.engine()
	if err != nil {
		return err
	}
	bucket, err := m.bucketName(q)
	if err != nil {
		return err
	}

	if q.Deployed() {
		if err := m.svc.DeleteIndex(ctx, q.IndexID); err != nil {
			return err
		}
		if err := m.svc.DeleteEndpoint(ctx, q.Endpoint); err != nil {
			return err
		}
	}
	return m.obj.DeleteBucket(ctx, bucket)
}

// SimilaritySearch queries the deployed endpoint for the nearest chunk ids,
// translating the filter into the service's native shape.
func (m *Matching) SimilaritySearch(ctx context.Context, queryEmbedding []float32, filter Expr) ([]int64, error) {
	q, err := m.engine()
	if err != nil {
		return nil, err
	}
	if !q.Deployed() {
		return nil, fmt.Errorf("query engine %s has no deployed index", q.Name)
	}

	var native map[string]any
	if filter != nil {
		native, err = TranslateFilter(filter)
		if err != nil {
			return nil, err
		}
	}
	return m.svc.QueryNeighbors(ctx, q.Endpoint, q.DeployedIndexName, queryEmbedding, native, NumMatchResults)
}
