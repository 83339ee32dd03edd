package vectorstore

import (
	"container/heap"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gantryml/gantry/internal/storage"
)

// SQLVec is the relational-vector backend: embeddings live in the
// engine_vectors table and similarity search is a brute-force cosine scan.
// Rows are queryable the moment they are written, so Deploy is a no-op.
type SQLVec struct {
	store    *storage.Store
	engineID string
	embedder Embedder
	log      *slog.Logger
}

func NewSQLVec(store *storage.Store, engineID string, embedder Embedder, log *slog.Logger) *SQLVec {
	return &SQLVec{store: store, engineID: engineID, embedder: embedder, log: log}
}

var _ Store = (*SQLVec)(nil)

// InitIndex validates the engine's derived identifier. The backing table is
// created by migrations, so there is nothing else to set up.
func (s *SQLVec) InitIndex(ctx context.Context) error {
	q, err := s.store.GetQueryEngine(s.engineID)
	if err != nil {
		return err
	}
	_, err = Slug(q.Name)
	return err
}

func (s *SQLVec) IndexDocument(ctx context.Context, docName string, chunks []string, indexBase int64, metadata []map[string]any) (int64, error) {
	q, err := s.store.GetQueryEngine(s.engineID)
	if err != nil {
		return indexBase, err
	}

	base := indexBase
	for start := 0; start < len(chunks); start += MaxBatchChunks {
		end := min(start+MaxBatchChunks, len(chunks))
		batch := chunks[start:end]

		mask, vectors, err := s.embedder.Embed(ctx, batch, q.EmbeddingModel)
		if err != nil {
			return base, fmt.Errorf("embedding %s chunks %d..%d: %w", docName, start, end, err)
		}
		for i, ok := range mask {
			if !ok {
				return base, fmt.Errorf("document %s: chunk %d produced no embedding: %w",
					docName, start+i, ErrIndexingFailure)
			}
		}

		var meta []map[string]any
		if metadata != nil {
			meta = metadata[start:end]
		}
		if err := s.insertBatch(docName, batch, vectors, base, meta); err != nil {
			return base, err
		}

		base += int64(len(batch))
		if err := s.store.AdvanceIndexBase(s.engineID, base); err != nil {
			return base, fmt.Errorf("advancing index base to %d: %w", base, err)
		}
		s.log.Info("indexed batch", "engine", q.Name, "doc", docName, "chunks", len(batch), "base", base)
	}
	return base, nil
}

func (s *SQLVec) IndexDocumentMultimodal(ctx context.Context, docName string, chunks []MultimodalChunk, indexBase int64) (int64, error) {
	q, err := s.store.GetQueryEngine(s.engineID)
	if err != nil {
		return indexBase, err
	}

	texts := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vec, err := embedMultimodalChunk(ctx, s.embedder, q.EmbeddingModel, c)
		if err != nil {
			return indexBase, fmt.Errorf("document %s: chunk %d: %w", docName, i, err)
		}
		texts[i] = c.Text
		vectors[i] = vec
	}

	if err := s.insertBatch(docName, texts, vectors, indexBase, nil); err != nil {
		return indexBase, err
	}
	newBase := indexBase + int64(len(chunks))
	if err := s.store.AdvanceIndexBase(s.engineID, newBase); err != nil {
		return indexBase, fmt.Errorf("advancing index base to %d: %w", newBase, err)
	}
	return newBase, nil
}

func (s *SQLVec) insertBatch(docName string, texts []string, vectors [][]float32, base int64, metadata []map[string]any) error {
	tx, err := s.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO engine_vectors (engine_id, chunk_id, document, text_chunk, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, vec := range vectors {
		metaJSON := "{}"
		if metadata != nil && metadata[i] != nil {
			raw, err := json.Marshal(metadata[i])
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("encoding metadata for chunk %d: %w", base+int64(i), err)
			}
			metaJSON = string(raw)
		}
		if _, err := stmt.Exec(s.engineID, base+int64(i), docName, texts[i], encodeFloat32s(vec), metaJSON, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %d: %w", base+int64(i), err)
		}
	}
	return tx.Commit()
}

// Deploy is a no-op: rows are immediately queryable.
func (s *SQLVec) Deploy(ctx context.Context) error {
	return nil
}

// Delete removes every vector row for the engine.
func (s *SQLVec) Delete(ctx context.Context) error {
	_, err := s.store.DB().ExecContext(ctx, `DELETE FROM engine_vectors WHERE engine_id = ?`, s.engineID)
	return err
}

// SimilaritySearch scans the engine's vectors and returns the top matches by
// cosine similarity. The filter, when present, becomes a SQL condition over
// the JSON metadata column so non-matching rows never leave the database.
func (s *SQLVec) SimilaritySearch(ctx context.Context, queryEmbedding []float32, filter Expr) ([]int64, error) {
	query := `SELECT chunk_id, embedding FROM engine_vectors WHERE engine_id = ?`
	args := []any{s.engineID}
	if filter != nil {
		clause, filterArgs, err := filterSQL(filter)
		if err != nil {
			return nil, err
		}
		query += " AND " + clause
		args = append(args, filterArgs...)
	}

	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(queryEmbedding)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", id, err)
		}

		score := cosine(queryEmbedding, buf, queryNorm)
		if h.Len() < NumMatchResults {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Pop in ascending score order, fill the result back to front.
	ids := make([]int64, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		ids[i] = heap.Pop(h).(idScore).ID
	}
	return ids, nil
}

// ChunkText returns the stored text for a set of chunk ids, used when
// assembling retrieval context for generation.
func (s *SQLVec) ChunkText(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		var text string
		err := s.store.DB().QueryRowContext(ctx,
			`SELECT text_chunk FROM engine_vectors WHERE engine_id = ? AND chunk_id = ?`,
			s.engineID, id).Scan(&text)
		if err != nil {
			return nil, fmt.Errorf("loading chunk %d: %w", id, err)
		}
		out[id] = text
	}
	return out, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm) with the
// query norm precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap tracking the top candidates during the scan.
type idScore struct {
	ID    int64
	Score float32
}

type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
