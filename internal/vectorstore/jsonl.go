package vectorstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// embeddingLine is one record in a staged embedding file. The index service
// expects the id as a decimal string and every float rendered as a string.
type embeddingLine struct {
	ID        string   `json:"id"`
	Embedding []string `json:"embedding"`
}

// writeEmbeddingLines renders ids and vectors as newline-delimited JSON in
// the index service's upload format.
func writeEmbeddingLines(w io.Writer, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("id count %d does not match vector count %d", len(ids), len(vectors))
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, id := range ids {
		line := embeddingLine{
			ID:        strconv.FormatInt(id, 10),
			Embedding: make([]string, len(vectors[i])),
		}
		for j, f := range vectors[i] {
			line.Embedding[j] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encoding embedding line for id %d: %w", id, err)
		}
	}
	return bw.Flush()
}

// readEmbeddingLines is the inverse of writeEmbeddingLines: it parses a
// staged embedding file back into ids and vectors.
func readEmbeddingLines(r io.Reader) ([]int64, [][]float32, error) {
	var ids []int64
	var vectors [][]float32

	dec := json.NewDecoder(r)
	for {
		var line embeddingLine
		if err := dec.Decode(&line); err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, fmt.Errorf("decoding embedding line: %w", err)
		}

		id, err := strconv.ParseInt(line.ID, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing embedding id %q: %w", line.ID, err)
		}
		vec := make([]float32, len(line.Embedding))
		for j, s := range line.Embedding {
			f, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("parsing embedding value %q for id %d: %w", s, id, err)
			}
			vec[j] = float32(f)
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	return ids, vectors, nil
}
