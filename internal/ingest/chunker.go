package ingest

import "strings"

const (
	defaultChunkWords   = 500
	defaultOverlapWords = 50
)

// ChunkWords splits text into fixed-size word windows. Consecutive chunks
// share overlap words so sentences cut at a boundary stay searchable in at
// least one chunk. Returns nil for whitespace-only input.
func ChunkWords(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkWords
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := size - overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
