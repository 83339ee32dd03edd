package provider

import (
	"context"
	"errors"
)

// ErrUnavailable indicates a network failure or non-2xx status from a
// backend. Adapters never retry; retry policy belongs to the caller, and all
// adapter calls are side-effect free so retrying is always safe.
var ErrUnavailable = errors.New("provider unavailable")

// ErrBadResponse indicates a 2xx response whose payload could not be used.
var ErrBadResponse = errors.New("malformed provider response")

// File is one multimodal attachment, either inline bytes or a URI reference.
// MIME must always be set.
type File struct {
	Data []byte
	URI  string
	MIME string
}

// Request is the normalized generation request shared by all adapters.
type Request struct {
	Prompt string
	Params map[string]any
	Chat   bool
	Files  []File
	// Safety overrides the permissive default thresholds for the hosted
	// family; category -> threshold. Ignored by other families.
	Safety map[string]string
}

// Adapter is the uniform contract every backend family implements.
//
// Embed reports per-text success: mask[i] is false when texts[i] produced no
// usable vector. Callers must treat any false as a hard failure for the
// batch; the mask exists so the failure can be attributed, not so entries can
// be dropped silently.
type Adapter interface {
	Generate(ctx context.Context, req Request) (string, error)
	Embed(ctx context.Context, texts []string, params map[string]any) (mask []bool, vectors [][]float32, err error)
}

// MultimodalEmbedder is implemented by adapters whose embedding model
// accepts one multimodal unit per call.
type MultimodalEmbedder interface {
	EmbedMultimodal(ctx context.Context, text string, file File) ([]float32, error)
}
