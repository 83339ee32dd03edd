// Package orchestrator routes generation and embedding requests to the
// right provider adapter for a logical model id.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gantryml/gantry/internal/catalog"
	"github.com/gantryml/gantry/internal/chat"
	"github.com/gantryml/gantry/internal/filetype"
	"github.com/gantryml/gantry/internal/provider"
)

var (
	ErrContextWindow   = errors.New("prompt exceeds model context window")
	ErrInvalidArgument = errors.New("invalid argument")
)

// charsPerToken is the fixed conservative estimate used for the local
// context-length check. It over-counts tokens so the check rejects before a
// provider would.
const charsPerToken = 3

// Orchestrator resolves models and dispatches exactly one adapter call per
// request. There is no multi-provider fallback; a failed call surfaces to
// the caller with the model id attached.
type Orchestrator struct {
	registry *catalog.Registry
	log      *slog.Logger

	// newAdapter builds the adapter for an entry; replaceable in tests.
	newAdapter func(*catalog.Entry) provider.Adapter
}

func New(registry *catalog.Registry, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		log:        log,
		newAdapter: adapterFor,
	}
}

func adapterFor(e *catalog.Entry) provider.Adapter {
	switch e.Provider {
	case catalog.ProviderSelfHosted:
		return provider.NewSelfHosted(e.Endpoint, e.ModelName, e.Credential())
	case catalog.ProviderGeneric:
		return provider.NewGeneric(e.Endpoint, e.ModelName, e.Credential())
	default:
		// Hosted and hosted-index families share the managed REST surface.
		return provider.NewHosted(e.Endpoint, e.ModelName, e.Credential())
	}
}

// checkContext rejects prompts whose estimated token count exceeds the
// model's declared limit. Local only; never depends on the provider.
func checkContext(e *catalog.Entry, prompt string) error {
	if e.ContextLength <= 0 {
		return nil
	}
	if len(prompt) > e.ContextLength*charsPerToken {
		return fmt.Errorf("model %s: prompt of %d chars estimates over %d tokens: %w",
			e.ID, len(prompt), e.ContextLength, ErrContextWindow)
	}
	return nil
}

// Generate produces text from a bare prompt.
func (o *Orchestrator) Generate(ctx context.Context, prompt, modelID string) (string, error) {
	e, err := o.registry.Get(modelID)
	if err != nil {
		return "", err
	}
	if err := checkContext(e, prompt); err != nil {
		return "", err
	}

	o.log.Debug("dispatching generate", "model", e.ID, "provider", e.Provider)
	out, err := o.newAdapter(e).Generate(ctx, provider.Request{Prompt: prompt, Params: e.Params})
	if err != nil {
		return "", fmt.Errorf("model %s: %w", e.ID, err)
	}
	return out, nil
}

// Chat produces text with prior conversation turns flattened into the
// prompt. Only textual turns contribute; embedded files are skipped.
func (o *Orchestrator) Chat(ctx context.Context, prompt, modelID string, history []chat.Entry) (string, error) {
	e, err := o.registry.Get(modelID)
	if err != nil {
		return "", err
	}
	if !e.Has(catalog.Chat) {
		return "", fmt.Errorf("model %s is not a chat model: %w", e.ID, ErrInvalidArgument)
	}

	full := prompt
	if ctxBlock := chat.Flatten(history); ctxBlock != "" {
		full = ctxBlock + "\n" + prompt
	}
	if err := checkContext(e, full); err != nil {
		return "", err
	}

	o.log.Debug("dispatching chat", "model", e.ID, "provider", e.Provider, "history_entries", len(history))
	out, err := o.newAdapter(e).Generate(ctx, provider.Request{Prompt: full, Params: e.Params, Chat: true})
	if err != nil {
		return "", fmt.Errorf("model %s: %w", e.ID, err)
	}
	return out, nil
}

// GenerateMultimodal produces text from a prompt plus one file, supplied as
// inline bytes or a URL but never both. Inline bytes are validated against
// the file name's signature before any network call.
func (o *Orchestrator) GenerateMultimodal(ctx context.Context, prompt, modelID, fileName string, data []byte, fileURL string) (string, error) {
	if len(data) > 0 && fileURL != "" {
		return "", fmt.Errorf("both inline file bytes and a file URL supplied: %w", ErrInvalidArgument)
	}
	if len(data) == 0 && fileURL == "" {
		return "", fmt.Errorf("multimodal request without a file: %w", ErrInvalidArgument)
	}

	e, err := o.registry.Get(modelID)
	if err != nil {
		return "", err
	}
	if !e.Has(catalog.Multimodal) {
		return "", fmt.Errorf("model %s is not multimodal: %w", e.ID, ErrInvalidArgument)
	}

	var mime string
	if len(data) > 0 {
		mime, err = filetype.Validate(fileName, data)
	} else {
		mime, err = filetype.MIMEForName(fileName)
	}
	if err != nil {
		return "", err
	}

	if err := checkContext(e, prompt); err != nil {
		return "", err
	}

	req := provider.Request{
		Prompt: prompt,
		Params: e.Params,
		Chat:   true,
		Files:  []provider.File{{Data: data, URI: fileURL, MIME: mime}},
	}
	o.log.Debug("dispatching multimodal generate", "model", e.ID, "mime", mime)
	out, err := o.newAdapter(e).Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", e.ID, err)
	}
	return out, nil
}

// Embed computes embeddings for a batch of texts and returns the per-slot
// success mask alongside the vectors.
func (o *Orchestrator) Embed(ctx context.Context, texts []string, modelID string) ([]bool, [][]float32, error) {
	e, err := o.registry.Get(modelID)
	if err != nil {
		return nil, nil, err
	}
	if !e.Has(catalog.Embedding) {
		return nil, nil, fmt.Errorf("model %s is not an embedding model: %w", e.ID, ErrInvalidArgument)
	}

	mask, vectors, err := o.newAdapter(e).Embed(ctx, texts, e.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("model %s: %w", e.ID, err)
	}
	return mask, vectors, nil
}

// EmbedMultimodal embeds one text+file unit. The resolved adapter must
// support multimodal embedding.
func (o *Orchestrator) EmbedMultimodal(ctx context.Context, text, modelID, fileName string, data []byte) ([]float32, error) {
	e, err := o.registry.Get(modelID)
	if err != nil {
		return nil, err
	}
	if !e.Has(catalog.Embedding) || !e.Has(catalog.Multimodal) {
		return nil, fmt.Errorf("model %s is not a multimodal embedding model: %w", e.ID, ErrInvalidArgument)
	}

	var mime string
	if len(data) > 0 {
		mime, err = filetype.Validate(fileName, data)
		if err != nil {
			return nil, err
		}
	}

	adapter := o.newAdapter(e)
	mm, ok := adapter.(provider.MultimodalEmbedder)
	if !ok {
		return nil, fmt.Errorf("model %s: provider %s cannot embed multimodal units: %w",
			e.ID, e.Provider, ErrInvalidArgument)
	}

	vec, err := mm.EmbedMultimodal(ctx, text, provider.File{Data: data, MIME: mime})
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", e.ID, err)
	}
	return vec, nil
}
