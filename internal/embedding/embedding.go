// Package embedding turns text into vectors and memoizes the result.
//
// Mirrors the teacher's embedding provider split (OpenAI vs Ollama vs a noop
// sentinel), generalized from pgvector.Vector-typed results to plain []float32
// so the gateway can sit in front of callers that never touch storage
// directly (vector-skip matching, bicameral context pruning).
package embedding

import (
	"context"
	"fmt"

	"github.com/axiomguard/engine/internal/model"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int

	// Name identifies the provider for model_used fields (e.g. "text-embedding-3-small").
	Name() string
}

// Gateway wraps a Provider with a process-local memo cache keyed by input
// text, so repeated verification of the same claim or invariant across
// requests skips the network round trip entirely.
type Gateway struct {
	provider Provider
	memo     *memoCache
}

// NewGateway wraps provider with a memo cache of the given capacity. A
// non-positive capacity disables memoization.
func NewGateway(provider Provider, capacity int) *Gateway {
	return &Gateway{provider: provider, memo: newMemoCache(capacity)}
}

// Dimensions returns the wrapped provider's dimensionality.
func (g *Gateway) Dimensions() int { return g.provider.Dimensions() }

// Name returns the wrapped provider's model name.
func (g *Gateway) Name() string { return g.provider.Name() }

// Embed returns the memoized embedding for text, computing and storing it on
// a miss. Returns model.ErrProviderUnavailable (never a zero vector) when the
// underlying provider cannot be reached.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := g.memo.get(text); ok {
		return vec, nil
	}
	vec, err := g.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", joinUnavailable(err))
	}
	g.memo.put(text, vec)
	return vec, nil
}

// EmbedBatch embeds multiple texts, serving memoized hits and dispatching the
// remainder to the provider in one call.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if vec, ok := g.memo.get(t); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := g.provider.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", joinUnavailable(err))
	}
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		g.memo.put(missTexts[j], vecs[j])
	}
	return out, nil
}

// joinUnavailable normalizes any provider error into model.ErrProviderUnavailable
// while preserving the original message for logs.
func joinUnavailable(err error) error {
	return fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
}
