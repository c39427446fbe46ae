package embedding

import (
	"context"

	"github.com/axiomguard/engine/internal/model"
)

// NoopProvider is used when neither a cloud nor a local embedding provider is
// configured. It always returns model.ErrProviderUnavailable — never a zero
// vector, which would silently poison similarity scores downstream.
type NoopProvider struct {
	dims int
}

// NewNoopProvider creates a provider that always reports unavailability.
func NewNoopProvider(dims int) *NoopProvider {
	return &NoopProvider{dims: dims}
}

// Dimensions returns the configured (unused) vector size.
func (p *NoopProvider) Dimensions() int { return p.dims }

// Name identifies this provider in logs.
func (p *NoopProvider) Name() string { return "noop" }

// Embed always fails.
func (p *NoopProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, model.ErrProviderUnavailable
}

// EmbedBatch always fails.
func (p *NoopProvider) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, model.ErrProviderUnavailable
}
