package embedding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/embedding"
	"github.com/axiomguard/engine/internal/model"
)

type countingProvider struct {
	calls int
	vec   []float32
}

func (p *countingProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	p.calls++
	return p.vec, nil
}

func (p *countingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.vec
	}
	return out, nil
}

func (p *countingProvider) Dimensions() int { return len(p.vec) }
func (p *countingProvider) Name() string    { return "counting" }

func TestGatewayMemoizesRepeatedText(t *testing.T) {
	provider := &countingProvider{vec: []float32{0.1, 0.2, 0.3}}
	gw := embedding.NewGateway(provider, 10)

	vec1, err := gw.Embed(context.Background(), "the sky is blue")
	require.NoError(t, err)
	vec2, err := gw.Embed(context.Background(), "the sky is blue")
	require.NoError(t, err)

	assert.Equal(t, vec1, vec2)
	assert.Equal(t, 1, provider.calls, "second call for identical text must be served from the memo cache")
}

func TestGatewayEmbedBatchSplitsHitsAndMisses(t *testing.T) {
	provider := &countingProvider{vec: []float32{1, 2}}
	gw := embedding.NewGateway(provider, 10)

	_, err := gw.Embed(context.Background(), "cached")
	require.NoError(t, err)

	vecs, err := gw.EmbedBatch(context.Background(), []string{"cached", "fresh"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 2, provider.calls, "one call for the initial Embed, one batch call for the single miss")
}

func TestGatewayZeroCapacityDisablesMemoization(t *testing.T) {
	provider := &countingProvider{vec: []float32{1}}
	gw := embedding.NewGateway(provider, 0)

	_, err := gw.Embed(context.Background(), "x")
	require.NoError(t, err)
	_, err = gw.Embed(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, 2, provider.calls)
}

func TestNoopProviderNeverReturnsZeroVector(t *testing.T) {
	p := embedding.NewNoopProvider(1536)

	vec, err := p.Embed(context.Background(), "anything")
	assert.Nil(t, vec)
	assert.True(t, errors.Is(err, model.ErrProviderUnavailable))
}

func TestGatewayWrapsProviderErrorAsUnavailable(t *testing.T) {
	gw := embedding.NewGateway(embedding.NewNoopProvider(8), 10)

	_, err := gw.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrProviderUnavailable))
}
