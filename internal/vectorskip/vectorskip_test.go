package vectorskip_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/vectorskip"
)

func TestTryMatchesAboveThreshold(t *testing.T) {
	m := vectorskip.New(0.96)

	claim := []float32{1, 0, 0}
	pins := [][]float32{{0, 1, 0}, {1, 0, 0.001}}

	result, ok := m.Try(claim, pins, "text-embedding-3-small")
	require.True(t, ok)
	assert.True(t, result.Consistent)
	assert.GreaterOrEqual(t, result.Confidence, 0.96)
	assert.Equal(t, 0.0, result.CostUSD)
	assert.True(t, strings.HasSuffix(result.ModelUsed, "(Vector-Skip)"))
}

func TestTryMissesBelowThreshold(t *testing.T) {
	m := vectorskip.New(0.96)

	claim := []float32{1, 0}
	pins := [][]float32{{0, 1}}

	_, ok := m.Try(claim, pins, "text-embedding-3-small")
	assert.False(t, ok)
}

func TestTryZeroNormNeverMatches(t *testing.T) {
	m := vectorskip.New(0.5)

	claim := []float32{0, 0, 0}
	pins := [][]float32{{1, 1, 1}}

	_, ok := m.Try(claim, pins, "embedder")
	assert.False(t, ok)
}

func TestTryNoPinsMisses(t *testing.T) {
	m := vectorskip.New(0.96)

	_, ok := m.Try([]float32{1, 0}, nil, "embedder")
	assert.False(t, ok)
}
