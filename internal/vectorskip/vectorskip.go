// Package vectorskip short-circuits verification when a claim is already
// semantically equivalent to a known-true invariant, skipping the model
// call entirely.
//
// The cosine similarity routine is grounded on the teacher's
// conflicts.cosineSimilarity: same undefined-on-zero-norm behavior, same
// dot-product-over-norms shape.
package vectorskip

import (
	"math"

	"github.com/axiomguard/engine/internal/model"
)

// Matcher computes cosine similarity between a claim embedding and a set of
// invariant (PIN) embeddings, emitting a pre-baked VerificationResult when
// the best match clears the configured threshold.
type Matcher struct {
	threshold float64
}

// New creates a Matcher. threshold is the minimum cosine similarity
// (config.VectorSkipThreshold, default 0.96) required to short-circuit.
func New(threshold float64) *Matcher {
	return &Matcher{threshold: threshold}
}

// Try compares claimVec against every vector in pinVecs and returns a
// VerificationResult plus true if the best match meets the threshold. The
// matcher is advisory: any panic inside Try is recovered and reported as a
// miss (ok=false) so a caller always falls through to the next pipeline
// stage rather than failing the request.
func (m *Matcher) Try(claimVec []float32, pinVecs [][]float32, embedderName string) (result model.VerificationResult, ok bool) {
	defer func() {
		if recover() != nil {
			result, ok = model.VerificationResult{}, false
		}
	}()

	var maxSim float64
	for _, pin := range pinVecs {
		if sim := cosineSimilarity(claimVec, pin); sim > maxSim {
			maxSim = sim
		}
	}
	if maxSim < m.threshold {
		return model.VerificationResult{}, false
	}
	return model.VerificationResult{
		Consistent: true,
		Confidence: maxSim,
		Reasoning:  "semantic match with invariant",
		ModelUsed:  embedderName + " (Vector-Skip)",
		CostUSD:    0,
	}, true
}

// cosineSimilarity returns 0 when either vector has zero norm or the
// dimensions don't match, rather than propagating NaN.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		da, db := float64(a[i]), float64(b[i])
		dot += da * db
		normA += da * da
		normB += db * db
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
