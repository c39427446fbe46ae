package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// VerificationRequest is the input to the verification pipeline (C5) and the
// bicameral streamer (C7).
type VerificationRequest struct {
	Claim          string         `json:"claim"`
	Context        []Node         `json:"context,omitempty"`
	PinNodes       []Node         `json:"pin_nodes,omitempty"`
	TaskComplexity TaskComplexity `json:"task_complexity,omitempty"`
	NodeID         string         `json:"node_id,omitempty"`
	ProjectID      string         `json:"project_id,omitempty"`
}

// Schedulable reports whether this request carries enough identity to
// schedule a shadow audit (L6 requires both fields present).
func (r VerificationRequest) Schedulable() bool {
	return r.NodeID != "" && r.ProjectID != ""
}

// CacheKey computes sha256(claim ‖ canonical(context) ‖ canonical(pin_nodes)
// ‖ task_complexity), where canonical is a stable JSON encoding with sorted
// object keys. Two requests that are semantically identical always produce
// the same key regardless of slice/field construction order.
func (r VerificationRequest) CacheKey() (string, error) {
	ctxCanon, err := canonicalJSON(r.Context)
	if err != nil {
		return "", err
	}
	pinCanon, err := canonicalJSON(r.PinNodes)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(r.Claim))
	h.Write(ctxCanon)
	h.Write(pinCanon)
	h.Write([]byte(r.TaskComplexity))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON marshals v, then round-trips through a generic any value so
// the final encoding re-marshals map keys in sorted order (encoding/json's
// map-key ordering guarantee), yielding a stable byte representation.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// VerificationResult is the output of the verification pipeline. CostUSD must
// be zero whenever ModelUsed names a local model or a cache/skip layer.
type VerificationResult struct {
	Consistent bool    `json:"consistent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	ModelUsed  string  `json:"model_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// Cached returns a copy of the result as it should be served from the
// verification cache: model_used gains the " (Cached)" suffix and cost is
// coerced to zero.
func (r VerificationResult) Cached() VerificationResult {
	cached := r
	cached.ModelUsed = r.ModelUsed + " (Cached)"
	cached.CostUSD = 0
	return cached
}

// ModelOutput is the JSON shape the verification model is instructed to
// return at L4: {"consistent": bool, "confidence": float, "reasoning": string}.
type ModelOutput struct {
	Consistent bool    `json:"consistent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}
