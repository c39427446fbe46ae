package verifycache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/verifycache"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := verifycache.New(10)
	req := model.VerificationRequest{Claim: "water boils at 100C"}
	result := model.VerificationResult{Consistent: true, Confidence: 0.9, ModelUsed: "gpt-4o-mini", CostUSD: 0.01}

	_, ok := c.Get(req)
	require.False(t, ok)

	c.Set(req, result)
	got, ok := c.Get(req)
	require.True(t, ok)
	assert.True(t, got.Consistent)
	assert.Equal(t, "gpt-4o-mini (Cached)", got.ModelUsed)
	assert.Equal(t, 0.0, got.CostUSD)
}

func TestEquivalentRequestsShareAKey(t *testing.T) {
	c := verifycache.New(10)
	req1 := model.VerificationRequest{
		Claim:    "x",
		Context:  []model.Node{{ID: "a", Statement: "s"}, {ID: "b", Statement: "t"}},
		PinNodes: []model.Node{{ID: "p", Statement: "pin"}},
	}
	req2 := req1
	req2.Context = append([]model.Node{}, req1.Context...)

	c.Set(req1, model.VerificationResult{ModelUsed: "m"})
	_, ok := c.Get(req2)
	assert.True(t, ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := verifycache.New(2)
	r1 := model.VerificationRequest{Claim: "one"}
	r2 := model.VerificationRequest{Claim: "two"}
	r3 := model.VerificationRequest{Claim: "three"}

	c.Set(r1, model.VerificationResult{ModelUsed: "m1"})
	c.Set(r2, model.VerificationResult{ModelUsed: "m2"})
	c.Set(r3, model.VerificationResult{ModelUsed: "m3"})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(r1)
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get(r3)
	assert.True(t, ok)
}
