package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/router"
)

// S3: route request {task=embedding, tokens=1_000_000, complexity=LOW, hq=false}, cloud enabled.
func TestScenarioS3CloudEmbedding(t *testing.T) {
	r := router.New(true, "phi3:mini")
	resp := r.Route(model.SmartRouteRequest{
		TaskType:    model.TaskEmbedding,
		InputTokens: 1_000_000,
		Complexity:  model.ComplexityLow,
	})

	assert.False(t, resp.UseLocal)
	assert.Equal(t, router.ModelSmallEmbed, resp.RecommendedModel)
	assert.InDelta(t, 0.02, resp.EstimatedCostUSD, 1e-9)
}

// S4: router {task=generation, tokens=100_000, complexity=HIGH, hq=false}, cloud disabled.
func TestScenarioS4LocalHighComplexityGeneration(t *testing.T) {
	r := router.New(false, "phi3:mini")
	resp := r.Route(model.SmartRouteRequest{
		TaskType:    model.TaskGeneration,
		InputTokens: 100_000,
		Complexity:  model.ComplexityHigh,
	})

	assert.False(t, resp.UseLocal)
	assert.Equal(t, router.ModelAltPremium, resp.RecommendedModel)
	assert.InDelta(t, 0.30, resp.EstimatedCostUSD, 1e-9)
}

func TestRouteIsDeterministic(t *testing.T) {
	r := router.New(true, "phi3:mini")
	req := model.SmartRouteRequest{TaskType: model.TaskVerification, InputTokens: 500, Complexity: model.ComplexityMedium}

	first := r.Route(req)
	second := r.Route(req)
	assert.Equal(t, first, second)
}

func TestHighQualityAlwaysWinsFirst(t *testing.T) {
	r := router.New(true, "phi3:mini")
	resp := r.Route(model.SmartRouteRequest{RequireHighQuality: true, TaskType: model.TaskEmbedding, InputTokens: 1_000_000})

	assert.Equal(t, router.ModelPremiumChat, resp.RecommendedModel)
	assert.InDelta(t, 5.00, resp.EstimatedCostUSD, 1e-9)
}

func TestLocalModeDefaultFallsThrough(t *testing.T) {
	r := router.New(false, "phi3:mini")
	resp := r.Route(model.SmartRouteRequest{TaskType: model.TaskVerification, InputTokens: 1_000_000, Complexity: model.ComplexityLow})

	assert.True(t, resp.UseLocal)
	assert.Equal(t, "phi3:mini", resp.RecommendedModel)
	assert.Equal(t, 0.0, resp.EstimatedCostUSD)
}
