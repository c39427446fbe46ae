// Package router makes the pure use-local-vs-cloud decision (C4). It
// performs no I/O and depends only on its construction-time configuration
// and the request it is given — the same input always yields the same
// output.
package router

import (
	"fmt"

	"github.com/axiomguard/engine/internal/model"
)

// Model name constants bound to the concrete cloud/local models this engine
// is configured against, so EstimatedCostUSD matches the literal scenarios
// in the testable-properties scenarios.
const (
	ModelPremiumChat = "gpt-4o"
	ModelMiniChat    = "gpt-4o-mini"
	ModelSmallEmbed  = "text-embedding-3-small"
	ModelAltPremium  = "claude-3-5-sonnet"
)

// Per-1M-token rates, USD.
const (
	ratePremiumChat = 5.00
	rateSmallEmbed  = 0.02
	rateMiniChat    = 0.15
	rateAltPremium  = 3.00
	rateLocal       = 0.00
)

// Router picks a model for a task using a fixed decision table.
type Router struct {
	cloudEnabled bool
	localDefault string
}

// New creates a Router. cloudEnabled is decided once at startup (a cloud API
// key is configured); localDefault is the configured local generation model
// (e.g. "phi3:mini").
func New(cloudEnabled bool, localDefault string) *Router {
	return &Router{cloudEnabled: cloudEnabled, localDefault: localDefault}
}

// Route applies the decision table, first match wins.
func (r *Router) Route(req model.SmartRouteRequest) model.SmartRouteResponse {
	rate := float64(req.InputTokens) / 1e6

	switch {
	case r.cloudEnabled && req.RequireHighQuality:
		return model.SmartRouteResponse{
			UseLocal:         false,
			RecommendedModel: ModelPremiumChat,
			EstimatedCostUSD: rate * ratePremiumChat,
			Reasoning:        "cloud enabled and high quality required",
		}

	case r.cloudEnabled && req.TaskType == model.TaskEmbedding:
		return model.SmartRouteResponse{
			UseLocal:         false,
			RecommendedModel: ModelSmallEmbed,
			EstimatedCostUSD: rate * rateSmallEmbed,
			Reasoning:        "cloud enabled, embedding task",
		}

	case r.cloudEnabled:
		return model.SmartRouteResponse{
			UseLocal:         false,
			RecommendedModel: ModelMiniChat,
			EstimatedCostUSD: rate * rateMiniChat,
			Reasoning:        "cloud enabled, default chat model",
		}

	case req.RequireHighQuality:
		return model.SmartRouteResponse{
			UseLocal:         false,
			RecommendedModel: ModelPremiumChat,
			EstimatedCostUSD: rate * ratePremiumChat,
			Reasoning:        "local mode but high quality required, falling back to premium",
		}

	case req.Complexity == model.ComplexityHigh && req.TaskType == model.TaskGeneration:
		return model.SmartRouteResponse{
			UseLocal:         false,
			RecommendedModel: ModelAltPremium,
			EstimatedCostUSD: rate * rateAltPremium,
			Reasoning:        "local mode, high-complexity generation escalated",
		}

	default:
		return model.SmartRouteResponse{
			UseLocal:         true,
			RecommendedModel: r.localDefault,
			EstimatedCostUSD: rate * rateLocal,
			Reasoning:        fmt.Sprintf("local mode, routed to %s", r.localDefault),
		}
	}
}
