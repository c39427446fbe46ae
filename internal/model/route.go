package model

// TaskType classifies what a SmartRouteRequest is routing for.
type TaskType string

const (
	TaskVerification TaskType = "verification"
	TaskGeneration   TaskType = "generation"
	TaskEmbedding    TaskType = "embedding"
	TaskPlanning     TaskType = "planning"
)

// SmartRouteRequest is the input to the Router (C4).
type SmartRouteRequest struct {
	TaskType           TaskType       `json:"task_type"`
	InputTokens        int64          `json:"input_tokens"`
	Complexity         TaskComplexity `json:"complexity"`
	RequireHighQuality bool           `json:"require_high_quality"`
}

// SmartRouteResponse is the Router's pure decision.
type SmartRouteResponse struct {
	UseLocal         bool    `json:"use_local"`
	RecommendedModel string  `json:"recommended_model"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Reasoning        string  `json:"reasoning"`
}
