// Package verify orchestrates the verification pipeline (C5): a short-circuit
// cascade of exact cache, vector-skip, model call, and safe-fallback stages
// that decides whether a claim is consistent with supplied invariants.
//
// Grounded on the teacher's decisions.Service: a thin orchestration layer
// that calls out to embedder/cache/model collaborators in sequence and
// launches a detached background task (here, the shadow audit) after the
// primary result is ready, never blocking the caller on it.
package verify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/axiomguard/engine/internal/embedding"
	"github.com/axiomguard/engine/internal/llm"
	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/router"
	"github.com/axiomguard/engine/internal/vectorskip"
	"github.com/axiomguard/engine/internal/verifycache"
)

// maxContextNodes caps how many context nodes are summarised into the
// verification prompt (L3); PIN nodes are never truncated in count, only in
// per-node character length.
const maxContextNodes = 5

// maxNodeChars is the per-node statement-text truncation applied to both
// context and PIN summaries (L3).
const maxNodeChars = 200

// Auditor schedules the shadow audit (C6) for a completed verification. It
// is called only when the request carries both NodeID and ProjectID.
// Implementations must not block the caller — this hook is expected to
// launch a detached background task and return immediately.
type Auditor interface {
	Schedule(req model.VerificationRequest, result model.VerificationResult)
}

// Pipeline runs the L1-L7 cascade.
type Pipeline struct {
	cache      *verifycache.Cache
	matcher    *vectorskip.Matcher
	embedder   *embedding.Gateway
	router     *router.Router
	cloud      llm.ChatClient
	local      llm.ChatClient
	auditor    Auditor
	logger     *slog.Logger
}

// Config bundles the Pipeline's collaborators.
type Config struct {
	Cache        *verifycache.Cache
	Matcher      *vectorskip.Matcher
	Embedder     *embedding.Gateway
	Router       *router.Router
	CloudClient  llm.ChatClient // nil when cloud mode is disabled.
	LocalClient  llm.ChatClient
	CloudEnabled bool
	Auditor      Auditor // nil disables scheduling (C6 never invoked).
	Logger       *slog.Logger
}

// New creates a Pipeline from its collaborators.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cache:    cfg.Cache,
		matcher:  cfg.Matcher,
		embedder: cfg.Embedder,
		router:   cfg.Router,
		cloud:    cfg.CloudClient,
		local:    cfg.LocalClient,
		auditor:  cfg.Auditor,
		logger:   cfg.Logger,
	}
}

// Verify runs the full L1-L7 cascade for req.
func (p *Pipeline) Verify(ctx context.Context, req model.VerificationRequest) (model.VerificationResult, error) {
	// L1 — exact cache.
	if p.cache != nil {
		if cached, ok := p.cache.Get(req); ok {
			return cached, nil
		}
	}

	// L2 — vector-skip against PIN nodes only; context is ignored here.
	if result, ok := p.tryVectorSkip(ctx, req); ok {
		p.store(req, result)
		return result, nil
	}

	// L3 — build the model prompt.
	prompt := buildPrompt(req)

	// L4 — model call, L5 parse, L7 transport failure are all handled in
	// callModel; L6 post (cache + audit) happens here on every path that
	// returns a non-error result.
	result := p.callModel(ctx, req, prompt)
	p.store(req, result)

	if p.auditor != nil && req.Schedulable() {
		p.auditor.Schedule(req, result)
	}

	return result, nil
}

// tryVectorSkip embeds the claim and every PIN node, then asks the matcher
// for a short-circuit. Any embedding failure degrades silently to a miss —
// vector-skip is advisory and must never fail the request (§4.3).
func (p *Pipeline) tryVectorSkip(ctx context.Context, req model.VerificationRequest) (model.VerificationResult, bool) {
	if p.matcher == nil || p.embedder == nil || len(req.PinNodes) == 0 {
		return model.VerificationResult{}, false
	}

	claimVec, err := p.embedder.Embed(ctx, req.Claim)
	if err != nil {
		p.logger.Debug("verify: vector-skip embedding unavailable, falling through", "error", err)
		return model.VerificationResult{}, false
	}

	pinTexts := make([]string, 0, len(req.PinNodes))
	for _, n := range req.PinNodes {
		if !n.Empty() {
			pinTexts = append(pinTexts, n.Text())
		}
	}
	if len(pinTexts) == 0 {
		return model.VerificationResult{}, false
	}

	pinVecs, err := p.embedder.EmbedBatch(ctx, pinTexts)
	if err != nil {
		p.logger.Debug("verify: pin embedding unavailable, falling through", "error", err)
		return model.VerificationResult{}, false
	}

	return p.matcher.Try(claimVec, pinVecs, p.embedder.Name())
}

// promptData holds the claim plus the context and PIN node summaries built
// at L3.
type promptData struct {
	Claim   string
	Context []string
	Pins    []string
}

// buildPrompt truncates context (first maxContextNodes, input order) THEN
// summarises, and summarises ALL pin nodes, each to maxNodeChars.
func buildPrompt(req model.VerificationRequest) promptData {
	ctxNodes := req.Context
	if len(ctxNodes) > maxContextNodes {
		ctxNodes = ctxNodes[:maxContextNodes]
	}

	data := promptData{Claim: req.Claim}
	for _, n := range ctxNodes {
		data.Context = append(data.Context, n.Truncate(maxNodeChars))
	}
	for _, n := range req.PinNodes {
		data.Pins = append(data.Pins, n.Truncate(maxNodeChars))
	}
	return data
}

func (d promptData) render() string {
	var b strings.Builder
	b.WriteString("Claim to verify: ")
	b.WriteString(d.Claim)
	b.WriteString("\n\nContext:\n")
	if len(d.Context) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range d.Context {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("\nInvariants (must not be contradicted):\n")
	if len(d.Pins) == 0 {
		b.WriteString("(none)\n")
	}
	for _, pn := range d.Pins {
		b.WriteString("- ")
		b.WriteString(pn)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with JSON: {\"consistent\": bool, \"confidence\": float, \"reasoning\": string}")
	return b.String()
}

const systemPrompt = "You are a strict consistency checker. Given a claim, context, and " +
	"invariants, determine whether the claim is logically consistent with the " +
	"invariants. Respond only with the requested JSON object."

// callModel performs L4 (model call), L5 (parse), and L7 (transport
// failure). It never returns an error: every failure mode degrades to a
// safe-default VerificationResult per the "innocent-until-proven-guilty"
// policy.
func (p *Pipeline) callModel(ctx context.Context, req model.VerificationRequest, prompt promptData) model.VerificationResult {
	client, modelName := p.selectModel(req)
	if client == nil {
		return offlineFallback()
	}

	chatReq := llm.ChatRequest{
		Model: modelName,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt.render()},
		},
		Temperature: 0.1,
		JSONMode:    true,
	}

	// L4 is bounded at 30s whichever provider serves it.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := client.Complete(ctx, chatReq)
	if err != nil {
		p.logger.Warn("verify: model provider unreachable, returning offline-safe default", "error", err)
		return offlineFallback()
	}

	var out model.ModelOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return model.VerificationResult{
			Consistent: true,
			Confidence: 0.5,
			Reasoning:  "unparseable, defaulting consistent",
			ModelUsed:  modelName,
		}
	}

	return model.VerificationResult{
		Consistent: out.Consistent,
		Confidence: out.Confidence,
		Reasoning:  out.Reasoning,
		ModelUsed:  modelName,
		CostUSD:    p.estimateCost(req, modelName),
	}
}

// selectModel resolves which chat client and model name L4 should use,
// consulting the router for the model name and this pipeline's configured
// clients for the transport.
func (p *Pipeline) selectModel(req model.VerificationRequest) (llm.ChatClient, string) {
	route := p.router.Route(model.SmartRouteRequest{
		TaskType:           model.TaskVerification,
		Complexity:         req.TaskComplexity,
		RequireHighQuality: false,
	})
	if !route.UseLocal && p.cloud != nil {
		return p.cloud, route.RecommendedModel
	}
	if p.local != nil {
		return p.local, route.RecommendedModel
	}
	return nil, ""
}

// estimateCost mirrors the router's cost formula using an approximate token
// count derived from the claim's length alone (4 chars/token; the context,
// PIN summaries and instructions in the rendered prompt are not counted), since L4's actual token
// usage isn't surfaced by llm.ChatResponse.
func (p *Pipeline) estimateCost(req model.VerificationRequest, modelName string) float64 {
	route := p.router.Route(model.SmartRouteRequest{
		TaskType:           model.TaskVerification,
		InputTokens:        int64(len(req.Claim)) / 4,
		Complexity:         req.TaskComplexity,
		RequireHighQuality: false,
	})
	if route.UseLocal {
		return 0
	}
	return route.EstimatedCostUSD
}

// offlineFallback is L7: the provider is unreachable. Availability is valued
// above strictness — the engine reports consistent with low confidence
// rather than failing the request.
func offlineFallback() model.VerificationResult {
	return model.VerificationResult{
		Consistent: true,
		Confidence: 0.3,
		Reasoning:  "engine offline, default safe",
		ModelUsed:  "offline-fallback",
		CostUSD:    0,
	}
}

// store is L6's cache half; the audit-scheduling half is done in Verify
// right after store, so the scheduling decision stays in one place.
func (p *Pipeline) store(req model.VerificationRequest, result model.VerificationResult) {
	if p.cache == nil {
		return
	}
	p.cache.Set(req, result)
}
