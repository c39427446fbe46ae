// Package mcp implements the Model Context Protocol surface (C14): the same
// verify/embed/route/recycle operations the HTTP server exposes, as MCP
// tools, so the two transports can never drift apart on semantics.
//
// Grounded on the teacher's internal/mcp package: mcpserver.NewMCPServer
// construction, mcplib.NewTool/WithString/WithNumber tool schemas, and the
// errorResult helper for turning a Go error into a CallToolResult with
// IsError set rather than propagating it as a protocol-level failure.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/recycler"
	"github.com/axiomguard/engine/internal/router"
	"github.com/axiomguard/engine/internal/verify"
)

const serverInstructions = `This server enforces factual consistency for generative model output.

Call "verify" before trusting a generated claim against known invariants.
Call "embed" to turn text into vectors for your own similarity logic.
Call "route" to ask which model tier a task should use before calling it.
Call "recycle" after a human or process rejects an output, so the same
mistake is steered away from in future generations.`

// Embedder is the subset of embedding.Gateway the MCP surface needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Server wraps an MCP server exposing this engine's operations as tools.
type Server struct {
	mcpServer *mcpserver.MCPServer
	pipeline  *verify.Pipeline
	embedder  Embedder
	router    *router.Router
	recycler  *recycler.Recycler
	logger    *slog.Logger
}

// New creates and configures the MCP server with all tools registered.
func New(pipeline *verify.Pipeline, embedder Embedder, rt *router.Router, rec *recycler.Recycler, logger *slog.Logger, version string) *Server {
	s := &Server{
		pipeline: pipeline,
		embedder: embedder,
		router:   rt,
		recycler: rec,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"axiomguard",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}},
	}, nil
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("verify",
			mcplib.WithDescription(`Verify a claim against supplied context and invariants.

WHEN TO USE: before presenting a generated claim as fact, especially one
that should be consistent with pinned invariants (facts that must never be
contradicted).

Returns consistent (bool), confidence (0-1), reasoning, and which model
produced the verdict.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("claim", mcplib.Description("The claim to verify"), mcplib.Required()),
			mcplib.WithString("task_complexity", mcplib.Description(`Optional: "LOW", "MEDIUM", or "HIGH"`)),
			mcplib.WithString("node_id", mcplib.Description("Optional: node identifier, enables a background shadow audit when paired with project_id")),
			mcplib.WithString("project_id", mcplib.Description("Optional: project identifier, enables a background shadow audit when paired with node_id")),
		),
		s.handleVerify,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("embed",
			mcplib.WithDescription("Embed text into a vector, memoized per engine instance."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("text", mcplib.Description("Text to embed"), mcplib.Required()),
		),
		s.handleEmbed,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("route",
			mcplib.WithDescription("Ask which model tier (cloud or local) a task of this shape should use, and its estimated cost."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("task_type", mcplib.Description(`"verification", "generation", "embedding", or "planning"`), mcplib.Required()),
			mcplib.WithNumber("input_tokens", mcplib.Description("Approximate input token count")),
			mcplib.WithString("complexity", mcplib.Description(`"LOW", "MEDIUM", or "HIGH"`)),
			mcplib.WithString("require_high_quality", mcplib.Description(`"true" to force the premium tier regardless of mode`)),
		),
		s.handleRoute,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("recycle",
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithDescription(`Report a rejected generation and its correction so future generations avoid the same mistake.

Runs in the background; returns an immediate acknowledgment.`),
			mcplib.WithString("user_prompt", mcplib.Description("What the user originally asked"), mcplib.Required()),
			mcplib.WithString("rejected_output", mcplib.Description("The incorrect output that was rejected"), mcplib.Required()),
			mcplib.WithString("correction", mcplib.Description("The corrective guidance for next time"), mcplib.Required()),
			mcplib.WithString("project_id", mcplib.Description("Project identifier the antibody is scoped to")),
		),
		s.handleRecycle,
	)
}

func (s *Server) handleVerify(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claim := request.GetString("claim", "")
	if claim == "" {
		return errorResult("claim is required"), nil
	}

	req := model.VerificationRequest{
		Claim:          claim,
		TaskComplexity: model.TaskComplexity(request.GetString("task_complexity", "")),
		NodeID:         request.GetString("node_id", ""),
		ProjectID:      request.GetString("project_id", ""),
	}

	result, err := s.pipeline.Verify(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("verify failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleEmbed(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text := request.GetString("text", "")
	if text == "" {
		return errorResult("text is required"), nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return errorResult(fmt.Sprintf("embed failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"embedding": vec, "dimensions": len(vec)})
}

func (s *Server) handleRoute(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	taskType := request.GetString("task_type", "")
	if taskType == "" {
		return errorResult("task_type is required"), nil
	}

	req := model.SmartRouteRequest{
		TaskType:           model.TaskType(taskType),
		InputTokens:        int64(request.GetInt("input_tokens", 0)),
		Complexity:         model.TaskComplexity(request.GetString("complexity", "")),
		RequireHighQuality: request.GetString("require_high_quality", "") == "true",
	}
	return jsonResult(s.router.Route(req))
}

func (s *Server) handleRecycle(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userPrompt := request.GetString("user_prompt", "")
	rejected := request.GetString("rejected_output", "")
	correction := request.GetString("correction", "")
	if userPrompt == "" || rejected == "" || correction == "" {
		return errorResult("user_prompt, rejected_output, and correction are required"), nil
	}

	ack := s.recycler.Recycle(recycler.Request{
		UserPrompt:     userPrompt,
		RejectedOutput: rejected,
		Correction:     correction,
		ProjectID:      request.GetString("project_id", ""),
	})
	return jsonResult(ack)
}
