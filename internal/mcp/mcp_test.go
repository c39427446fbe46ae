package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/llm"
	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/recycler"
	"github.com/axiomguard/engine/internal/router"
	"github.com/axiomguard/engine/internal/verify"
	"github.com/axiomguard/engine/internal/verifycache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 0, 1}, nil
}

type fakeChatClient struct{ content string }

func (f fakeChatClient) Complete(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{Content: f.content}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	out, err := json.Marshal(model.ModelOutput{Consistent: true, Confidence: 0.9, Reasoning: "fine"})
	require.NoError(t, err)

	pipeline := verify.New(verify.Config{
		Cache:        verifycache.New(10),
		Router:       router.New(true, "phi3:mini"),
		CloudClient:  fakeChatClient{content: string(out)},
		CloudEnabled: true,
		Logger:       testLogger(),
	})
	rt := router.New(true, "phi3:mini")
	rec := recycler.New(nil, nil, testLogger())
	return New(pipeline, fakeEmbedder{}, rt, rec, testLogger(), "test")
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestHandleVerifyRejectsMissingClaim(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleVerify(context.Background(), toolRequest("verify", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "claim is required")
}

func TestHandleVerifyReturnsVerdict(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleVerify(context.Background(), toolRequest("verify", map[string]any{"claim": "the sky is blue"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "consistent")
}

func TestHandleEmbedReturnsVector(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleEmbed(context.Background(), toolRequest("embed", map[string]any{"text": "hello"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "dimensions")
}

func TestHandleRouteRequiresTaskType(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleRoute(context.Background(), toolRequest("route", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRouteReturnsDecision(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleRoute(context.Background(), toolRequest("route", map[string]any{"task_type": "generation"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "recommended_model")
}

func TestHandleRecycleAcksImmediately(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleRecycle(context.Background(), toolRequest("recycle", map[string]any{
		"user_prompt":     "what's 2+2",
		"rejected_output": "5",
		"correction":      "it's 4",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "recycling_initiated")
}
