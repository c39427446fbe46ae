package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/antibody"
	"github.com/axiomguard/engine/internal/bicameral"
	"github.com/axiomguard/engine/internal/embedding"
	"github.com/axiomguard/engine/internal/llm"
	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/recycler"
	"github.com/axiomguard/engine/internal/router"
	"github.com/axiomguard/engine/internal/server"
	"github.com/axiomguard/engine/internal/verify"
	"github.com/axiomguard/engine/internal/verifycache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct{}

func (fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}
func (fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}
func (fakeProvider) Dimensions() int { return 3 }
func (fakeProvider) Name() string    { return "fake-embedder" }

type fakeChatClient struct{ content string }

func (f fakeChatClient) Complete(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{Content: f.content}, nil
}

type noopStore struct{}

func (noopStore) Insert(_ context.Context, _ model.Antibody) error { return nil }
func (noopStore) MatchAntibodies(_ context.Context, _ []float32, _ float64, _ int) ([]model.Match, error) {
	return nil, nil
}

func newTestHandlers(t *testing.T, hypervisorEnabled bool) *server.Handlers {
	t.Helper()
	out, err := json.Marshal(model.ModelOutput{Consistent: true, Confidence: 0.9, Reasoning: "fine"})
	require.NoError(t, err)

	embedder := embedding.NewGateway(fakeProvider{}, 10)
	rt := router.New(true, "phi3:mini")
	pipeline := verify.New(verify.Config{
		Cache:        verifycache.New(10),
		Embedder:     embedder,
		Router:       rt,
		CloudClient:  fakeChatClient{content: string(out)},
		CloudEnabled: true,
		Logger:       testLogger(),
	})
	rec := recycler.New(embedder, noopStore{}, testLogger())
	var store antibody.Store = noopStore{}
	bc := bicameral.New(bicameral.Config{
		Fiscal:   fakeChatClient{content: "PASS"},
		Embedder: embedder,
		Store:    store,
		Logger:   testLogger(),
	})

	return server.NewHandlers(server.HandlersDeps{
		Pipeline:            pipeline,
		Embedder:            embedder,
		Router:              rt,
		Recycler:            rec,
		Bicameral:           bc,
		HypervisorEnabled:   hypervisorEnabled,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		Logger:              testLogger(),
	})
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer, into any) {
	t.Helper()
	var env model.APIResponse
	env.Data = into
	require.NoError(t, json.NewDecoder(body).Decode(&env))
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandlers(t, false)
	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var health model.HealthResponse
	decodeEnvelope(t, rr.Body, &health)
	assert.Equal(t, "ok", health.Status)
}

func TestHandleVerifyRejectsEmptyClaim(t *testing.T) {
	h := newTestHandlers(t, false)
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewBufferString(`{"claim":""}`))
	rr := httptest.NewRecorder()
	h.HandleVerify(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleVerifyReturnsVerdict(t *testing.T) {
	h := newTestHandlers(t, false)
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewBufferString(`{"claim":"the sky is blue"}`))
	rr := httptest.NewRecorder()
	h.HandleVerify(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var result model.VerificationResult
	decodeEnvelope(t, rr.Body, &result)
	assert.True(t, result.Consistent)
}

func TestHandleEmbedReturnsVectors(t *testing.T) {
	h := newTestHandlers(t, false)
	req := httptest.NewRequest(http.MethodPost, "/embed", bytes.NewBufferString(`{"texts":["hello","world"]}`))
	rr := httptest.NewRecorder()
	h.HandleEmbed(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp model.EmbedResponse
	decodeEnvelope(t, rr.Body, &resp)
	assert.Len(t, resp.Embeddings, 2)
	assert.Equal(t, 3, resp.Dimensions)
}

func TestHandleRouteReturnsDecision(t *testing.T) {
	h := newTestHandlers(t, false)
	req := httptest.NewRequest(http.MethodPost, "/route", bytes.NewBufferString(`{"task_type":"generation"}`))
	rr := httptest.NewRecorder()
	h.HandleRoute(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp model.SmartRouteResponse
	decodeEnvelope(t, rr.Body, &resp)
	assert.NotEmpty(t, resp.RecommendedModel)
}

func TestHandleRecycleAcksImmediately(t *testing.T) {
	h := newTestHandlers(t, false)
	body := `{"user_prompt":"2+2?","rejected_output":"5","correction":"it's 4"}`
	req := httptest.NewRequest(http.MethodPost, "/recycle", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	start := time.Now()
	h.HandleRecycle(rr, req)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Less(t, elapsed, 50*time.Millisecond)

	var resp model.RecycleResponse
	decodeEnvelope(t, rr.Body, &resp)
	assert.Equal(t, "recycling_initiated", resp.Status)
}

func TestHandleGenerateAbsoluteTruthUnavailableWithoutModelPath(t *testing.T) {
	h := newTestHandlers(t, false)
	req := httptest.NewRequest(http.MethodPost, "/generate/absolute_truth", bytes.NewBufferString(`{"claim":"x"}`))
	rr := httptest.NewRecorder()
	h.HandleGenerateAbsoluteTruth(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleGenerateNeuroSymbolicInterruptsWithoutModelPath(t *testing.T) {
	h := newTestHandlers(t, false)
	req := httptest.NewRequest(http.MethodPost, "/generate/neuro-symbolic", bytes.NewBufferString(`{"claim":"x"}`))
	rr := httptest.NewRecorder()
	h.HandleGenerateNeuroSymbolic(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "[INTERRUPT:")
}

func TestHandleBicameralStreamEmitsLineProtocol(t *testing.T) {
	h := newTestHandlers(t, false)
	req := httptest.NewRequest(http.MethodPost, "/bicameral_stream", bytes.NewBufferString(`{"claim":"2+2=4"}`))
	rr := httptest.NewRecorder()
	h.HandleBicameralStream(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	// No creative client configured: the stream must degrade to an E: line
	// rather than hang or panic past the handler.
	assert.Contains(t, rr.Body.String(), "E:")
}
