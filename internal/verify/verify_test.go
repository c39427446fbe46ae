package verify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/llm"
	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/router"
	"github.com/axiomguard/engine/internal/verify"
	"github.com/axiomguard/engine/internal/verifycache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChatClient returns a fixed response or error, recording the last
// request it was sent.
type fakeChatClient struct {
	resp llm.ChatResponse
	err  error
	last llm.ChatRequest
}

func (f *fakeChatClient) Complete(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	f.last = req
	if f.err != nil {
		return llm.ChatResponse{}, f.err
	}
	return f.resp, nil
}

func jsonContent(t *testing.T, out model.ModelOutput) string {
	t.Helper()
	b, err := json.Marshal(out)
	require.NoError(t, err)
	return string(b)
}

func newPipeline(t *testing.T, cloud llm.ChatClient, auditor verify.Auditor) *verify.Pipeline {
	t.Helper()
	return verify.New(verify.Config{
		Cache:        verifycache.New(10),
		Router:       router.New(true, "phi3:mini"),
		CloudClient:  cloud,
		CloudEnabled: true,
		Auditor:      auditor,
		Logger:       testLogger(),
	})
}

func TestVerifyParsesModelOutput(t *testing.T) {
	cloud := &fakeChatClient{resp: llm.ChatResponse{
		Content: jsonContent(t, model.ModelOutput{Consistent: false, Confidence: 0.9, Reasoning: "contradicts pin"}),
	}}
	p := newPipeline(t, cloud, nil)

	result, err := p.Verify(context.Background(), model.VerificationRequest{Claim: "the sky is green"})
	require.NoError(t, err)
	assert.False(t, result.Consistent)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Equal(t, "contradicts pin", result.Reasoning)
}

func TestVerifyUnparseableOutputDefaultsConsistent(t *testing.T) {
	cloud := &fakeChatClient{resp: llm.ChatResponse{Content: "not json"}}
	p := newPipeline(t, cloud, nil)

	result, err := p.Verify(context.Background(), model.VerificationRequest{Claim: "anything"})
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.Equal(t, 0.5, result.Confidence)
	assert.Equal(t, "unparseable, defaulting consistent", result.Reasoning)
}

func TestVerifyTransportFailureFallsBackOffline(t *testing.T) {
	cloud := &fakeChatClient{err: assertErr{}}
	p := newPipeline(t, cloud, nil)

	result, err := p.Verify(context.Background(), model.VerificationRequest{Claim: "anything"})
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	assert.Equal(t, 0.3, result.Confidence)
	assert.Equal(t, "engine offline, default safe", result.Reasoning)
	assert.Equal(t, "offline-fallback", result.ModelUsed)
}

func TestVerifyCacheHitSkipsModelCall(t *testing.T) {
	cloud := &fakeChatClient{resp: llm.ChatResponse{
		Content: jsonContent(t, model.ModelOutput{Consistent: true, Confidence: 0.8, Reasoning: "fine"}),
	}}
	p := newPipeline(t, cloud, nil)
	req := model.VerificationRequest{Claim: "cacheable claim"}

	first, err := p.Verify(context.Background(), req)
	require.NoError(t, err)

	cloud.resp = llm.ChatResponse{Content: jsonContent(t, model.ModelOutput{Consistent: false, Confidence: 0.1, Reasoning: "should not be seen"})}

	second, err := p.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Consistent, second.Consistent)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Contains(t, second.ModelUsed, "(Cached)")
}

type schedulerSpy struct {
	called bool
	req    model.VerificationRequest
}

func (s *schedulerSpy) Schedule(req model.VerificationRequest, _ model.VerificationResult) {
	s.called = true
	s.req = req
}

func TestVerifySchedulesAuditOnlyWhenIdentityPresent(t *testing.T) {
	cloud := &fakeChatClient{resp: llm.ChatResponse{
		Content: jsonContent(t, model.ModelOutput{Consistent: true, Confidence: 0.7, Reasoning: "ok"}),
	}}

	spy := &schedulerSpy{}
	p := newPipeline(t, cloud, spy)
	_, err := p.Verify(context.Background(), model.VerificationRequest{Claim: "no identity"})
	require.NoError(t, err)
	assert.False(t, spy.called)

	spy2 := &schedulerSpy{}
	p2 := newPipeline(t, cloud, spy2)
	_, err = p2.Verify(context.Background(), model.VerificationRequest{Claim: "has identity", NodeID: "n1", ProjectID: "p1"})
	require.NoError(t, err)
	assert.True(t, spy2.called)
	assert.Equal(t, "n1", spy2.req.NodeID)
}

type assertErr struct{}

func (assertErr) Error() string { return "transport failure" }
