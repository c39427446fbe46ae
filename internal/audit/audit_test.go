package audit_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/audit"
	"github.com/axiomguard/engine/internal/llm"
	"github.com/axiomguard/engine/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedClient replies based on which marker the prompt asks the persona to
// use, so each persona can be made to flag or stay clean independently.
type scriptedClient struct {
	flagged map[string]string // marker substring -> persona response to return
}

func (s *scriptedClient) Complete(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	prompt := req.Messages[0].Content
	for marker, response := range s.flagged {
		if strings.Contains(prompt, marker) {
			return llm.ChatResponse{Content: response}, nil
		}
	}
	return llm.ChatResponse{Content: "HONEST_TONE"}, nil
}

func TestAuditBelowThresholdNeverCallsWebhook(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &scriptedClient{flagged: map[string]string{}}
	a := audit.New(client, srv.URL, testLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); a.Schedule(model.VerificationRequest{NodeID: "n1", ProjectID: "p1"}, model.VerificationResult{Consistent: true}) }()
	wg.Wait()

	time.Sleep(150 * time.Millisecond)
	assert.False(t, called)
}

func TestAuditAboveThresholdDeliversWebhook(t *testing.T) {
	received := make(chan webhookBody, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Logician flags (weight 0.5) alone already exceeds the 0.2 threshold.
	client := &scriptedClient{flagged: map[string]string{
		"FAULTS:": "FAULTS: the reasoning contradicts itself",
	}}
	a := audit.New(client, srv.URL, testLogger())

	a.Schedule(model.VerificationRequest{NodeID: "n1", ProjectID: "p1", Claim: "2+2=5"}, model.VerificationResult{Consistent: true, Reasoning: "looks fine"})

	select {
	case body := <-received:
		assert.Equal(t, "n1", body.NodeID)
		assert.Equal(t, "p1", body.ProjectID)
		assert.InDelta(t, 0.5, body.Audit.SycophancyScore, 1e-9)
		assert.Contains(t, body.Audit.Antithesis, "contradicts itself")
		assert.Equal(t, "looks fine", body.Audit.Thesis)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestAuditNeverSchedulesWithoutWebhookOrLocalModel(t *testing.T) {
	a := audit.New(nil, "", testLogger())
	// Schedule must be a safe no-op; this must not panic or hang.
	a.Schedule(model.VerificationRequest{NodeID: "n1", ProjectID: "p1"}, model.VerificationResult{})
	require.NotNil(t, a)
}

type webhookBody struct {
	NodeID    string `json:"node_id"`
	ProjectID string `json:"project_id"`
	Audit     struct {
		SycophancyScore float64 `json:"sycophancy_score"`
		Thesis          string  `json:"thesis"`
		Antithesis      string  `json:"antithesis"`
	} `json:"audit"`
}
