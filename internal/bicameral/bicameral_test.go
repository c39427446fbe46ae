package bicameral_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/bicameral"
	"github.com/axiomguard/engine/internal/llm"
	"github.com/axiomguard/engine/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStreamingClient replays a fixed sequence of deltas with a small delay
// between them, so the fiscal verdict reliably arrives mid-stream in tests.
type fakeStreamingClient struct {
	deltas []string
	delay  time.Duration
	last   llm.ChatRequest // the request passed to the most recent Stream call
}

func (f *fakeStreamingClient) Complete(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{}, nil
}

func (f *fakeStreamingClient) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	f.last = req
	chunks := make(chan llm.StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, d := range f.deltas {
			select {
			case chunks <- llm.StreamChunk{Delta: d}:
			case <-ctx.Done():
				return
			}
			if f.delay > 0 {
				time.Sleep(f.delay)
			}
		}
		chunks <- llm.StreamChunk{Done: true}
	}()
	return chunks, errs
}

type fakeFiscalClient struct {
	verdict string
	delay   time.Duration
}

func (f *fakeFiscalClient) Complete(ctx context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return llm.ChatResponse{}, ctx.Err()
		}
	}
	return llm.ChatResponse{Content: f.verdict}, nil
}

func drain(t *testing.T, events <-chan bicameral.Event, timeout time.Duration) []bicameral.Event {
	t.Helper()
	var out []bicameral.Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			t.Fatal("timed out draining bicameral stream")
		}
	}
}

func TestStreamEmitsChunksAndSingleVerdict(t *testing.T) {
	s := bicameral.New(bicameral.Config{
		Creative: &fakeStreamingClient{deltas: []string{"hello ", "world"}, delay: 10 * time.Millisecond},
		Fiscal:   &fakeFiscalClient{verdict: "PASS"},
		Logger:   testLogger(),
	})

	events := s.Stream(context.Background(), bicameral.Request{Claim: "2+2=4"})
	got := drain(t, events, 2*time.Second)

	var chunkCount, verdictCount int
	var verdict string
	for _, e := range got {
		switch e.Kind {
		case bicameral.EventChunk:
			chunkCount++
		case bicameral.EventVerdict:
			verdictCount++
			verdict = e.Verdict
		}
	}
	assert.Equal(t, 2, chunkCount)
	require.Equal(t, 1, verdictCount, "B: must be emitted exactly once")
	assert.Equal(t, "PASS", verdict)
}

func TestStreamFallacyVerdictSurfaces(t *testing.T) {
	s := bicameral.New(bicameral.Config{
		Creative: &fakeStreamingClient{deltas: []string{"x"}},
		Fiscal:   &fakeFiscalClient{verdict: "FALLACY"},
		Logger:   testLogger(),
	})

	events := s.Stream(context.Background(), bicameral.Request{Claim: "false claim"})
	got := drain(t, events, 2*time.Second)

	var verdicts []string
	for _, e := range got {
		if e.Kind == bicameral.EventVerdict {
			verdicts = append(verdicts, e.Verdict)
		}
	}
	require.Len(t, verdicts, 1)
	assert.Equal(t, "FALLACY", verdicts[0])
}

func TestStreamNoFiscalClientDefaultsPass(t *testing.T) {
	s := bicameral.New(bicameral.Config{
		Creative: &fakeStreamingClient{deltas: []string{"a"}},
		Logger:   testLogger(),
	})

	events := s.Stream(context.Background(), bicameral.Request{Claim: "claim"})
	got := drain(t, events, 2*time.Second)

	var found bool
	for _, e := range got {
		if e.Kind == bicameral.EventVerdict {
			assert.Equal(t, "PASS", e.Verdict)
			found = true
		}
	}
	assert.True(t, found)
}

func TestStreamPrunesContextToFirstThreeOnEmbedderUnavailable(t *testing.T) {
	// With no embedder configured, pruning must degrade to input order,
	// truncated to the first three nodes, rather than failing the stream.
	nodes := []model.Node{
		{Content: "one"}, {Content: "two"}, {Content: "three"}, {Content: "four"},
	}
	creative := &fakeStreamingClient{deltas: []string{"ok"}}
	s := bicameral.New(bicameral.Config{
		Creative: creative,
		Fiscal:   &fakeFiscalClient{verdict: "PASS"},
		Logger:   testLogger(),
	})

	events := s.Stream(context.Background(), bicameral.Request{Claim: "claim", Context: nodes})
	got := drain(t, events, 2*time.Second)
	require.NotEmpty(t, got)

	require.Len(t, creative.last.Messages, 2)
	prompt := creative.last.Messages[1].Content
	assert.Contains(t, prompt, "- one\n- two\n- three\n")
	assert.NotContains(t, prompt, "four")
}
