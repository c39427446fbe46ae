package recycler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/embedding"
	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/recycler"
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

type spyStore struct {
	mu       sync.Mutex
	inserted []model.Antibody
	done     chan struct{}
}

func (s *spyStore) Insert(_ context.Context, a model.Antibody) error {
	s.mu.Lock()
	s.inserted = append(s.inserted, a)
	s.mu.Unlock()
	if s.done != nil {
		s.done <- struct{}{}
	}
	return nil
}

func (s *spyStore) MatchAntibodies(_ context.Context, _ []float32, _ float64, _ int) ([]model.Match, error) {
	return nil, nil
}

func TestRecycleAcksImmediatelyAndInsertsInBackground(t *testing.T) {
	store := &spyStore{done: make(chan struct{}, 1)}
	r := recycler.New(embedding.NewGateway(fakeProvider{}, 10), store, testLogger())

	start := time.Now()
	ack := r.Recycle(recycler.Request{
		UserPrompt:     "what's 2+2?",
		RejectedOutput: "5",
		Correction:     "2+2 is 4",
		ProjectID:      "proj-1",
	})
	elapsed := time.Since(start)

	assert.Equal(t, "recycling_initiated", ack.Status)
	assert.Less(t, elapsed, 50*time.Millisecond, "Recycle must return before the background insert completes")

	select {
	case <-store.done:
	case <-time.After(2 * time.Second):
		t.Fatal("antibody was never inserted")
	}

	require.Len(t, store.inserted, 1)
	a := store.inserted[0]
	assert.Equal(t, "proj-1", a.ProjectID)
	assert.Contains(t, a.Content, "PAST FAILURE")
	assert.Contains(t, a.Content, "what's 2+2?")
	assert.Contains(t, a.Content, "2+2 is 4")
	assert.Contains(t, a.Content, "CORRECTIVE ACTION")
	assert.NotEmpty(t, a.Embedding)
}
