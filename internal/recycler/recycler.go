// Package recycler implements the cognitive recycler (C9): it turns a
// caller-reported bad generation plus its correction into a durable
// antibody, so future generations are steered away from the same mistake.
//
// Grounded on the teacher's fire-and-forget background task convention
// (internal/server/middleware.go's detached-task pattern) — Recycle embeds
// and inserts in the background and acknowledges immediately, the same
// shape the shadow auditor (internal/audit) uses for its own webhook
// delivery.
package recycler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/axiomguard/engine/internal/antibody"
	"github.com/axiomguard/engine/internal/embedding"
	"github.com/axiomguard/engine/internal/model"
)

// recycleTimeout bounds the detached embed+insert task.
const recycleTimeout = 15 * time.Second

// Request is the input to Recycle: a rejected generation plus the
// corrective guidance a human or auditor supplied for it.
type Request struct {
	UserPrompt     string `json:"user_prompt"`
	RejectedOutput string `json:"rejected_output"`
	Correction     string `json:"correction"`
	ProjectID      string `json:"project_id"`
}

// Ack is returned synchronously; the actual antibody write happens in the
// background.
type Ack struct {
	Status string `json:"status"`
}

// Recycler turns rejected generations into antibodies.
type Recycler struct {
	embedder *embedding.Gateway
	store    antibody.Store
	logger   *slog.Logger
}

// New creates a Recycler.
func New(embedder *embedding.Gateway, store antibody.Store, logger *slog.Logger) *Recycler {
	return &Recycler{embedder: embedder, store: store, logger: logger}
}

// Recycle forms the learning string, launches the embed+insert as a
// detached background task, and returns an immediate acknowledgment.
func (r *Recycler) Recycle(req Request) Ack {
	go r.run(req)
	return Ack{Status: "recycling_initiated"}
}

func (r *Recycler) run(req Request) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("recycler: recovered from panic", "panic", rec)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), recycleTimeout)
	defer cancel()

	learning := learningString(req)

	// Only the user prompt is embedded, not the full learning string — the
	// embedding drives retrieval by what the user originally asked, while the
	// stored content carries the full corrective narrative.
	vec, err := r.embedder.Embed(ctx, req.UserPrompt)
	if err != nil {
		r.logger.Warn("recycler: embedding unavailable, antibody dropped", "error", err)
		return
	}

	a := model.Antibody{
		Content:   learning,
		Embedding: vec,
		ProjectID: req.ProjectID,
	}
	if err := r.store.Insert(ctx, a); err != nil {
		r.logger.Warn("recycler: antibody insert failed", "error", err)
	}
}

// learningString renders the fixed "PAST FAILURE: ... CORRECTIVE ACTION:
// ..." shape the bicameral streamer surfaces verbatim when an antibody
// matches.
func learningString(req Request) string {
	return fmt.Sprintf(
		"PAST FAILURE: User asked '%s', model replied incorrectly '%s'. CORRECTIVE ACTION: %s",
		req.UserPrompt, req.RejectedOutput, req.Correction,
	)
}
