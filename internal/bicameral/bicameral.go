// Package bicameral implements the bicameral streaming interceptor (C7): a
// creative generation stream shadowed by a fast fiscal-discipline check,
// multiplexed onto one line-oriented wire protocol (A:/B:/E:).
//
// Grounded on the teacher's dual-channel generation pattern in
// internal/service/decisions (a primary generation task racing a cheaper
// verifier task, first-to-settle-wins signaling via a buffered channel) and
// on cloud.Client.Stream / local.Client.Stream for the token-delta channel
// shape this package consumes.
package bicameral

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/axiomguard/engine/internal/antibody"
	"github.com/axiomguard/engine/internal/embedding"
	"github.com/axiomguard/engine/internal/llm"
	"github.com/axiomguard/engine/internal/model"
)

// maxPrunedContext is the number of highest-similarity context nodes kept
// for the creative prompt after semantic pruning.
const maxPrunedContext = 3

// Antibody injection constants per §4.7: at most 2 matches, similarity
// threshold 0.5.
const (
	maxInjectedAntibodies  = 2
	antibodyMatchThreshold = 0.5
)

const antibodyBanner = "NEURAL ANTIBODIES DETECTED (AVOID THESE PAST MISTAKES)"

// Event is one line of the bicameral wire protocol.
type Event struct {
	Kind    EventKind
	Content string // creative chunk (Chunk) or error message (Error); empty for Verdict.
	Verdict string // "PASS" or "FALLACY"; set only when Kind == Verdict.
}

// EventKind discriminates the three line prefixes (A:/B:/E:).
type EventKind int

const (
	EventChunk EventKind = iota
	EventVerdict
	EventError
)

// Request is the input to a bicameral stream.
type Request struct {
	Claim          string
	Context        []model.Node
	TaskComplexity model.TaskComplexity
}

// Streamer runs the creative/fiscal dual-stream generation.
type Streamer struct {
	creative llm.StreamingChatClient
	fiscal   llm.ChatClient
	embedder *embedding.Gateway
	store    antibody.Store // nil disables antibody injection.
	logger   *slog.Logger
}

// Config bundles the Streamer's collaborators.
type Config struct {
	Creative llm.StreamingChatClient
	Fiscal   llm.ChatClient
	Embedder *embedding.Gateway
	Store    antibody.Store
	Logger   *slog.Logger
}

// New creates a Streamer.
func New(cfg Config) *Streamer {
	return &Streamer{
		creative: cfg.Creative,
		fiscal:   cfg.Fiscal,
		embedder: cfg.Embedder,
		store:    cfg.Store,
		logger:   cfg.Logger,
	}
}

// Stream runs the dual creative/fiscal generation and emits Events on the
// returned channel until the creative stream ends (the fiscal verdict is
// emitted then if it has not been already), the creative stream reports an
// error, or the context is cancelled. The whole stream is bounded at 60s.
// The channel is always closed before Stream's background goroutine exits.
func (s *Streamer) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("bicameral: recovered from panic", "panic", r)
				out <- Event{Kind: EventError, Content: "internal error"}
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		prunedContext := s.pruneContext(ctx, req)
		creativePrompt := s.buildCreativePrompt(ctx, req, prunedContext)

		// Creative and fiscal are child tasks of this bicameral scope; the
		// fiscal task begins before the creative task per §4.7.
		g, gCtx := errgroup.WithContext(ctx)
		fiscalResult := make(chan string, 1)
		g.Go(func() error {
			s.runFiscal(gCtx, req, fiscalResult)
			return nil
		})

		chunks, errs := s.creative.Stream(ctx, llm.ChatRequest{
			Messages: []llm.ChatMessage{
				{Role: "system", Content: "You are a creative reasoning assistant."},
				{Role: "user", Content: creativePrompt},
			},
			Temperature: 0.7,
		})

		s.pump(ctx, out, chunks, errs, fiscalResult)
		_ = g.Wait()
	}()

	return out
}

// pump multiplexes creative chunks and the fiscal verdict onto out,
// emitting B: exactly once per §4.7's race: as soon as both the fiscal
// result is ready and at least one creative chunk has been sent, or once
// the creative stream ends, whichever comes first.
func (s *Streamer) pump(ctx context.Context, out chan<- Event, chunks <-chan llm.StreamChunk, errs <-chan error, fiscalResult <-chan string) {
	var (
		sawChunk      bool
		verdictSent   bool
		pendingVerdict string
		haveFiscal    bool
	)

	emitVerdict := func(v string) {
		if verdictSent {
			return
		}
		out <- Event{Kind: EventVerdict, Verdict: v}
		verdictSent = true
	}

	// awaitVerdict is called once the creative stream has ended. runFiscal
	// always produces exactly one value before closing its channel, so
	// blocking here is bounded — this is the "after the creative stream
	// ends" half of §4.7's race, guaranteeing exactly one B: line even when
	// the fiscal task is still the slower of the two.
	awaitVerdict := func() {
		if verdictSent {
			return
		}
		if haveFiscal {
			emitVerdict(pendingVerdict)
			return
		}
		if v, ok := <-fiscalResult; ok {
			emitVerdict(v)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case v, ok := <-fiscalResult:
			if ok {
				haveFiscal = true
				pendingVerdict = v
				if sawChunk {
					emitVerdict(pendingVerdict)
				}
			}
			fiscalResult = nil // don't select on a closed/consumed channel again.

		case chunk, ok := <-chunks:
			if !ok {
				awaitVerdict()
				return
			}
			if chunk.Done {
				awaitVerdict()
				return
			}
			if chunk.Delta != "" {
				out <- Event{Kind: EventChunk, Content: chunk.Delta}
				sawChunk = true
				if haveFiscal && !verdictSent {
					emitVerdict(pendingVerdict)
				}
			}

		case err, ok := <-errs:
			if ok && err != nil {
				out <- Event{Kind: EventError, Content: err.Error()}
				return
			}
		}
	}
}

// runFiscal issues the single-shot low-token fiscal-discipline query and
// sends its PASS/FALLACY verdict on result. Any failure degrades to PASS —
// the fiscal check is advisory and must never block the creative stream.
func (s *Streamer) runFiscal(ctx context.Context, req Request, result chan<- string) {
	defer close(result)

	if s.fiscal == nil {
		result <- "PASS"
		return
	}

	resp, err := s.fiscal.Complete(ctx, llm.ChatRequest{
		Messages: []llm.ChatMessage{
			{Role: "system", Content: "Reply with exactly one word: PASS or FALLACY."},
			{Role: "user", Content: fmt.Sprintf("Claim: %s", req.Claim)},
		},
		Temperature: 0,
		MaxTokens:   5,
		Stop:        []string{"\n"},
	})
	if err != nil {
		s.logger.Debug("bicameral: fiscal check unavailable, defaulting to PASS", "error", err)
		result <- "PASS"
		return
	}

	if strings.Contains(strings.ToUpper(resp.Content), "FALLACY") {
		result <- "FALLACY"
		return
	}
	result <- "PASS"
}

// pruneContext embeds the claim and every context node, ranks nodes by
// cosine similarity to the claim, and keeps the top maxPrunedContext. Any
// embedding failure degrades to the first maxPrunedContext nodes in input
// order (§4.7).
func (s *Streamer) pruneContext(ctx context.Context, req Request) []model.Node {
	if len(req.Context) <= maxPrunedContext {
		return req.Context
	}
	if s.embedder == nil {
		return req.Context[:maxPrunedContext]
	}

	claimVec, err := s.embedder.Embed(ctx, req.Claim)
	if err != nil {
		return req.Context[:maxPrunedContext]
	}

	texts := make([]string, len(req.Context))
	for i, n := range req.Context {
		texts[i] = n.Text()
	}
	nodeVecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return req.Context[:maxPrunedContext]
	}

	type scored struct {
		node  model.Node
		score float64
	}
	scoredNodes := make([]scored, len(req.Context))
	for i, n := range req.Context {
		scoredNodes[i] = scored{node: n, score: cosineSimilarity(claimVec, nodeVecs[i])}
	}
	sort.SliceStable(scoredNodes, func(i, j int) bool { return scoredNodes[i].score > scoredNodes[j].score })

	top := scoredNodes
	if len(top) > maxPrunedContext {
		top = top[:maxPrunedContext]
	}
	out := make([]model.Node, len(top))
	for i, sc := range top {
		out[i] = sc.node
	}
	return out
}

// buildCreativePrompt assembles the final creative-stream prompt: an
// antibody warning banner (when matches are found), the pruned context, and
// the claim itself.
func (s *Streamer) buildCreativePrompt(ctx context.Context, req Request, prunedContext []model.Node) string {
	var b strings.Builder

	if banner := s.antibodyBanner(ctx, req); banner != "" {
		b.WriteString(banner)
		b.WriteString("\n\n")
	}

	b.WriteString("Context:\n")
	for _, n := range prunedContext {
		b.WriteString("- ")
		b.WriteString(n.Truncate(200))
		b.WriteString("\n")
	}
	b.WriteString("\nRespond to: ")
	b.WriteString(req.Claim)
	return b.String()
}

// antibodyBanner searches the antibody store for matches against the claim
// and renders the warning banner, or "" when the store is unreachable, nil,
// or no match clears the threshold — injection degrades silently (§4.7).
func (s *Streamer) antibodyBanner(ctx context.Context, req Request) string {
	if s.store == nil || s.embedder == nil {
		return ""
	}
	claimVec, err := s.embedder.Embed(ctx, req.Claim)
	if err != nil {
		return ""
	}
	matches, err := s.store.MatchAntibodies(ctx, claimVec, antibodyMatchThreshold, maxInjectedAntibodies)
	if err != nil || len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(antibodyBanner)
	b.WriteString(":\n")
	for _, m := range matches {
		b.WriteString("- ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// cosineSimilarity mirrors vectorskip's implementation: 0 on zero-norm or
// mismatched dimensions rather than NaN.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		da, db := float64(a[i]), float64(b[i])
		dot += da * db
		normA += da * da
		normB += db * db
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
