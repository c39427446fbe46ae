package server

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/axiomguard/engine/internal/bicameral"
	"github.com/axiomguard/engine/internal/embedding"
	"github.com/axiomguard/engine/internal/model"
	"github.com/axiomguard/engine/internal/recycler"
	"github.com/axiomguard/engine/internal/router"
	"github.com/axiomguard/engine/internal/verify"
)

// modelPathUnsetMessage is surfaced on the two hypervisor-backed generation
// routes when no logit-accessible model is configured. The in-process model
// (tokenizer + decode loop) is the external collaborator these routes front;
// it is out of this engine's scope, so rather than pretending to generate,
// /generate/absolute_truth answers 503 and /generate/neuro-symbolic writes
// a 200 stream holding only an [INTERRUPT: ...] line.
const modelPathUnsetMessage = "no logit-accessible model configured (MODEL_PATH unset)"

// HandlersDeps bundles every collaborator the HTTP handlers need.
type HandlersDeps struct {
	Pipeline  *verify.Pipeline
	Embedder  *embedding.Gateway
	Router    *router.Router
	Recycler  *recycler.Recycler
	Bicameral *bicameral.Streamer

	HypervisorEnabled bool // true when MODEL_PATH names a configured logit-accessible model.

	Version             string
	MaxRequestBodyBytes int64
	Logger              *slog.Logger
}

// Handlers holds the engine's HTTP handler methods and their dependencies.
type Handlers struct {
	pipeline  *verify.Pipeline
	embedder  *embedding.Gateway
	router    *router.Router
	recycler  *recycler.Recycler
	bicameral *bicameral.Streamer

	hypervisorEnabled bool

	version  string
	maxBody  int64
	logger   *slog.Logger
}

// NewHandlers creates a Handlers from its dependencies.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		pipeline:          deps.Pipeline,
		embedder:          deps.Embedder,
		router:            deps.Router,
		recycler:          deps.Recycler,
		bicameral:         deps.Bicameral,
		hypervisorEnabled: deps.HypervisorEnabled,
		version:           deps.Version,
		maxBody:           deps.MaxRequestBodyBytes,
		logger:            deps.Logger,
	}
}

// HandleHealth serves GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.HealthResponse{Status: "ok", Service: "axiomguard"})
}

// HandleVerify serves POST /verify.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req model.VerificationRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Claim == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "claim is required")
		return
	}

	result, err := h.pipeline.Verify(r.Context(), req)
	if err != nil {
		h.writeInternalError(w, r, "verification failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleEmbed serves POST /embed.
func (h *Handlers) HandleEmbed(w http.ResponseWriter, r *http.Request) {
	var req model.EmbedRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "texts is required")
		return
	}

	vecs, err := h.embedder.EmbedBatch(r.Context(), req.Texts)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeProviderOffline, "embedding provider unavailable")
		return
	}

	writeJSON(w, r, http.StatusOK, model.EmbedResponse{
		Embeddings: vecs,
		ModelUsed:  h.embedder.Name(),
		Dimensions: h.embedder.Dimensions(),
	})
}

// HandleRoute serves POST /route.
func (h *Handlers) HandleRoute(w http.ResponseWriter, r *http.Request) {
	var req model.SmartRouteRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	writeJSON(w, r, http.StatusOK, h.router.Route(req))
}

// HandleRecycle serves POST /recycle. No auth is required (see noAuthPaths).
func (h *Handlers) HandleRecycle(w http.ResponseWriter, r *http.Request) {
	var req model.RecycleRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.UserPrompt == "" || req.RejectedOutput == "" || req.Correction == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user_prompt, rejected_output, and correction are required")
		return
	}

	ack := h.recycler.Recycle(recycler.Request{
		UserPrompt:     req.UserPrompt,
		RejectedOutput: req.RejectedOutput,
		Correction:     req.Correction,
		ProjectID:      req.ProjectID,
	})
	writeJSON(w, r, http.StatusAccepted, model.RecycleResponse{Status: ack.Status})
}

// HandleBicameralStream serves POST /bicameral_stream, a text/plain
// line-delimited A:/B:/E: stream.
func (h *Handlers) HandleBicameralStream(w http.ResponseWriter, r *http.Request) {
	var req model.VerificationRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Claim == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "claim is required")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	events := h.bicameral.Stream(r.Context(), bicameral.Request{
		Claim:          req.Claim,
		Context:        req.Context,
		TaskComplexity: req.TaskComplexity,
	})

	bw := bufio.NewWriter(w)
	defer func() { _ = bw.Flush() }()

	for event := range events {
		switch event.Kind {
		case bicameral.EventChunk:
			fmt.Fprintf(bw, "A:%s\n", event.Content)
		case bicameral.EventVerdict:
			fmt.Fprintf(bw, "B:%s\n", event.Verdict)
		case bicameral.EventError:
			fmt.Fprintf(bw, "E:%s\n", event.Content)
		}
		if canFlush {
			_ = bw.Flush()
			flusher.Flush()
		}
	}
}

// HandleGenerateAbsoluteTruth serves POST /generate/absolute_truth. The
// in-process logit-accessible model it fronts is out of this engine's
// scope; absent MODEL_PATH, the route reports itself unavailable rather
// than silently returning ungoverned text.
func (h *Handlers) HandleGenerateAbsoluteTruth(w http.ResponseWriter, r *http.Request) {
	if !h.hypervisorEnabled {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeProviderOffline, modelPathUnsetMessage)
		return
	}

	var req model.VerificationRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	// MODEL_PATH is set, but this build has no in-process model runtime to
	// load it, so the route still reports itself unavailable.
	writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeProviderOffline,
		"no logit-accessible model runtime in this build (MODEL_PATH is set but not loaded)")
}

// HandleGenerateNeuroSymbolic serves POST /generate/neuro-symbolic, a
// text/plain token stream. Same MODEL_PATH dependency as
// HandleGenerateAbsoluteTruth; absent it, the stream terminates immediately
// with an INTERRUPT marker rather than silently returning nothing.
func (h *Handlers) HandleGenerateNeuroSymbolic(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !h.hypervisorEnabled {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "[INTERRUPT: %s]\n", modelPathUnsetMessage)
		return
	}

	var req model.VerificationRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	// MODEL_PATH is set, but no model runtime exists here to load it.
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "[INTERRUPT: no logit-accessible model runtime in this build (MODEL_PATH is set but not loaded)]\n")
}

