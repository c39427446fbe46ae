// Package hypervisor computes per-token logit biases that steer an
// in-process, logit-accessible model's decode loop away from known-false
// assertions and toward invariants.
//
// The model itself — tokenizer, vocabulary enumeration, decode loop — is the
// external "in-process logit-accessible model" collaborator named out of
// scope in the engine's purpose statement; this package is the pure
// bias-calculation core that such a model's decode loop calls at every step.
// Grounded on the teacher's cosineSimilarity-style pure-function design
// (internal/conflicts/scorer.go): no I/O, safe for concurrent read-only use
// once SyncAxioms has populated a pool.
package hypervisor

import (
	"strings"
	"sync"

	"github.com/axiomguard/engine/internal/model"
)

// VocabMap maps a model's token text (decoded, trimmed, non-empty) to its
// token id. Built once per model instance and shared process-wide; see
// NewVocabMap.
type VocabMap map[string]int32

// NewVocabMap builds a VocabMap from a model's raw token decode function:
// decode is called once per token id in [0, vocabSize); ids whose decoded
// text is empty after whitespace trimming are skipped, and decode errors are
// ignored (the token is simply omitted). This is the only O(|vocab|) pass;
// callers must memoise the result with a sync.Once, never rebuild per
// request.
func NewVocabMap(vocabSize int32, decode func(id int32) (string, error)) VocabMap {
	vocab := make(VocabMap, vocabSize)
	for id := int32(0); id < vocabSize; id++ {
		text, err := decode(id)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		vocab[text] = id
	}
	return vocab
}

// Bias magnitudes are tunable per spec §9 Open Question (c); Hypervisor
// carries its own copies rather than reading global constants so multiple
// instances (e.g. under test) can use different magnitudes.
const (
	defaultVetoBias  float32 = -1e4
	defaultBoostBias float32 = 4.0
)

// axiomEntry pairs an axiom's lowercased text with its polarity, pre-split
// into prefixes is unnecessary here since matching is substring-based over
// the whole key; what IS cached is the lowercased form, avoiding a
// per-decode-step ToLower of every axiom.
type axiomEntry struct {
	text     string
	polarity model.Polarity
}

// lowerVocabEntry is one vocabulary token pre-lowercased for matching.
type lowerVocabEntry struct {
	lower string
	id    int32
}

// Hypervisor owns one generation call's axiom pool and the shared,
// read-only vocabulary map, and answers per-decode-step bias queries. Each
// query checks every vocabulary token against every axiom, so its cost is
// O(|vocab| · |axioms|) substring checks; axiom prefixes are not pre-computed.
type Hypervisor struct {
	mu        sync.RWMutex
	axioms    []axiomEntry
	vetoBias  float32
	boostBias float32
	conflicts []string // text collisions resolved TRUE-wins, for the caller to log

	// vocabMu guards loweredVocab, the memoised lowercase copy of the last
	// vocabulary passed to CalculateLogitBias. A Hypervisor instance lives
	// exactly one generation call (§3 Ownership) and the process-wide
	// VocabMap never changes underneath it, so the lowercasing pass — the
	// only O(|vocab|) work left in this package — runs once per instance
	// instead of once per decode step.
	vocabMu      sync.Mutex
	vocabLen     int
	loweredVocab []lowerVocabEntry
}

// New creates a Hypervisor with the given veto/boost magnitudes. Zero values
// fall back to the spec defaults (−1e4 / +4.0).
func New(vetoBias, boostBias float32) *Hypervisor {
	if vetoBias == 0 {
		vetoBias = defaultVetoBias
	}
	if boostBias == 0 {
		boostBias = defaultBoostBias
	}
	return &Hypervisor{vetoBias: vetoBias, boostBias: boostBias}
}

// SyncAxioms replaces the active axiom pool. Must be called once per
// generation call before any CalculateLogitBias call; the Hypervisor owns
// this pool exclusively for the duration of that call (never shared across
// concurrent generations).
func (h *Hypervisor) SyncAxioms(pool model.AxiomPool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.axioms = make([]axiomEntry, 0, len(pool))
	for text, polarity := range pool {
		h.axioms = append(h.axioms, axiomEntry{text: strings.ToLower(text), polarity: polarity})
	}
}

// SetConflicts records the axiom text collisions that model.NewAxiomPool
// resolved TRUE-wins for the pool passed to SyncAxioms, so they can be
// logged at the hypervisor boundary too.
func (h *Hypervisor) SetConflicts(conflicts []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflicts = conflicts
}

// CalculateLogitBias scans the vocabulary for tokens whose text, appended to
// currentText, would complete or extend a known axiom key, and returns a
// sparse per-token-id bias map. Substring matching is case-insensitive.
// Ties between a TRUE and FALSE match on the same token resolve TRUE-wins.
// Tokens touching no axiom are simply absent from the result (implicit 0
// bias) rather than included at 0, keeping the map sparse.
func (h *Hypervisor) CalculateLogitBias(currentText string, vocab VocabMap) map[int32]float32 {
	h.mu.RLock()
	axioms := h.axioms
	h.mu.RUnlock()

	if len(axioms) == 0 || len(vocab) == 0 {
		return nil
	}

	lowerCurrent := strings.ToLower(currentText)
	bias := make(map[int32]float32)
	lowered := h.loweredVocabFor(vocab)

	for _, entry := range lowered {
		candidate := lowerCurrent + entry.lower

		var truePolarity, falsePolarity bool
		for _, ax := range axioms {
			if !extendsOrCompletes(candidate, lowerCurrent, ax.text) {
				continue
			}
			if ax.polarity == model.PolarityTrue {
				truePolarity = true
			} else {
				falsePolarity = true
			}
		}

		switch {
		case truePolarity:
			// TRUE wins ties with FALSE on the same token.
			bias[entry.id] = h.boostBias
		case falsePolarity:
			bias[entry.id] = h.vetoBias
		}
	}

	if len(bias) == 0 {
		return nil
	}
	return bias
}

// loweredVocabFor returns the memoised lowercase copy of vocab, rebuilding it
// only the first time it's seen (or if its size changes, which never happens
// for the process-wide VocabMap in practice but keeps this safe under test
// fixtures that swap vocabularies between calls).
func (h *Hypervisor) loweredVocabFor(vocab VocabMap) []lowerVocabEntry {
	h.vocabMu.Lock()
	defer h.vocabMu.Unlock()

	if h.loweredVocab != nil && h.vocabLen == len(vocab) {
		return h.loweredVocab
	}

	lowered := make([]lowerVocabEntry, 0, len(vocab))
	for text, id := range vocab {
		lowered = append(lowered, lowerVocabEntry{lower: strings.ToLower(text), id: id})
	}
	h.loweredVocab = lowered
	h.vocabLen = len(vocab)
	return lowered
}

// extendsOrCompletes reports whether appending the candidate continuation to
// currentText either (a) is itself a substring of axiom, meaning the token
// would extend toward completing it, or (b) together with currentText forms
// a string containing axiom outright (the token completes it). Both
// directions matter: a long axiom is usually completed incrementally across
// many tokens, only the last of which contains the full axiom text.
func extendsOrCompletes(candidate, prefix, axiom string) bool {
	if axiom == "" {
		return false
	}
	if strings.Contains(candidate, axiom) {
		return true
	}
	// The token's continuation is itself a prefix-compatible fragment of the
	// axiom that hasn't been fully emitted yet: axiom contains the
	// newly-extended suffix as its own prefix continuation.
	if len(candidate) > len(prefix) && strings.HasPrefix(axiom, candidate[len(prefix):]) {
		return true
	}
	return strings.Contains(axiom, candidate)
}
