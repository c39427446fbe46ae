// Package model holds the data types shared across the verification and
// generation pipelines: nodes, invariants, antibodies, axiom pools, and the
// request/response envelopes for the HTTP and MCP surfaces.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskComplexity classifies the difficulty of a verification or generation task.
type TaskComplexity string

const (
	ComplexityLow    TaskComplexity = "LOW"
	ComplexityMedium TaskComplexity = "MEDIUM"
	ComplexityHigh   TaskComplexity = "HIGH"
)

// Node is an opaque record supplied by the caller: a claim, a piece of
// context, or an invariant. Statement and Content are both optional; Text
// resolves them with a fixed fallback order so the rest of the pipeline
// never has to re-derive it.
type Node struct {
	ID        string `json:"id,omitempty"`
	Kind      string `json:"type,omitempty"`
	Statement string `json:"statement,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Text extracts the node's textual payload: statement, else content, else a
// string form of the whole node. The fallback is recomputed on every call
// rather than stored at ingress; every downstream consumer reads Text(),
// never Statement or Content directly.
func (n Node) Text() string {
	if n.Statement != "" {
		return n.Statement
	}
	if n.Content != "" {
		return n.Content
	}
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Sprintf("%+v", n)
	}
	return string(b)
}

// Truncate returns the node's text truncated to max characters, matching the
// 200-character pin/context summary limit used when building model prompts.
func (n Node) Truncate(max int) string {
	t := n.Text()
	if len(t) <= max {
		return t
	}
	r := []rune(t)
	if len(r) <= max {
		return t
	}
	return string(r[:max])
}

// Empty reports whether a node's resolved text is blank once whitespace is
// stripped.
func (n Node) Empty() bool {
	return strings.TrimSpace(n.Text()) == ""
}
