// Package llm defines the provider-agnostic chat-completion contract shared
// by the cloud (C11) and local (C12) model clients, so the verification
// pipeline (C5) and bicameral streamer (C7) never need to know which one
// they're talking to.
package llm

import "context"

// ChatMessage is a single turn in a chat-completion request.
type ChatMessage struct {
	Role    string // "system", "user", or "assistant".
	Content string
}

// ChatRequest is a provider-agnostic chat-completion request.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	JSONMode    bool
	MaxTokens   int
	Stop        []string
}

// ChatResponse is a provider-agnostic chat-completion result.
type ChatResponse struct {
	Content string
	Model   string
}

// ChatClient completes a chat request against a concrete model provider.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// StreamChunk is one piece of a streamed completion.
type StreamChunk struct {
	Delta string
	Done  bool
}

// StreamingChatClient additionally supports token-by-token delivery, used by
// the bicameral streamer's creative half.
type StreamingChatClient interface {
	ChatClient
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, <-chan error)
}
