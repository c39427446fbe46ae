// Package local wraps Ollama's chat API (C12) behind llm.ChatClient and
// llm.StreamingChatClient, the local-mode counterpart to internal/llm/cloud.
//
// Grounded on the teacher's internal/service/embedding/ollama.go for the
// HTTP client shape (baseURL default, newline-delimited JSON decoding,
// context-aware requests); the streaming decode loop is new since the
// teacher's Ollama usage was embeddings-only.
package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/axiomguard/engine/internal/llm"
)

// Client calls a local Ollama server's chat-completion API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a local chat client. baseURL defaults to Ollama's standard
// local endpoint when empty.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func buildRequest(req llm.ChatRequest, stream bool) ollamaChatRequest {
	messages := make([]ollamaMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}
	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   stream,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		},
	}
	if req.JSONMode {
		body.Format = "json"
	}
	return body
}

// Complete issues a single non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	reqBody, err := json.Marshal(buildRequest(req, false))
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("local: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("local: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("local: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return llm.ChatResponse{}, fmt.Errorf("local: status %d", resp.StatusCode)
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("local: decode response: %w", err)
	}
	return llm.ChatResponse{Content: result.Message.Content, Model: req.Model}, nil
}

// Stream issues a streaming chat completion, decoding Ollama's
// newline-delimited JSON response body one object per line.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk)
	errs := make(chan error, 1)

	reqBody, err := json.Marshal(buildRequest(req, true))
	if err != nil {
		go func() {
			errs <- fmt.Errorf("local: marshal request: %w", err)
			close(chunks)
			close(errs)
		}()
		return chunks, errs
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(reqBody))
		if err != nil {
			errs <- fmt.Errorf("local: create request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("local: send request: %w", err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			errs <- fmt.Errorf("local: status %d", resp.StatusCode)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				errs <- fmt.Errorf("local: decode stream line: %w", err)
				return
			}
			select {
			case chunks <- llm.StreamChunk{Delta: chunk.Message.Content, Done: chunk.Done}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("local: read stream: %w", err)
		}
	}()

	return chunks, errs
}
