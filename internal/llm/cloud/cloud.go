// Package cloud wraps the OpenAI-compatible chat-completions API (C11)
// behind llm.ChatClient, so the verification pipeline and bicameral
// streamer never call the SDK directly.
//
// Grounded on the teacher's pack-mate vvoland-cagent's openai provider
// client: same openai.ChatCompletionNewParams construction, same
// option.WithBaseURL/option.WithAPIKey wiring for an OpenAI-compatible
// gateway (here, OpenRouter).
package cloud

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/axiomguard/engine/internal/llm"
)

// openRouterBaseURL is OpenRouter's OpenAI-compatible chat-completions endpoint.
const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Client wraps an OpenAI (or OpenRouter) chat-completions client.
type Client struct {
	sdk          openai.Client
	usingRouter  bool
	refererTitle string
}

// Option configures a Client.
type Option func(*config)

type config struct {
	baseURL      string
	referer      string
	title        string
	useOpenRouter bool
}

// WithOpenRouter points the client at OpenRouter's OpenAI-compatible base
// URL and attaches the HTTP-Referer/X-Title headers OpenRouter uses for
// attribution. OpenRouter wins when both OPENROUTER_API_KEY and
// OPENAI_API_KEY are configured.
func WithOpenRouter(referer, title string) Option {
	return func(c *config) {
		c.useOpenRouter = true
		c.baseURL = openRouterBaseURL
		c.referer = referer
		c.title = title
	}
}

// New creates a cloud chat client. apiKey is the OpenAI or OpenRouter key;
// which one is selected is the caller's responsibility (main.newCloudClient
// picks OpenRouter when both keys are present, via config.UseOpenRouter).
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("cloud: API key is required")
	}
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.referer != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", cfg.referer))
	}
	if cfg.title != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Title", cfg.title))
	}

	return &Client{
		sdk:         openai.NewClient(reqOpts...),
		usingRouter: cfg.useOpenRouter,
	}, nil
}

// Complete issues a single (non-streaming) chat completion.
func (c *Client) Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop.OfStringArray = req.Stop
	}
	if req.JSONMode {
		params.ResponseFormat.OfJSONObject = &openai.ResponseFormatJSONObjectParam{}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("cloud: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("cloud: chat completion returned no choices")
	}

	return llm.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   req.Model,
	}, nil
}

// Stream issues a streaming chat completion, delivering token deltas on the
// returned channel as they arrive over server-sent events. Both channels are
// closed when the stream ends; the error channel receives at most one value.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk)
	errs := make(chan error, 1)

	params := openai.ChatCompletionNewParams{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop.OfStringArray = req.Stop
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			event := stream.Current()
			if len(event.Choices) == 0 {
				continue
			}
			delta := event.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case chunks <- llm.StreamChunk{Delta: delta}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("cloud: stream: %w", err)
			return
		}
		chunks <- llm.StreamChunk{Done: true}
	}()

	return chunks, errs
}

func convertMessages(messages []llm.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
