package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/flowcraft/engine/internal/retry"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenRouterBaseURL points the OpenAI-compatible client at
// OpenRouter's completions endpoint instead of OpenAI's own.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider implements Provider against any OpenAI-chat-compatible
// endpoint (OpenRouter by default) using the teacher's go-openai dependency.
// Grounded on node_executors.go's OpenAICompletionExecutor, with streaming
// added via the client's CreateChatCompletionStream.
type OpenRouterProvider struct {
	client *openai.Client
	log    zerolog.Logger

	capMu sync.RWMutex
	caps  map[string]ModelCapabilities
}

// NewOpenRouterProvider builds a provider. baseURL may be empty to use
// DefaultOpenRouterBaseURL.
func NewOpenRouterProvider(apiKey, baseURL string, log zerolog.Logger) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = DefaultOpenRouterBaseURL
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenRouterProvider{
		client: openai.NewClientWithConfig(cfg),
		log:    log,
		caps:   defaultCapabilities(),
	}
}

func defaultCapabilities() map[string]ModelCapabilities {
	return map[string]ModelCapabilities{
		"openai/gpt-4o":               {ContextWindow: 128_000, SupportsTools: true, SupportsJSON: true},
		"openai/gpt-4o-mini":          {ContextWindow: 128_000, SupportsTools: true, SupportsJSON: true},
		"openai/gpt-3.5-turbo":        {ContextWindow: 16_385, SupportsTools: true, SupportsJSON: true},
		"anthropic/claude-3.5-sonnet": {ContextWindow: 200_000, SupportsTools: true, SupportsJSON: false},
	}
}

// Capabilities returns the known capability set for model, falling back to
// a conservative default for unrecognized names.
func (p *OpenRouterProvider) Capabilities(model string) ModelCapabilities {
	p.capMu.RLock()
	defer p.capMu.RUnlock()
	if c, ok := p.caps[model]; ok {
		return c
	}
	return ModelCapabilities{ContextWindow: 8192, SupportsTools: false, SupportsJSON: false}
}

func toOpenAIMessages(req ChatRequest) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	return out
}

// Complete issues a single non-streaming completion request.
func (p *OpenRouterProvider) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	p.log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("provider completion request")
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       toOpenAITools(req.Tools),
	})
	if err != nil {
		return ChatResponse{}, classifyProviderErr(err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, retry.New(retry.KindLLMError, "", "empty completion response", nil)
	}
	choice := resp.Choices[0]
	return ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    fromOpenAIToolCalls(choice.Message.ToolCalls),
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Stream issues a streaming completion, invoking onChunk for each delta and
// returning the assembled final response.
func (p *OpenRouterProvider) Stream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (ChatResponse, error) {
	p.log.Debug().Str("model", req.Model).Msg("provider streaming request")
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       toOpenAITools(req.Tools),
		Stream:      true,
	})
	if err != nil {
		return ChatResponse{}, classifyProviderErr(err)
	}
	defer stream.Close()

	var content string
	var toolCalls []ToolCall
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ChatResponse{}, classifyProviderErr(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content += delta.Content
			if onChunk != nil {
				onChunk(StreamChunk{DeltaContent: delta.Content})
			}
		}
		if len(delta.ToolCalls) > 0 {
			toolCalls = append(toolCalls, fromOpenAIToolCalls(delta.ToolCalls)...)
		}
	}
	final := ChatResponse{Content: content, ToolCalls: toolCalls}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true, Final: &final})
	}
	return final, nil
}

// classifyProviderErr maps a go-openai request error into the closed
// ExecutionError taxonomy using the HTTP status code when available.
func classifyProviderErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return retry.New(retry.KindAuth, "", apiErr.Message, err)
		case 429:
			return retry.New(retry.KindRateLimit, "", apiErr.Message, err)
		case 400, 422:
			return retry.New(retry.KindValidation, "", apiErr.Message, err)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return retry.New(retry.KindLLMError, "", apiErr.Message, err)
			}
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retry.New(retry.KindNetwork, "", fmt.Sprintf("request error: %v", reqErr.Err), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.New(retry.KindTimeout, "", "request timed out", err)
	}
	return retry.New(retry.KindLLMError, "", err.Error(), err)
}

// UnmarshalToolArgs is a small helper tool handlers use to decode a
// ToolCall's raw JSON arguments into a typed struct.
func UnmarshalToolArgs(raw string, out any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
