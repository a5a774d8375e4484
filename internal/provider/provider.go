// Package provider defines the LLM provider contract and ships a concrete
// OpenRouter-compatible implementation plus a scriptable mock for tests.
//
// Grounded on the teacher's OpenAICompletionExecutor/OpenAIResponsesExecutor
// in internal/application/executor/node_executors.go (client construction,
// usage capture, API-key resolution order), generalized to streaming +
// tool-calls, with a model-capability lookup shaped after
// dshills-langgraph-go's getModelCapabilities table.
package provider

import (
	"context"

	"github.com/flowcraft/engine/internal/domain"
)

// ToolDefinition describes a callable tool an agent node may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ToolCall is a single invocation the model requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ChatRequest is a single non-streaming or streaming completion request.
type ChatRequest struct {
	Model       string
	Messages    []domain.Message
	Temperature float32
	MaxTokens   int
	Tools       []ToolDefinition
}

// ChatResponse is the result of a non-streaming completion.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	PromptTokens int
	OutputTokens int
}

// StreamChunk is one increment of a streaming completion.
type StreamChunk struct {
	DeltaContent string
	ToolCall     *ToolCall // not set by OpenRouterProvider or MockProvider; tool calls arrive in Final
	Done         bool
	Final        *ChatResponse // set alongside Done==true
}

// ModelCapabilities describes what a model supports, as reported by
// Provider.Capabilities. Neither the compactor (which uses its own
// compaction.LimitTable) nor the agent node handler reads it.
type ModelCapabilities struct {
	ContextWindow int
	SupportsTools bool
	SupportsJSON  bool
}

// Provider is the contract every node handler that talks to an LLM depends
// on. Implementations must support cancellation via ctx for both Complete
// and Stream.
type Provider interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (ChatResponse, error)
	Capabilities(model string) ModelCapabilities
}
