package node

import (
	"context"
	"fmt"
	"time"

	"github.com/flowcraft/engine/internal/compaction"
	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/hitl"
	"github.com/flowcraft/engine/internal/provider"
	"github.com/flowcraft/engine/internal/retry"
	"github.com/rs/zerolog"
)

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// Callbacks is the set of optional lifecycle hooks the engine's facade
// wires through to node handlers, mirroring the single ExecutionCallbacks
// record the spec calls for (one struct passed by reference, never
// per-call options).
type Callbacks struct {
	OnTokenUsage       func(nodeID string, promptTokens, outputTokens int)
	OnStreamDelta      func(nodeID, delta string)
	OnContextCompacted func(nodeID string, res compaction.Result)
	OnNodeRetrying     func(nodeID string, attempt int, err *retry.ExecutionError)
	OnHITLRequest      func(req hitl.Request, token string)
	OnRouteSelected    func(nodeID, routeID string)
}

// AgentHandler executes a single LLM call: renders the system/user
// templates, runs the provider request (streaming or not) under the retry
// policy, compacts history if needed first, and optionally pauses for
// human approval before the call per its HITL config. There is no pause
// after the call to review or replace its output.
//
// Grounded on the teacher's OpenAICompletionExecutor/OpenAIResponsesExecutor
// in node_executors.go, generalized to streaming + compaction + HITL.
type AgentHandler struct {
	Provider provider.Provider
	// DefaultModel is used when a node's own AgentData.Model is empty.
	DefaultModel string
	Compactor    *compaction.Compactor
	RetryPolicy  retry.Policy
	HITL         hitl.Adapter
	// Tools dispatches the tool calls a node's AgentData.Tools declares,
	// during the bounded tool-calling conversation. Left nil, a node that
	// requests tools runs a single round: the provider's first reply is
	// returned even if it asked for a tool call.
	Tools     *ToolHandler
	Callbacks Callbacks
	Log       zerolog.Logger
}

func (h *AgentHandler) Execute(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (Result, error) {
	var cfg domain.AgentData
	decodeInto(n.Data, &cfg)
	if cfg.Model == "" {
		cfg.Model = h.DefaultModel
	}

	if cfg.HITL != nil && cfg.HITL.Enabled {
		if err := h.awaitApproval(ctx, ec, n, cfg); err != nil {
			return Result{}, err
		}
	}

	vars := ec.Variables.All()
	vars["input"] = ec.Input
	userMsg := substituteVariables(cfg.UserTemplate, vars)

	history := append([]domain.Message{}, ec.History...)
	if len(history) == 0 && cfg.SystemPrompt != "" {
		history = append(history, domain.Message{Role: "system", Content: substituteVariables(cfg.SystemPrompt, vars)})
	}
	history = append(history, domain.Message{Role: "user", Content: userMsg})

	if h.Compactor != nil {
		compacted, res, err := h.Compactor.Compact(cfg.Model, history, cfg.MaxTokens)
		if err == nil && res.Compacted {
			history = compacted
			if h.Callbacks.OnContextCompacted != nil {
				h.Callbacks.OnContextCompacted(n.ID, res)
			}
		}
	}

	policy := h.RetryPolicy
	if cfg.ErrorHandling != nil && cfg.ErrorHandling.MaxRetries > 0 {
		policy.MaxAttempts = cfg.ErrorHandling.MaxRetries + 1
	}

	req := provider.ChatRequest{Model: cfg.Model, Messages: history, Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens, Tools: toolDefinitions(cfg.Tools)}

	var resp provider.ChatResponse
	err := retry.Do(ctx, policy, func(attempt int, execErr *retry.ExecutionError) {
		execErr.NodeID = n.ID
		if h.Callbacks.OnNodeRetrying != nil {
			h.Callbacks.OnNodeRetrying(n.ID, attempt, execErr)
		}
	}, func() error {
		var callErr error
		resp, history, callErr = h.runToolLoop(ctx, ec, n, cfg, req, history)
		return callErr
	})
	if err != nil {
		if execErr := retry.Classify(n.ID, err); execErr != nil {
			execErr.NodeID = n.ID
			return Result{}, execErr
		}
		return Result{}, err
	}

	history = append(history, domain.Message{Role: "assistant", Content: resp.Content})
	ec.History = history

	return Result{Output: resp.Content}, nil
}

// toolDefinitions builds a minimal ToolDefinition per declared tool name;
// AgentData only names its tools, the rest of the schema is left to the
// provider's own model-side tool registry.
func toolDefinitions(names []string) []provider.ToolDefinition {
	if len(names) == 0 {
		return nil
	}
	defs := make([]provider.ToolDefinition, len(names))
	for i, name := range names {
		defs[i] = provider.ToolDefinition{Name: name}
	}
	return defs
}

// runToolLoop sends req, and if the reply carries tool calls, dispatches
// each through h.Tools and appends the results as "tool" messages, up to
// cfg.MaxToolIterations rounds (default 10). If the model still wants a
// tool after the cap, cfg.OnMaxToolIterations decides the outcome: return
// the last reply ("warning", default), raise a classified error ("error"),
// or escalate to HITL for free-form input ("hitl").
func (h *AgentHandler) runToolLoop(ctx context.Context, ec *domain.ExecutionContext, n domain.Node, cfg domain.AgentData, req provider.ChatRequest, history []domain.Message) (provider.ChatResponse, []domain.Message, error) {
	maxIterations := cfg.MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	var resp provider.ChatResponse
	for i := 0; i < maxIterations; i++ {
		var callErr error
		if cfg.Stream {
			resp, callErr = h.Provider.Stream(ctx, req, func(chunk provider.StreamChunk) {
				if chunk.DeltaContent != "" && h.Callbacks.OnStreamDelta != nil {
					h.Callbacks.OnStreamDelta(n.ID, chunk.DeltaContent)
				}
			})
		} else {
			resp, callErr = h.Provider.Complete(ctx, req)
		}
		if callErr != nil {
			return provider.ChatResponse{}, history, callErr
		}
		if h.Callbacks.OnTokenUsage != nil {
			h.Callbacks.OnTokenUsage(n.ID, resp.PromptTokens, resp.OutputTokens)
		}

		if len(resp.ToolCalls) == 0 || h.Tools == nil {
			return resp, history, nil
		}

		history = append(history, domain.Message{Role: "assistant", Content: resp.Content})
		for _, call := range resp.ToolCalls {
			out, err := h.Tools.InvokeByName(ctx, ec, call.Name, call.Arguments)
			if err != nil {
				out = "error: " + err.Error()
			}
			history = append(history, domain.Message{Role: "tool", Content: out})
		}
		req.Messages = history
	}

	switch cfg.OnMaxToolIterations {
	case "error":
		return provider.ChatResponse{}, history, retry.New(retry.KindExtensionValidation, n.ID, "agent exceeded max tool iterations", nil)
	case "hitl":
		return h.escalateMaxToolIterations(ctx, ec, n, resp, history)
	default: // "warning", also the default when unset
		return resp, history, nil
	}
}

// escalateMaxToolIterations pauses the agent node for human input once the
// tool-calling conversation has run out of iterations, per
// onMaxToolIterations=hitl.
func (h *AgentHandler) escalateMaxToolIterations(ctx context.Context, ec *domain.ExecutionContext, n domain.Node, resp provider.ChatResponse, history []domain.Message) (provider.ChatResponse, []domain.Message, error) {
	if h.HITL == nil {
		return provider.ChatResponse{}, history, retry.New(retry.KindValidation, n.ID, "onMaxToolIterations=hitl but no hitl adapter configured", nil)
	}
	req := hitl.Request{
		ID:      n.ID + ":" + ec.RunID + ":tools",
		RunID:   ec.RunID,
		NodeID:  n.ID,
		Prompt:  "agent exceeded max tool iterations, provide input to continue",
		Payload: resp.Content,
	}
	token, err := h.HITL.Request(ctx, req)
	if err != nil {
		return provider.ChatResponse{}, history, retry.New(retry.KindUnknown, n.ID, "failed to register hitl request", err)
	}
	if h.Callbacks.OnHITLRequest != nil {
		h.Callbacks.OnHITLRequest(req, token)
	}
	hresp, err := h.HITL.Await(ctx, token)
	if err != nil {
		return provider.ChatResponse{}, history, retry.New(retry.KindTimeout, n.ID, "hitl request timed out", err)
	}
	return provider.ChatResponse{Content: hresp.Comment}, history, nil
}

func (h *AgentHandler) awaitApproval(ctx context.Context, ec *domain.ExecutionContext, n domain.Node, cfg domain.AgentData) error {
	if h.HITL == nil {
		return retry.New(retry.KindValidation, n.ID, "hitl enabled but no adapter configured", nil)
	}
	req := hitl.Request{ID: n.ID + ":" + ec.RunID, RunID: ec.RunID, NodeID: n.ID, Prompt: cfg.HITL.Prompt, Payload: ec.Input}
	token, err := h.HITL.Request(ctx, req)
	if err != nil {
		return retry.New(retry.KindUnknown, n.ID, "failed to register hitl request", err)
	}
	if h.Callbacks.OnHITLRequest != nil {
		h.Callbacks.OnHITLRequest(req, token)
	}

	awaitCtx := ctx
	var cancel context.CancelFunc
	if cfg.HITL.TimeoutMs > 0 {
		awaitCtx, cancel = context.WithTimeout(ctx, msToDuration(cfg.HITL.TimeoutMs))
		defer cancel()
	}

	resp, err := h.HITL.Await(awaitCtx, token)
	if err != nil {
		switch cfg.HITL.OnTimeout {
		case "approve":
			return nil
		case "reject":
			return retry.New(retry.KindValidation, n.ID, "hitl request rejected by timeout policy", nil)
		default:
			return retry.New(retry.KindTimeout, n.ID, "hitl request timed out", err)
		}
	}
	if resp.Decision != hitl.DecisionApprove {
		return retry.New(retry.KindValidation, n.ID, fmt.Sprintf("hitl request %s", resp.Decision), nil)
	}
	return nil
}
