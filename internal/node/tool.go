package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/retry"
)

// ToolFunc implements one callable tool, keyed by name in ToolHandler.
type ToolFunc func(ctx context.Context, ec *domain.ExecutionContext, params map[string]any) (any, error)

// ToolHandler dispatches a "tool" node to a registered ToolFunc by name.
// The spec leaves tool execution to an onToolCall callback; this is the
// engine-side registry an integrator populates with concrete tools (see
// http_tool.go and telegram_tool.go for two built-ins grounded on the
// teacher's own executors).
type ToolHandler struct {
	tools map[string]ToolFunc
}

func NewToolHandler() *ToolHandler {
	return &ToolHandler{tools: make(map[string]ToolFunc)}
}

func (h *ToolHandler) Register(name string, fn ToolFunc) {
	h.tools[name] = fn
}

func (h *ToolHandler) Execute(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (Result, error) {
	var cfg domain.ToolData
	decodeInto(n.Data, &cfg)

	fn, ok := h.tools[cfg.Name]
	if !ok {
		return Result{}, retry.New(retry.KindValidation, n.ID, "unknown tool: "+cfg.Name, nil)
	}
	out, err := fn(ctx, ec, cfg.Parameters)
	if err != nil {
		return Result{}, retry.Classify(n.ID, err)
	}
	return Result{Output: out}, nil
}

// InvokeByName dispatches a single tool call by name outside of the "tool"
// node type, for the agent handler's bounded tool-calling conversation: the
// provider names a tool and supplies raw JSON arguments, and the result is
// stringified for the next message in the conversation.
func (h *ToolHandler) InvokeByName(ctx context.Context, ec *domain.ExecutionContext, name, rawArgs string) (string, error) {
	fn, ok := h.tools[name]
	if !ok {
		return "", retry.New(retry.KindValidation, "", "unknown tool: "+name, nil)
	}
	var params map[string]any
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &params); err != nil {
			return "", retry.New(retry.KindValidation, "", "invalid tool call arguments for "+name, err)
		}
	}
	out, err := fn(ctx, ec, params)
	if err != nil {
		return "", retry.Classify("", err)
	}
	return fmt.Sprintf("%v", out), nil
}
