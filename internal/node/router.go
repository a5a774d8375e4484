package node

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/provider"
	"github.com/flowcraft/engine/internal/retry"
)

// RouterHandler picks one outgoing handle. A route whose condition
// expression evaluates true wins outright, deterministic and
// provider-free; otherwise, if a Provider is configured, it is asked to
// choose among the declared routes with a routing prompt, and the response
// is resolved against routes[].id by exact id, then case-insensitive
// label, then the declared default, then the first route.
//
// Grounded on the teacher's ConditionalRouterExecutor and its expr-lang-
// backed ConditionEvaluator (internal/application/executor/conditions.go)
// for the condition path, and OpenAICompletionExecutor's single-call
// pattern (node_executors.go) for the provider path.
type RouterHandler struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program

	Provider  provider.Provider
	Callbacks Callbacks
}

func NewRouterHandler(p provider.Provider) *RouterHandler {
	return &RouterHandler{cache: make(map[string]*vm.Program), Provider: p}
}

func (h *RouterHandler) compile(condition string) (*vm.Program, error) {
	h.mu.RLock()
	prog, ok := h.cache[condition]
	h.mu.RUnlock()
	if ok {
		return prog, nil
	}
	prog, err := expr.Compile(condition, expr.AsBool())
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.cache[condition] = prog
	h.mu.Unlock()
	return prog, nil
}

func (h *RouterHandler) Execute(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (Result, error) {
	var cfg domain.RouterData
	decodeInto(n.Data, &cfg)

	if len(cfg.Routes) == 0 && cfg.Default == "" {
		return Result{}, retry.New(retry.KindValidation, n.ID, "router node has no routes and no default", nil)
	}

	if handle, ok := h.matchCondition(ec, cfg); ok {
		h.selected(n.ID, handle)
		return Result{Output: ec.Input, Handle: handle}, nil
	}

	if h.Provider != nil && len(cfg.Routes) > 0 {
		handle, err := h.askProvider(ctx, ec, n, cfg)
		if err != nil {
			return Result{}, err
		}
		h.selected(n.ID, handle)
		return Result{Output: ec.Input, Handle: handle}, nil
	}

	handle := defaultRouteFallback(cfg)
	h.selected(n.ID, handle)
	return Result{Output: ec.Input, Handle: handle}, nil
}

// matchCondition evaluates each route's condition expression in order, a
// pre-provider deterministic pass that lets a workflow author bypass the
// LLM entirely for mechanical routing.
func (h *RouterHandler) matchCondition(ec *domain.ExecutionContext, cfg domain.RouterData) (string, bool) {
	env := ec.Variables.All()
	env["input"] = ec.Input

	for _, route := range cfg.Routes {
		if route.Condition == "" {
			continue
		}
		prog, err := h.compile(route.Condition)
		if err != nil {
			// A malformed condition is a validation defect, not a runtime
			// fluke: treat the route as non-matching and keep evaluating
			// the rest of the chain.
			continue
		}
		out, err := expr.Run(prog, env)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return route.Handle, true
		}
	}
	return "", false
}

// askProvider invokes the provider with a routing prompt enumerating every
// route by id, label and description, then resolves the response against
// routes[].id per the fallback order: exact id, case-insensitive label,
// declared default, first route.
func (h *RouterHandler) askProvider(ctx context.Context, ec *domain.ExecutionContext, n domain.Node, cfg domain.RouterData) (string, error) {
	var b strings.Builder
	b.WriteString("Choose exactly one route id for the following input. Respond with only the route id.\n\nRoutes:\n")
	for _, r := range cfg.Routes {
		fmt.Fprintf(&b, "- id: %s", r.Handle)
		if r.Label != "" {
			fmt.Fprintf(&b, ", label: %s", r.Label)
		}
		if r.Description != "" {
			fmt.Fprintf(&b, ", description: %s", r.Description)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nInput: %v\n", ec.Input)

	req := provider.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "You are a routing assistant. Reply with a single route id and nothing else."},
			{Role: "user", Content: b.String()},
		},
	}
	resp, err := h.Provider.Complete(ctx, req)
	if err != nil {
		return "", retry.Classify(n.ID, err)
	}

	return resolveRoute(resp.Content, cfg), nil
}

// resolveRoute applies the deterministic fallback chain against a
// provider's raw reply: exact id match, case-insensitive label match, the
// declared default, then the first route.
func resolveRoute(reply string, cfg domain.RouterData) string {
	reply = strings.TrimSpace(reply)

	for _, r := range cfg.Routes {
		if r.Handle == reply {
			return r.Handle
		}
	}
	lower := strings.ToLower(reply)
	for _, r := range cfg.Routes {
		if r.Label != "" && strings.ToLower(r.Label) == lower {
			return r.Handle
		}
	}
	return defaultRouteFallback(cfg)
}

func defaultRouteFallback(cfg domain.RouterData) string {
	if cfg.Default != "" {
		return cfg.Default
	}
	if len(cfg.Routes) > 0 {
		return cfg.Routes[0].Handle
	}
	return ""
}

func (h *RouterHandler) selected(nodeID, handle string) {
	if h.Callbacks.OnRouteSelected != nil {
		h.Callbacks.OnRouteSelected(nodeID, handle)
	}
}
