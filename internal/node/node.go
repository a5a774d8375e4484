// Package node implements the built-in node handler registry (C6): the
// leaf node types a workflow graph can contain, each executed by looking up
// its NodeType in a Registry.
//
// Structural node types that need to recurse back into the scheduler
// (parallel, whileLoop, subflow) are not registered here; the scheduler
// special-cases them and delegates to the engine package's coordinators.
//
// Grounded on the teacher's NodeExecutor interface and
// nodeExecutors map[domain.NodeType]NodeExecutor registry in
// internal/application/executor/engine.go.
package node

import (
	"context"
	"fmt"

	"github.com/flowcraft/engine/internal/domain"
)

// Result is what a handler produces: the value that flows to the node's
// outgoing edges, optionally scoped to a specific handle (used by router
// nodes to pick a branch).
type Result struct {
	Output any
	Handle string // "" means "every outgoing edge", non-empty selects the edges with that SourceHandle plus any edge without one
}

// Handler executes a single node given the context that arrived on its
// triggering edge.
type Handler interface {
	Execute(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (Result, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (Result, error) {
	return f(ctx, ec, n)
}

// Registry maps a node type to the handler responsible for it.
type Registry struct {
	handlers map[domain.NodeType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.NodeType]Handler)}
}

func (r *Registry) Register(t domain.NodeType, h Handler) {
	r.handlers[t] = h
}

func (r *Registry) Lookup(t domain.NodeType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// ErrNoHandler is returned when a node type has no registered handler.
type ErrNoHandler struct{ Type domain.NodeType }

func (e ErrNoHandler) Error() string {
	return fmt.Sprintf("node: no handler registered for type %q", e.Type)
}
