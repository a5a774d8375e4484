// Package engine implements the graph scheduler (C7), the parallel/merge
// coordinator (C8) and the subflow/while-loop drivers (C9).
//
// Grounded on the teacher's WorkflowGraph/TopologicalSort/GetOutgoingEdges
// in internal/application/executor/graph.go and the wave-driven
// executeWaves/executeWave/executeNode shape in engine.go, adapted from
// wave-barrier execution to an arrival-queue BFS: each edge traversal
// enqueues an independent arrival rather than waiting for a whole
// topological wave to finish, which is what lets a while-loop body re-enter
// the queue without re-running sibling branches.
package engine

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/node"
	"github.com/flowcraft/engine/internal/provider"
	"github.com/flowcraft/engine/internal/retry"
	"github.com/rs/zerolog"
)

// Callbacks mirrors node.Callbacks plus the whole-run lifecycle hooks the
// facade needs; kept as a single record passed by reference everywhere, per
// the design note that execution observers should never be per-call
// options.
type Callbacks struct {
	node.Callbacks
	OnNodeStart      func(nodeID string)
	OnNodeFinish     func(nodeID string, output any)
	OnNodeError      func(nodeID string, err *retry.ExecutionError)
	OnComplete       func(output any)
	OnBranchStart    func(nodeID, branchID, branchLabel string)
	OnBranchComplete func(nodeID, branchID string, output any, err *retry.ExecutionError)
}

// arrival is one unit of scheduled work: a node to execute with the input
// that reached it over a specific edge.
type arrival struct {
	nodeID string
	ec     *domain.ExecutionContext
}

// Scheduler drives one workflow run from its start node(s) to completion.
type Scheduler struct {
	Workflow    *domain.Workflow
	Registry    *node.Registry
	RetryPolicy retry.Policy
	Callbacks   Callbacks
	Log         zerolog.Logger
	// Provider backs the while-loop condition evaluator and the parallel
	// merge-synthesis call; nil disables both (condition mode falls back
	// to a parse error, merge falls back to plain concatenation).
	Provider provider.Provider

	// MaxSubflowDepth bounds how deeply subflow nodes may nest, preventing
	// runaway recursion from a cyclic workflow reference.
	MaxSubflowDepth int
	// MaxIterations caps the number of arrivals a single run may process,
	// the scheduler's safety net against a cyclic graph looping forever.
	// NewScheduler sets 1000; Run treats zero or less as 1000.
	MaxIterations int
	// RunSubflow resolves and runs a nested workflow by id. Left nil,
	// subflow nodes fail validation instead of the scheduler needing to know
	// about workflow storage.
	RunSubflow func(ctx context.Context, workflowID string, ec *domain.ExecutionContext) (any, error)
}

// Result is the terminal outcome of a run.
type Result struct {
	Status     domain.ExecutionStatus
	Outputs    map[string]any // output-node id -> published value
	NodeErrors map[string]*retry.ExecutionError
}

func NewScheduler(wf *domain.Workflow, reg *node.Registry, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Workflow:        wf,
		Registry:        reg,
		RetryPolicy:     retry.DefaultPolicy(),
		Log:             log,
		MaxSubflowDepth: 8,
		MaxIterations:   1000,
	}
}

// Run executes the workflow starting from its single start node with input
// as the initial value, returning once every reachable arrival has settled
// or ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, runID string, input any) (Result, error) {
	starts := s.Workflow.StartNodes()
	if len(starts) != 1 {
		return Result{}, retry.New(retry.KindValidation, "", fmt.Sprintf("workflow must have exactly one start node, found %d", len(starts)), nil)
	}

	result := Result{Outputs: make(map[string]any), NodeErrors: make(map[string]*retry.ExecutionError)}
	queue := []arrival{{
		nodeID: starts[0].ID,
		ec: &domain.ExecutionContext{
			RunID:      runID,
			WorkflowID: s.Workflow.ID,
			Input:      input,
			Variables:  domain.NewVariableSet(),
		},
	}}

	maxIterations := s.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1000
	}
	iterations := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			result.Status = domain.ExecutionStatusCancelled
			return result, err
		}
		if iterations >= maxIterations {
			err := retry.New(retry.KindExtensionValidation, "", "scheduler iteration cap exceeded", nil)
			result.Status = domain.ExecutionStatusFailed
			return result, err
		}
		iterations++

		cur := queue[0]
		queue = queue[1:]

		next, _, stop, err := s.step(ctx, cur, &result)
		if stop {
			if err != nil {
				result.Status = domain.ExecutionStatusFailed
				return result, err
			}
			continue
		}
		queue = append(queue, next...)
	}

	if result.Status == "" {
		result.Status = domain.ExecutionStatusCompleted
		if s.Callbacks.OnComplete != nil {
			s.Callbacks.OnComplete(result.Outputs)
		}
	}
	return result, nil
}

// step executes a single arrival and returns the arrivals it produces plus
// the value the node itself produced. stop is true when the whole run must
// end here (a stop-mode node error, or reaching an unrecoverable state);
// err is non-nil only alongside stop.
func (s *Scheduler) step(ctx context.Context, a arrival, result *Result) ([]arrival, any, bool, error) {
	n, ok := s.Workflow.NodeByID(a.nodeID)
	if !ok {
		return nil, nil, true, retry.New(retry.KindValidation, a.nodeID, "edge references unknown node", nil)
	}

	if s.Callbacks.OnNodeStart != nil {
		s.Callbacks.OnNodeStart(n.ID)
	}

	switch n.Type {
	case domain.NodeTypeParallel:
		arrivals, stop, err := s.stepParallel(ctx, a, n, result)
		return arrivals, nil, stop, err
	case domain.NodeTypeWhileLoop:
		arrivals, stop, err := s.stepWhileLoop(ctx, a, n, result)
		return arrivals, nil, stop, err
	}

	var res node.Result
	var err error
	if n.Type == domain.NodeTypeSubflow {
		res, err = s.executeSubflow(ctx, a.ec, n)
	} else {
		res, err = s.executeLeaf(ctx, a.ec, n)
	}

	if err != nil {
		execErr := retry.Classify(n.ID, err)
		if s.Callbacks.OnNodeError != nil {
			s.Callbacks.OnNodeError(n.ID, execErr)
		}
		result.NodeErrors[n.ID] = execErr

		mode := errorModeOf(n)
		switch mode {
		case domain.ErrorModeContinue:
			return nil, nil, false, nil
		case domain.ErrorModeBranch:
			handle := branchHandleOf(n)
			return s.fanOut(n, a.ec, node.Result{Output: execErr.Error(), Handle: handle}), nil, false, nil
		default:
			return nil, nil, true, execErr
		}
	}

	if s.Callbacks.OnNodeFinish != nil {
		s.Callbacks.OnNodeFinish(n.ID, res.Output)
	}

	if n.Type == domain.NodeTypeOutput {
		result.Outputs[n.ID] = res.Output
	}

	return s.fanOut(n, a.ec, res), res.Output, false, nil
}

// executeLeaf runs a registered handler under the retry policy.
func (s *Scheduler) executeLeaf(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (node.Result, error) {
	h, ok := s.Registry.Lookup(n.Type)
	if !ok {
		return node.Result{}, node.ErrNoHandler{Type: n.Type}
	}
	policy := s.retryPolicyFor(n)
	var res node.Result
	err := retry.Do(ctx, policy, func(attempt int, execErr *retry.ExecutionError) {
		execErr.NodeID = n.ID
		if s.Callbacks.OnNodeRetrying != nil {
			s.Callbacks.OnNodeRetrying(n.ID, attempt, execErr)
		}
	}, func() error {
		var callErr error
		res, callErr = h.Execute(ctx, ec, n)
		return callErr
	})
	return res, err
}

func (s *Scheduler) retryPolicyFor(n domain.Node) retry.Policy {
	policy := s.RetryPolicy
	eh := errorHandlingOf(n)
	if eh != nil && eh.MaxRetries > 0 {
		policy.MaxAttempts = eh.MaxRetries + 1
	}
	return policy
}

// fanOut enqueues one arrival per outgoing edge the node result selects. An
// edge carrying a Condition is followed only when that expr-lang expression
// evaluates to true against the run's variables plus the node's output as
// `input`.
func (s *Scheduler) fanOut(n domain.Node, ec *domain.ExecutionContext, res node.Result) []arrival {
	var arrivals []arrival
	for _, e := range s.Workflow.OutgoingEdges(n.ID) {
		if res.Handle != "" && e.SourceHandle != "" && e.SourceHandle != res.Handle {
			continue
		}
		if e.Condition != "" {
			env := ec.Variables.All()
			env["input"] = res.Output
			v, err := expr.Eval(e.Condition, env)
			if matched, ok := v.(bool); err != nil || !ok || !matched {
				continue
			}
		}
		arrivals = append(arrivals, arrival{nodeID: e.Target, ec: ec.Child(res.Output, true)})
	}
	return arrivals
}

// errorHandlingOf reads the "errorHandling" block out of any node's Data,
// regardless of node type: the block is a cross-cutting configuration, not
// specific to a single node kind.
func errorHandlingOf(n domain.Node) *domain.ErrorHandling {
	if n.Data == nil {
		return nil
	}
	raw, ok := n.Data["errorHandling"]
	if !ok {
		return nil
	}
	var holder struct {
		ErrorHandling domain.ErrorHandling `json:"errorHandling"`
	}
	node.DecodeInto(map[string]any{"errorHandling": raw}, &holder)
	return &holder.ErrorHandling
}

func errorModeOf(n domain.Node) domain.ErrorMode {
	if eh := errorHandlingOf(n); eh != nil && eh.Mode.IsValid() {
		return eh.Mode
	}
	return domain.ErrorModeStop
}

func branchHandleOf(n domain.Node) string {
	if eh := errorHandlingOf(n); eh != nil {
		return eh.BranchHandle
	}
	return ""
}
