package engine

import (
	"context"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/node"
	"github.com/flowcraft/engine/internal/retry"
)

// executeSubflow runs a nested workflow via s.RunSubflow, isolating its
// variable state unless ShareSession is set, and enforcing MaxSubflowDepth
// to bound recursive nesting.
//
// Grounded on the teacher's recursive executeWorkflow-via-planner re-entry
// shape in internal/application/executor/engine.go; the teacher has no
// depth bound (it only nests one level), so the bound here is new, sized to
// the spec's subflow-depth invariant.
func (s *Scheduler) executeSubflow(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (node.Result, error) {
	var cfg domain.SubflowData
	node.DecodeInto(n.Data, &cfg)

	maxDepth := s.MaxSubflowDepth
	if cfg.MaxDepth > 0 && cfg.MaxDepth < maxDepth {
		maxDepth = cfg.MaxDepth
	}
	if ec.Depth >= maxDepth {
		return node.Result{}, retry.New(retry.KindValidation, n.ID, "subflow nesting exceeds maximum depth", nil)
	}
	if s.RunSubflow == nil {
		return node.Result{}, retry.New(retry.KindValidation, n.ID, "subflow node present but no subflow runner configured", nil)
	}

	childEC := ec.Child(ec.Input, cfg.ShareSession)
	childEC.Depth = ec.Depth + 1

	out, err := s.RunSubflow(ctx, cfg.WorkflowID, childEC)
	if err != nil {
		return node.Result{}, retry.Classify(n.ID, err)
	}

	if cfg.ShareSession {
		ec.Variables.Merge(childEC.Variables)
	}

	return node.Result{Output: out}, nil
}
