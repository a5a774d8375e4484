package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/node"
	"github.com/flowcraft/engine/internal/provider"
	"github.com/flowcraft/engine/internal/retry"
)

// branchResult is one parallel branch's settled outcome.
type branchResult struct {
	handle string
	output any
	err    *retry.ExecutionError
}

// stepParallel fans out to every edge leaving n with a non-empty
// SourceHandle (a branch), runs each branch's downstream chain to its
// leaf concurrently, reconciles per the node's JoinStrategy, and finally
// either synthesizes or concatenates the branch outputs into n's single
// post-join continuation edge (mergeEnabled=true), or routes each branch's
// output independently along that same continuation (mergeEnabled=false).
//
// Grounded on the teacher's ParallelBranchExecutor.ExecuteBranches and
// SynchronizationBarrier in internal/application/executor/join.go
// (goroutine-per-branch fan-out, WaitGroup, buffered error channel,
// per-branch error isolation), generalized from wait-all-only to the
// spec's settled-join with an explicit allOrNone alternative, plus the
// merge-synthesis and independent-routing paths.
func (s *Scheduler) stepParallel(ctx context.Context, a arrival, n domain.Node, result *Result) ([]arrival, bool, error) {
	var cfg domain.ParallelData
	node.DecodeInto(n.Data, &cfg)
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = domain.JoinStrategySettled
	}

	var branchEdges, continuation []domain.Edge
	for _, e := range s.Workflow.OutgoingEdges(n.ID) {
		if e.SourceHandle == "" {
			continuation = append(continuation, e)
		} else {
			branchEdges = append(branchEdges, e)
		}
	}

	branchCtx := ctx
	var cancel context.CancelFunc
	if strategy == domain.JoinStrategyAllOrNone {
		branchCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	results := make([]branchResult, len(branchEdges))
	var wg sync.WaitGroup
	for i, e := range branchEdges {
		wg.Add(1)
		go func(i int, e domain.Edge) {
			defer wg.Done()
			if s.Callbacks.OnBranchStart != nil {
				s.Callbacks.OnBranchStart(n.ID, e.SourceHandle, cfg.BranchLabel(e.SourceHandle))
			}
			childEC := a.ec.Child(a.ec.Input, false)
			out, err := s.runBranch(branchCtx, childEC, e.Target)
			br := branchResult{handle: e.SourceHandle}
			if err != nil {
				br.err = retry.Classify(e.Target, err)
				if strategy == domain.JoinStrategyAllOrNone && cancel != nil {
					cancel()
				}
			} else {
				br.output = out
			}
			if s.Callbacks.OnBranchComplete != nil {
				s.Callbacks.OnBranchComplete(n.ID, e.SourceHandle, br.output, br.err)
			}
			results[i] = br
		}(i, e)
	}
	wg.Wait()

	var firstErr *retry.ExecutionError
	for _, br := range results {
		if br.err != nil && firstErr == nil {
			firstErr = br.err
		}
	}

	if strategy == domain.JoinStrategyAllOrNone && firstErr != nil {
		if s.Callbacks.OnNodeError != nil {
			s.Callbacks.OnNodeError(n.ID, firstErr)
		}
		result.NodeErrors[n.ID] = firstErr
		return nil, true, firstErr
	}

	if !cfg.MergeEnabledOrDefault() {
		return s.fanOutUnmerged(n, a, cfg, results, continuation), false, nil
	}

	merged := s.mergeBranches(ctx, n, cfg, results)

	if s.Callbacks.OnNodeFinish != nil {
		s.Callbacks.OnNodeFinish(n.ID, merged)
	}

	var arrivals []arrival
	for _, e := range continuation {
		arrivals = append(arrivals, arrival{nodeID: e.Target, ec: a.ec.Child(merged, true)})
	}
	return arrivals, false, nil
}

// fanOutUnmerged routes each branch's own output onward through the
// parallel node's continuation edges independently, with no aggregate
// value: the node itself reports an empty string for display.
func (s *Scheduler) fanOutUnmerged(n domain.Node, a arrival, cfg domain.ParallelData, results []branchResult, continuation []domain.Edge) []arrival {
	if s.Callbacks.OnNodeFinish != nil {
		s.Callbacks.OnNodeFinish(n.ID, "")
	}
	var arrivals []arrival
	for _, br := range results {
		if br.err != nil {
			continue
		}
		for _, e := range continuation {
			arrivals = append(arrivals, arrival{nodeID: e.Target, ec: a.ec.Child(br.output, true)})
		}
	}
	return arrivals
}

// mergeBranches combines settled branch outputs into the parallel node's
// single output: synthesized by the provider when cfg.Prompt is set,
// otherwise a plain labelled concatenation.
func (s *Scheduler) mergeBranches(ctx context.Context, n domain.Node, cfg domain.ParallelData, results []branchResult) any {
	if cfg.Prompt != "" && s.Provider != nil {
		if text, err := s.synthesizeMerge(ctx, n, cfg, results); err == nil {
			return text
		}
	}

	var b strings.Builder
	for i, br := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		label := cfg.BranchLabel(br.handle)
		if br.err != nil {
			fmt.Fprintf(&b, "%s: error: %s", label, br.err.Error())
			continue
		}
		fmt.Fprintf(&b, "%s: %v", label, br.output)
	}
	return b.String()
}

func (s *Scheduler) synthesizeMerge(ctx context.Context, n domain.Node, cfg domain.ParallelData, results []branchResult) (string, error) {
	var b strings.Builder
	b.WriteString(cfg.Prompt)
	b.WriteString("\n\nBranch outputs:\n")
	for _, br := range results {
		label := cfg.BranchLabel(br.handle)
		if br.err != nil {
			fmt.Fprintf(&b, "- %s: error: %s\n", label, br.err.Error())
			continue
		}
		fmt.Fprintf(&b, "- %s: %v\n", label, br.output)
	}

	resp, err := s.Provider.Complete(ctx, provider.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return "", retry.Classify(n.ID, err)
	}
	return resp.Content, nil
}

// runBranch walks a single branch's downstream chain to completion,
// returning the output of the last node it ran (the first step that yields
// no further arrivals). It reuses step() for retry/error-mode handling
// but only ever follows a single arrival at a time since a branch's
// internal graph is expected to be linear; any nested parallel/whileLoop
// inside a branch still works since step() recurses into this same
// scheduler.
func (s *Scheduler) runBranch(ctx context.Context, ec *domain.ExecutionContext, startNodeID string) (any, error) {
	cur := arrival{nodeID: startNodeID, ec: ec}
	var last any
	dummyResult := &Result{Outputs: map[string]any{}, NodeErrors: map[string]*retry.ExecutionError{}}
	maxIterations := s.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1000
	}
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= maxIterations {
			return nil, retry.New(retry.KindExtensionValidation, startNodeID, "scheduler iteration cap exceeded", nil)
		}
		next, out, stop, err := s.step(ctx, cur, dummyResult)
		if err != nil {
			return nil, err
		}
		last = out
		if stop || len(next) == 0 {
			return last, nil
		}
		// A branch is expected to be a simple chain; if a step yields more
		// than one arrival only the first is followed here and the others
		// are not executed.
		cur = next[0]
	}
}
