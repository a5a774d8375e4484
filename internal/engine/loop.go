package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/node"
	"github.com/flowcraft/engine/internal/provider"
	"github.com/flowcraft/engine/internal/retry"
)

// loopCounterKey derives the run-scoped variable key tracking one
// while-loop node's iteration count across repeated visits to the same
// boundary, so nested/sibling loops don't interfere with each other.
func loopCounterKey(nodeID string) string { return "__loop_iter_" + nodeID }

// accumulatorKey derives the run-scoped variable key tracking one
// while-loop node's accumulated body outputs for the current run of the
// loop, reset once the loop exits.
func accumulatorKey(nodeID string) string { return "__loop_acc_" + nodeID }

// stepWhileLoop evaluates the loop boundary exactly once per arrival at the
// node, never re-checking the same boundary twice for one iteration, and
// routes to the body handle or the exit handle accordingly.
//
// Mode=fixed compares the iteration count against MaxIterations directly.
// Mode=condition calls the provider with ConditionPrompt, the current
// input and every prior iteration's body output, then parses a boolean
// from the reply. The teacher has no loop node of its own; this is grounded
// on its single-call provider pattern in OpenAICompletionExecutor
// (node_executors.go).
func (s *Scheduler) stepWhileLoop(ctx context.Context, a arrival, n domain.Node, result *Result) ([]arrival, bool, error) {
	var cfg domain.WhileLoopData
	node.DecodeInto(n.Data, &cfg)

	iterKey := loopCounterKey(n.ID)
	accKey := accumulatorKey(n.ID)

	iter := 0
	if v, ok := a.ec.Variables.Get(iterKey); ok {
		if i, ok := v.(int); ok {
			iter = i
		}
	}

	var accumulated []any
	if v, ok := a.ec.Variables.Get(accKey); ok {
		if acc, ok := v.([]any); ok {
			accumulated = acc
		}
	}
	// Every visit after the first arrives carrying the prior iteration's
	// body output as its input; the initial arrival carries the run's own
	// input, which is never itself a body output.
	if iter > 0 {
		accumulated = append(accumulated, a.ec.Input)
		a.ec.Variables.Set(accKey, accumulated)
	}

	var shouldContinue bool
	var err error
	switch cfg.Mode {
	case domain.LoopModeFixed:
		shouldContinue = iter < cfg.MaxIterations
	default: // LoopModeCondition
		shouldContinue, err = s.evaluateLoopCondition(ctx, a, n, cfg, accumulated)
		if err != nil {
			return nil, true, err
		}
	}

	if cfg.MaxIterations > 0 && iter >= cfg.MaxIterations && shouldContinue {
		switch cfg.OnMaxIterations {
		case "error":
			return nil, true, retry.New(retry.KindExtensionValidation, n.ID, "while-loop max iterations reached", nil)
		case "continue":
			shouldContinue = false
		default: // "warning", also the default when unset
			s.Log.Warn().Str("nodeId", n.ID).Int("maxIterations", cfg.MaxIterations).Msg("while-loop reached max iterations, exiting")
			shouldContinue = false
		}
	}

	handle := cfg.ExitHandle
	if shouldContinue {
		handle = cfg.BodyHandle
		a.ec.Variables.Set(iterKey, iter+1)
	} else {
		a.ec.Variables.Set(iterKey, 0)
		a.ec.Variables.Set(accKey, []any(nil))
	}

	if s.Callbacks.OnNodeFinish != nil {
		s.Callbacks.OnNodeFinish(n.ID, map[string]any{"continuing": shouldContinue, "iteration": iter})
	}

	output := a.ec.Input
	if !shouldContinue && cfg.OutputMode == "accumulate" {
		if len(accumulated) == 0 {
			output = ""
		} else {
			output = accumulated
		}
	}

	return s.fanOut(n, a.ec, node.Result{Output: output, Handle: handle}), false, nil
}

// evaluateLoopCondition asks the provider whether the loop should continue,
// presenting the condition prompt, the current input and every prior
// iteration's body output, then parses the reply as a boolean.
func (s *Scheduler) evaluateLoopCondition(ctx context.Context, a arrival, n domain.Node, cfg domain.WhileLoopData, accumulated []any) (bool, error) {
	if s.Provider == nil {
		return false, retry.New(retry.KindExtensionValidation, n.ID, "while-loop condition mode requires a configured provider", nil)
	}

	var b strings.Builder
	b.WriteString(cfg.ConditionPrompt)
	fmt.Fprintf(&b, "\n\nCurrent input: %v\n", a.ec.Input)
	if len(accumulated) > 0 {
		b.WriteString("Prior iteration outputs:\n")
		for i, out := range accumulated {
			fmt.Fprintf(&b, "%d: %v\n", i+1, out)
		}
	}
	b.WriteString("\nShould the loop continue? Reply yes or no.")

	resp, err := s.Provider.Complete(ctx, provider.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return false, retry.Classify(n.ID, err)
	}

	parsed, ok := parseLoopBoolean(resp.Content)
	if !ok {
		return false, retry.New(retry.KindExtensionValidation, n.ID, "while-loop condition reply did not parse as a boolean: "+resp.Content, nil)
	}
	return parsed, nil
}

// parseLoopBoolean scans reply's whitespace-separated tokens left to right
// and returns the first one that reads as yes/no/true/false, case
// insensitive, stripped of trailing punctuation.
func parseLoopBoolean(reply string) (bool, bool) {
	for _, f := range strings.Fields(reply) {
		f = strings.ToLower(strings.Trim(f, ".,!;:\"'"))
		switch f {
		case "yes", "true":
			return true, true
		case "no", "false":
			return false, true
		}
	}
	return false, false
}
