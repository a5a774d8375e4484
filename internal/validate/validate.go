// Package validate implements the structural workflow validator: a pure
// function over a domain.Workflow, checked before a run ever starts.
//
// Grounded on the teacher's domain/workflow.go Validate() method and
// planner.go's ValidatePlan (reachability, edge references, duplicate
// handles).
package validate

import (
	"fmt"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/node"
)

func decodeInto(data map[string]any, out any) { node.DecodeInto(data, out) }

// Error collects every structural problem found, so a caller can report
// them all at once instead of failing on the first.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("workflow validation failed with %d problem(s): %v", len(e.Problems), e.Problems)
}

// Workflow checks structural invariants: exactly one start node, every edge
// references a node that exists, no duplicate (source, sourceHandle) pairs
// for handle-bearing node types, and every non-start node is reachable from
// the start node.
func Workflow(wf *domain.Workflow) error {
	var problems []string

	nodeIDs := make(map[string]domain.Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if !n.Type.IsValid() {
			problems = append(problems, fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type))
		}
		if _, dup := nodeIDs[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = n
	}

	starts := wf.StartNodes()
	if len(starts) != 1 {
		problems = append(problems, fmt.Sprintf("workflow must have exactly one start node, found %d", len(starts)))
	}

	seenHandles := make(map[string]bool)
	for _, e := range wf.Edges {
		if _, ok := nodeIDs[e.Source]; !ok {
			problems = append(problems, fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source))
		}
		if _, ok := nodeIDs[e.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target))
		}
		key := e.Source + "\x00" + e.SourceHandle
		if e.SourceHandle != "" {
			if seenHandles[key] {
				problems = append(problems, fmt.Sprintf("duplicate outgoing handle %q on node %q", e.SourceHandle, e.Source))
			}
			seenHandles[key] = true
		}
	}

	if len(starts) == 1 {
		reachable := reachableFrom(wf, starts[0].ID)
		for _, n := range wf.Nodes {
			if !reachable[n.ID] {
				problems = append(problems, fmt.Sprintf("node %q is unreachable from the start node", n.ID))
			}
		}
	}

	for _, n := range wf.Nodes {
		if n.Type == domain.NodeTypeRouter {
			var cfg domain.RouterData
			decodeInto(n.Data, &cfg)
			if len(cfg.Routes) == 0 && cfg.Default == "" {
				problems = append(problems, fmt.Sprintf("router node %q has no routes and no default", n.ID))
			}
		}
		if n.Type == domain.NodeTypeWhileLoop {
			var cfg domain.WhileLoopData
			decodeInto(n.Data, &cfg)
			if cfg.Mode == domain.LoopModeCondition && cfg.ConditionPrompt == "" {
				problems = append(problems, fmt.Sprintf("whileLoop node %q uses condition mode but declares no conditionPrompt", n.ID))
			}
			if cfg.Mode == domain.LoopModeFixed && cfg.MaxIterations <= 0 {
				problems = append(problems, fmt.Sprintf("whileLoop node %q uses fixed mode but declares no positive maxIterations", n.ID))
			}
		}
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

func reachableFrom(wf *domain.Workflow, startID string) map[string]bool {
	visited := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range wf.OutgoingEdges(id) {
			if !visited[e.Target] {
				visited[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return visited
}
