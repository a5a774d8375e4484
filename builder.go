package flowcraft

import "github.com/google/uuid"

// EdgeBuilder provides a fluent way to wire a workflow's edges without
// hand-writing the SourceHandle/TargetHandle/Condition plumbing for each
// edge kind.
//
// Grounded on the teacher's RelationshipBuilder (relationship_builder.go),
// adapted from the teacher's edge-type-in-config model to this engine's
// handle-based routing: a parallel branch is a non-empty SourceHandle, a
// conditional edge carries an expr-lang Condition, and a join is simply the
// parallel node's one empty-handle continuation edge rather than a
// separate edge type.
//
// Example:
//
//	edges := flowcraft.NewEdgeBuilder().
//	    Direct(start, agent).
//	    Branch(splitter, "left", left).
//	    Branch(splitter, "right", right).
//	    Join(splitter, merge).
//	    Conditional(router, approved, "status == 'approved'").
//	    Build()
type EdgeBuilder struct {
	edges []Edge
}

func NewEdgeBuilder() *EdgeBuilder {
	return &EdgeBuilder{}
}

// Direct adds an unconditional edge from one node to the next.
func (b *EdgeBuilder) Direct(from, to Node) *EdgeBuilder {
	return b.add(from.ID, to.ID, "", "", "")
}

// Branch adds one parallel node's branch edge, identified by handle.
func (b *EdgeBuilder) Branch(from Node, handle string, to Node) *EdgeBuilder {
	return b.add(from.ID, to.ID, handle, "", "")
}

// Join adds the single continuation edge a parallel node fires once every
// branch has settled; it carries no SourceHandle by convention.
func (b *EdgeBuilder) Join(from, to Node) *EdgeBuilder {
	return b.add(from.ID, to.ID, "", "", "")
}

// Conditional adds an edge guarded by an expr-lang boolean expression,
// evaluated against the execution's variables plus the source node's output
// as `input`; the edge is followed only when it evaluates to true.
func (b *EdgeBuilder) Conditional(from, to Node, condition string) *EdgeBuilder {
	return b.add(from.ID, to.ID, "", "", condition)
}

// Handle adds an edge leaving a specific named handle on from (e.g. a
// router's route id, or a while-loop's "body"/"exit").
func (b *EdgeBuilder) Handle(from Node, handle string, to Node) *EdgeBuilder {
	return b.add(from.ID, to.ID, handle, "", "")
}

func (b *EdgeBuilder) add(source, target, sourceHandle, targetHandle, condition string) *EdgeBuilder {
	b.edges = append(b.edges, Edge{
		ID:           uuid.NewString(),
		Source:       source,
		Target:       target,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
		Condition:    condition,
	})
	return b
}

// Build returns the accumulated edges.
func (b *EdgeBuilder) Build() []Edge {
	return b.edges
}
