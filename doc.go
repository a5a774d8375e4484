// Package flowcraft is the execution API facade (C10): it assembles the
// graph scheduler, the built-in node handler registry, the LLM provider
// adapter, the compactor, the HITL coordinator and the memory/storage
// adapters behind a single Engine type, and exposes one Run entrypoint.
//
// Grounded on the teacher's top-level mbflow.go/executor.go/factory.go,
// which played the same role of re-exporting internal types and wiring a
// default executor, rewritten here against this engine's own internal
// packages rather than aliased to them.
package flowcraft
