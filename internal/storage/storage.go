// Package storage defines the StorageAdapter contract the engine's facade
// persists workflows and execution traces through, plus a concrete
// Postgres implementation. The engine core never imports this package;
// only the facade and cmd/flowrun wire it in, keeping the scheduler
// unaware of how (or whether) a run is persisted.
package storage

import (
	"context"
	"time"

	"github.com/flowcraft/engine/internal/domain"
)

// ExecutionRecord is one persisted run: its inputs, final status, and the
// per-node outcomes collected along the way.
type ExecutionRecord struct {
	ID         string
	WorkflowID string
	Status     domain.ExecutionStatus
	Input      any
	Outputs    map[string]any
	Errors     map[string]string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Adapter is the contract the facade depends on for persistence.
type Adapter interface {
	SaveWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*domain.Workflow, error)

	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*ExecutionRecord, error)
}
