package flowcraft

import (
	"context"
	"time"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/engine"
	"github.com/flowcraft/engine/internal/node"
	"github.com/flowcraft/engine/internal/retry"
	"github.com/flowcraft/engine/internal/storage"
	"github.com/flowcraft/engine/internal/validate"
	"github.com/google/uuid"
)

// Re-exported domain types: callers build workflows against these without
// importing an internal package directly, mirroring the teacher's
// top-level type aliases in mbflow.go/configs.go.
type (
	Workflow = domain.Workflow
	Node     = domain.Node
	Edge     = domain.Edge
	NodeType = domain.NodeType

	AgentData     = domain.AgentData
	RouterData    = domain.RouterData
	RouteOption   = domain.RouteOption
	ParallelData  = domain.ParallelData
	WhileLoopData = domain.WhileLoopData
	MemoryData    = domain.MemoryData
	ToolData      = domain.ToolData
	SubflowData   = domain.SubflowData
	OutputData    = domain.OutputData

	ExecutionStatus = domain.ExecutionStatus
	ExecutionError  = retry.ExecutionError
)

const (
	NodeTypeStart     = domain.NodeTypeStart
	NodeTypeAgent     = domain.NodeTypeAgent
	NodeTypeRouter    = domain.NodeTypeRouter
	NodeTypeParallel  = domain.NodeTypeParallel
	NodeTypeWhileLoop = domain.NodeTypeWhileLoop
	NodeTypeMemory    = domain.NodeTypeMemory
	NodeTypeTool      = domain.NodeTypeTool
	NodeTypeSubflow   = domain.NodeTypeSubflow
	NodeTypeOutput    = domain.NodeTypeOutput
)

// RunCallbacks exposes the scheduler's lifecycle hooks to facade callers,
// without requiring them to import internal/engine.
type RunCallbacks = engine.Callbacks

// RunOptions configures a single call to Engine.Run, distinct from the
// engine-wide Config: a timeout or a set of observer callbacks belongs to
// one run, not to the whole engine.
type RunOptions struct {
	Callbacks RunCallbacks
	// Timeout bounds the whole run; zero means no bound beyond ctx itself.
	Timeout time.Duration
	Tools   map[string]node.ToolFunc
}

// RunResult is the terminal outcome of one workflow execution.
type RunResult struct {
	RunID      string
	Status     ExecutionStatus
	Outputs    map[string]any
	NodeErrors map[string]*ExecutionError
}

// Engine assembles every internal component behind the single entrypoint
// SPEC_FULL.md calls the execution API facade (C10).
//
// Grounded on the teacher's workflowExecutor in executor.go, which held
// the same kind of engine+metrics bundle behind a public Executor
// interface; this Engine plays that role directly rather than through an
// interface/adapter pair, since there is exactly one implementation.
type Engine struct {
	cfg Config
}

// New builds an Engine from defaults (environment-driven provider, an
// in-memory HITL and memory adapter, no persistence) overridden by opts.
func New(opts ...Option) *Engine {
	cfg := LoadConfigFromEnv()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg}
}

// registryFor builds the node handler registry for one run, wiring the
// engine's shared adapters plus any run-scoped tools into each built-in
// handler.
func (e *Engine) registryFor(opts RunOptions) *node.Registry {
	reg := node.NewRegistry()
	reg.Register(NodeTypeStart, node.StartHandler{})
	reg.Register(NodeTypeOutput, &node.OutputHandler{Provider: e.cfg.Provider})

	router := node.NewRouterHandler(e.cfg.Provider)
	router.Callbacks.OnRouteSelected = opts.Callbacks.OnRouteSelected
	reg.Register(NodeTypeRouter, router)

	reg.Register(NodeTypeMemory, &node.MemoryHandler{Adapter: e.cfg.Memory})

	tools := node.NewToolHandler()
	for name, fn := range opts.Tools {
		tools.Register(name, fn)
	}
	reg.Register(NodeTypeTool, tools)

	agent := &node.AgentHandler{
		Provider:     e.cfg.Provider,
		DefaultModel: e.cfg.DefaultModel,
		Compactor:    e.cfg.Compactor,
		RetryPolicy:  e.cfg.RetryPolicy,
		HITL:         e.cfg.HITL,
		Tools:        tools,
		Log:          e.cfg.Logger,
		Callbacks: node.Callbacks{
			OnTokenUsage:       opts.Callbacks.OnTokenUsage,
			OnStreamDelta:      opts.Callbacks.OnStreamDelta,
			OnContextCompacted: opts.Callbacks.OnContextCompacted,
			OnNodeRetrying:     opts.Callbacks.OnNodeRetrying,
			OnHITLRequest:      opts.Callbacks.OnHITLRequest,
		},
	}
	reg.Register(NodeTypeAgent, agent)

	return reg
}

// Run validates wf, then schedules it to completion: a run id is minted
// with uuid, the scheduler drives every arrival to settlement, and the
// result is returned once the run halts; when Storage is configured the
// run is also persisted as an execution record.
func (e *Engine) Run(ctx context.Context, wf *domain.Workflow, input any, opts RunOptions) (RunResult, error) {
	if err := validate.Workflow(wf); err != nil {
		return RunResult{}, err
	}

	runID := uuid.NewString()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sched := engine.NewScheduler(wf, e.registryFor(opts), e.cfg.Logger)
	sched.RetryPolicy = e.cfg.RetryPolicy
	sched.MaxSubflowDepth = e.cfg.MaxSubflowDepth
	sched.Provider = e.cfg.Provider
	sched.Callbacks = opts.Callbacks
	if e.cfg.Storage != nil {
		sched.RunSubflow = e.subflowRunner(opts)
	}

	start := time.Now()
	res, err := sched.Run(ctx, runID, input)

	result := RunResult{RunID: runID, Status: res.Status, Outputs: res.Outputs, NodeErrors: res.NodeErrors}

	if e.cfg.Storage != nil {
		e.persist(ctx, wf.ID, runID, input, result, start)
	}
	return result, err
}

// subflowRunner loads a referenced workflow from storage and recurses into
// a nested Engine.Run, letting subflow nodes address any workflow the
// configured Storage adapter knows about.
func (e *Engine) subflowRunner(opts RunOptions) func(context.Context, string, *domain.ExecutionContext) (any, error) {
	return func(ctx context.Context, workflowID string, ec *domain.ExecutionContext) (any, error) {
		child, err := e.cfg.Storage.GetWorkflow(ctx, workflowID)
		if err != nil {
			return nil, retry.New(retry.KindValidation, "", "subflow workflow not found: "+workflowID, err)
		}
		sub, err := e.Run(ctx, child, ec.Input, opts)
		if err != nil {
			return nil, err
		}
		return sub.Outputs, nil
	}
}

func (e *Engine) persist(ctx context.Context, workflowID, runID string, input any, result RunResult, start time.Time) {
	errs := make(map[string]string, len(result.NodeErrors))
	for id, ee := range result.NodeErrors {
		errs[id] = ee.Error()
	}
	rec := &storage.ExecutionRecord{
		ID:         runID,
		WorkflowID: workflowID,
		Status:     result.Status,
		Input:      input,
		Outputs:    result.Outputs,
		Errors:     errs,
		StartedAt:  start,
		FinishedAt: time.Now(),
	}
	if err := e.cfg.Storage.SaveExecution(ctx, rec); err != nil {
		e.cfg.Logger.Warn().Err(err).Str("runId", runID).Msg("failed to persist execution record")
	}
}
