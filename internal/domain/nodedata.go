package domain

// ErrorHandling is the per-node retry/error configuration block shared by
// every node type.
type ErrorHandling struct {
	Mode         ErrorMode `json:"mode,omitempty"`
	MaxRetries   int       `json:"maxRetries,omitempty"`
	BaseDelayMs  int       `json:"baseDelayMs,omitempty"`
	MaxDelayMs   int       `json:"maxDelayMs,omitempty"`
	BranchHandle string    `json:"branchHandle,omitempty"`
}

// HITLConfig describes how a node pauses for human approval.
type HITLConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	OnTimeout string `json:"onTimeout,omitempty"` // "approve" | "reject" | "error"
}

// AgentData configures an "agent" node: a single LLM call (optionally
// streaming, optionally with tools).
type AgentData struct {
	Model         string         `json:"model,omitempty"`
	SystemPrompt  string         `json:"systemPrompt,omitempty"`
	UserTemplate  string         `json:"userTemplate,omitempty"`
	Temperature   float32        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"maxTokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	Tools         []string       `json:"tools,omitempty"`
	ContextWindow int            `json:"contextWindow,omitempty"`
	ErrorHandling *ErrorHandling `json:"errorHandling,omitempty"`
	HITL          *HITLConfig    `json:"hitl,omitempty"`
	// MaxToolIterations bounds the agent's tool-calling conversation loop;
	// zero means the default of 10.
	MaxToolIterations int `json:"maxToolIterations,omitempty"`
	// OnMaxToolIterations controls what happens when MaxToolIterations is
	// reached and the model still wants to call a tool: "warning"
	// (default, returns the last content), "error", or "hitl".
	OnMaxToolIterations string `json:"onMaxToolIterations,omitempty"`
}

// RouterData configures a "router" node: route to one of several outgoing
// handles based on either a declared condition or the agent's own choice.
type RouterData struct {
	Routes  []RouteOption `json:"routes,omitempty"`
	Default string        `json:"default,omitempty"`
}

// RouteOption names one outgoing handle (the route id), the label shown to
// the routing provider, and the fallback condition expression evaluated
// before the provider is ever asked.
type RouteOption struct {
	Handle      string `json:"handle"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	Condition   string `json:"condition,omitempty"`
}

// ParallelBranch names one branch by id (matching the outgoing edge
// SourceHandle that enters it) and an optional display label used in
// branch callbacks and labelled merge output.
type ParallelBranch struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// ParallelData configures a "parallel" node: fan out to every outgoing edge
// that carries a SourceHandle concurrently (the edge without one is the
// post-join continuation) and join per Strategy, then either synthesize a single
// merged output with Prompt or concatenate the branches' labelled outputs.
// MergeEnabled defaults to true when nil; set it to a false pointer to route
// each branch onward independently with no aggregate output.
type ParallelData struct {
	Strategy     JoinStrategy     `json:"strategy,omitempty"`
	Branches     []ParallelBranch `json:"branches,omitempty"`
	MergeEnabled *bool            `json:"mergeEnabled,omitempty"`
	Prompt       string           `json:"prompt,omitempty"`
}

// MergeEnabledOrDefault reports whether merged output is enabled, true
// unless the workflow author explicitly declared mergeEnabled=false.
func (p ParallelData) MergeEnabledOrDefault() bool {
	return p.MergeEnabled == nil || *p.MergeEnabled
}

// BranchLabel returns the declared label for branchID, or branchID itself
// when no branch metadata names it.
func (p ParallelData) BranchLabel(branchID string) string {
	for _, b := range p.Branches {
		if b.ID == branchID {
			if b.Label != "" {
				return b.Label
			}
			break
		}
	}
	return branchID
}

// WhileLoopData configures a "whileLoop" node. ConditionPrompt holds either
// the provider routing prompt (Mode=condition) evaluated each boundary with
// the current input and prior iteration outputs, or is unused when
// Mode=fixed, in which case the boundary is iteration < MaxIterations.
type WhileLoopData struct {
	Mode            LoopMode `json:"mode,omitempty"`
	ConditionPrompt string   `json:"conditionPrompt,omitempty"`
	MaxIterations   int      `json:"maxIterations,omitempty"`
	BodyHandle      string   `json:"bodyHandle,omitempty"`
	ExitHandle      string   `json:"exitHandle,omitempty"`
	// OutputMode selects how the node's final output is derived from its
	// accumulated body outputs: "last" (default) or "accumulate".
	OutputMode string `json:"outputMode,omitempty"`
	// OnMaxIterations controls what happens when MaxIterations is reached
	// while the condition is still true: "error", "warning" (default) or
	// "continue".
	OnMaxIterations string `json:"onMaxIterations,omitempty"`
}

// MemoryData configures a "memory" node: read from or write to the memory
// adapter before continuing.
type MemoryData struct {
	Operation string `json:"operation"` // "read" | "write"
	Query     string `json:"query,omitempty"`
	Key       string `json:"key,omitempty"`
	TopK      int    `json:"topK,omitempty"`
}

// ToolData configures a "tool" node: an external side-effecting call.
type ToolData struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// SubflowData configures a "subflow" node: nest another workflow.
type SubflowData struct {
	WorkflowID   string `json:"workflowId"`
	ShareSession bool   `json:"shareSession,omitempty"`
	MaxDepth     int    `json:"maxDepth,omitempty"`
}

// OutputData configures an "output" node: the final published value.
// An empty Mode (the default) publishes the input unchanged;
// Mode="combine" concatenates the selected sources with optional
// IntroText/OutroText; Mode="synthesis" calls the provider once over the
// selected sources with a fixed synthesis prompt. Sources names keys to
// pull out of a map input; Keys is a pre-selection filter applied first
// when the node's legacy key-filtering behaviour is still wanted alongside
// combine/synthesis.
type OutputData struct {
	Keys      []string `json:"keys,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	IntroText string   `json:"introText,omitempty"`
	OutroText string   `json:"outroText,omitempty"`
}
