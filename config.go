package flowcraft

import (
	"os"
	"strconv"

	"github.com/flowcraft/engine/internal/compaction"
	"github.com/flowcraft/engine/internal/hitl"
	"github.com/flowcraft/engine/internal/memory"
	"github.com/flowcraft/engine/internal/observability"
	"github.com/flowcraft/engine/internal/provider"
	"github.com/flowcraft/engine/internal/retry"
	"github.com/flowcraft/engine/internal/storage"
	"github.com/rs/zerolog"
)

// Config collects everything an Engine needs to run workflows. Zero value
// plus defaults (provider from OPENROUTER_API_KEY, an in-memory HITL and
// memory adapter, no persistence) is enough to execute a workflow that
// doesn't touch memory or storage nodes.
//
// Grounded on the teacher's ExecutorConfig/EngineConfig split in
// executor.go: a small public config struct translated into the internal
// wiring a WorkflowEngine actually needs.
type Config struct {
	Provider        provider.Provider
	DefaultModel    string
	RetryPolicy     retry.Policy
	Compactor       *compaction.Compactor
	HITL            hitl.Adapter
	Memory          memory.Adapter
	Storage         storage.Adapter
	MaxSubflowDepth int
	Logger          zerolog.Logger
	PrettyLog       bool
}

// Option mutates a Config during New.
type Option func(*Config)

func WithProvider(p provider.Provider) Option { return func(c *Config) { c.Provider = p } }

// WithDefaultModel sets the model an agent node falls back to when its own
// data block declares none, sparing every node author from repeating the
// same model string across a workflow.
func WithDefaultModel(model string) Option { return func(c *Config) { c.DefaultModel = model } }

func WithRetryPolicy(p retry.Policy) Option { return func(c *Config) { c.RetryPolicy = p } }

func WithCompactor(comp *compaction.Compactor) Option { return func(c *Config) { c.Compactor = comp } }

func WithHITL(a hitl.Adapter) Option { return func(c *Config) { c.HITL = a } }

func WithMemory(a memory.Adapter) Option { return func(c *Config) { c.Memory = a } }

func WithStorage(a storage.Adapter) Option { return func(c *Config) { c.Storage = a } }

func WithMaxSubflowDepth(n int) Option { return func(c *Config) { c.MaxSubflowDepth = n } }

func WithLogger(l zerolog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithMaxRetries sets how many times a failed node call is retried after its
// first attempt, keeping the default policy's backoff bounds.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.RetryPolicy.MaxAttempts = n + 1 }
}

// LoadConfigFromEnv mirrors the teacher's NewExecutor(nil) fallback: a
// usable engine out of the box, reading provider credentials from the
// environment the way the teacher's NewWorkflowEngine did for
// OPENAI_API_KEY. cmd/flowrun calls this indirectly through New, and may
// call it directly when it needs to inspect defaults before applying flag
// overrides.
//
// Grounded on the teacher's internal/config/config.go env-var loader.
func LoadConfigFromEnv() Config {
	pretty := os.Getenv("FLOWCRAFT_LOG_PRETTY") != "false"
	log := observability.New("info", pretty)

	cfg := Config{
		DefaultModel:    os.Getenv("FLOWCRAFT_DEFAULT_MODEL"),
		RetryPolicy:     retry.DefaultPolicy(),
		Compactor:       compaction.NewCompactor(compaction.NewLimitTable(), nil),
		HITL:            hitl.NewMemoryAdapter(),
		Memory:          memory.NewInMemoryAdapter(),
		MaxSubflowDepth: 8,
		Logger:          log,
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		base := os.Getenv("OPENROUTER_BASE_URL")
		cfg.Provider = provider.NewOpenRouterProvider(key, base, log)
	}
	if n, err := strconv.Atoi(os.Getenv("FLOWCRAFT_MAX_SUBFLOW_DEPTH")); err == nil && n > 0 {
		cfg.MaxSubflowDepth = n
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4o-mini"
	}
	return cfg
}
