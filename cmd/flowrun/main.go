// Command flowrun loads a workflow definition from a JSON file and runs it
// to completion against input read from the -input JSON file (an empty
// object when the flag is omitted), printing streamed agent
// tokens and the final result to stdout.
//
// Grounded on the teacher's cmd/server/main.go: flag parsing, config load,
// logger setup, executor construction and graceful shutdown on
// SIGINT/SIGTERM, trimmed from a long-lived REST server down to a one-shot
// CLI runner.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flowcraft "github.com/flowcraft/engine"
	"github.com/flowcraft/engine/internal/observability"
	"github.com/flowcraft/engine/internal/storage"
	"github.com/rs/zerolog"
)

func main() {
	var (
		workflowPath = flag.String("workflow", "", "path to a workflow JSON document")
		inputPath    = flag.String("input", "", "path to a JSON file to use as run input (defaults to {})")
		dsn          = flag.String("dsn", os.Getenv("FLOWCRAFT_DATABASE_DSN"), "Postgres DSN for execution persistence (optional)")
		timeout      = flag.Duration("timeout", 0, "overall run timeout, 0 means unbounded")
		logLevel     = flag.String("log-level", "info", "zerolog level")
		prettyLog    = flag.Bool("pretty", true, "pretty-print logs to stderr")
	)
	flag.Parse()

	if *workflowPath == "" {
		fmt.Fprintln(os.Stderr, "flowrun: -workflow is required")
		os.Exit(2)
	}

	log := observability.New(*logLevel, *prettyLog)

	wf, err := loadWorkflow(*workflowPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *workflowPath).Msg("failed to load workflow")
	}

	input, err := loadInput(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *inputPath).Msg("failed to load input")
	}

	opts := []flowcraft.Option{flowcraft.WithLogger(log)}
	if *dsn != "" {
		opts = append(opts, flowcraft.WithStorage(newStorageAdapter(*dsn, log)))
	}
	engine := flowcraft.New(opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := observability.NewCollector()
	runOpts := flowcraft.RunOptions{
		Callbacks: flowcraft.RunCallbacks{
			OnNodeStart: func(nodeID string) {
				log.Debug().Str("node", nodeID).Msg("node started")
			},
			OnNodeFinish: func(nodeID string, output any) {
				log.Debug().Str("node", nodeID).Msg("node finished")
			},
		},
	}
	runOpts.Callbacks.OnStreamDelta = func(nodeID, delta string) {
		fmt.Print(delta)
	}
	runOpts.Callbacks.OnTokenUsage = func(nodeID string, promptTokens, outputTokens int) {
		collector.RecordTokenUsage(promptTokens, outputTokens)
	}
	if *timeout > 0 {
		runOpts.Timeout = *timeout
	}

	result, err := engine.Run(ctx, wf, input, runOpts)
	fmt.Println()
	if err != nil {
		log.Error().Err(err).Str("runId", result.RunID).Msg("run failed")
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result.Outputs, "", "  ")
	fmt.Println(string(out))
	flowcraft.DisplayMetrics(collector)
}

func loadWorkflow(path string) (*flowcraft.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wf := new(flowcraft.Workflow)
	if err := json.Unmarshal(data, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func loadInput(path string) (any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return input, nil
}

// newStorageAdapter opens a Postgres-backed storage.Adapter and makes sure
// its schema exists before the run that needs it starts.
func newStorageAdapter(dsn string, log zerolog.Logger) *storage.BunPostgresAdapter {
	adapter := storage.NewBunPostgresAdapter(dsn)
	if err := adapter.CreateSchema(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize execution storage schema")
	}
	return adapter
}
