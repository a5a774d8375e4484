package flowcraft

import (
	"fmt"
	"time"

	"github.com/flowcraft/engine/internal/observability"
)

// ANSI colors & styles
const (
	colorReset  = "\033[0m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	bold        = "\033[1m"
)

// DisplayMetrics prints a Collector's snapshot in a formatted,
// human-readable way. A helper for examples, demos and debugging, not for
// production log output (which goes through the engine's zerolog logger
// instead).
//
// Grounded on the teacher's DisplayMetrics (metrics_display.go), adapted
// from the teacher's workflow/node/AI three-section summary to this
// engine's per-node-type Collector.
func DisplayMetrics(collector *observability.Collector) {
	nodes, ai := collector.Snapshot()

	title := func(text string) {
		fmt.Printf("\n%s%s=== %s ===%s\n\n", bold, colorBlue, text, colorReset)
	}
	section := func(text string) {
		fmt.Printf("%s%s%s\n", bold, text, colorReset)
	}
	kv := func(label string, value any) {
		fmt.Printf("  %s%-18s%s: %v\n", colorCyan, label, colorReset, value)
	}

	title("Execution Metrics")

	section("Nodes:")
	for nodeType, m := range nodes {
		fmt.Printf("\n  %s%s%s\n", bold, nodeType, colorReset)
		kv("Executions", m.Executions)
		kv("Failures", fmt.Sprintf("%s%d%s", colorRed, m.Failures, colorReset))
		kv("Retries", fmt.Sprintf("%s%d%s", colorYellow, m.Retries, colorReset))
		if m.Executions > 0 {
			kv("Avg Latency", m.TotalLatency/time.Duration(m.Executions))
		}
	}

	section("\nAI Usage:")
	kv("Calls", ai.Calls)
	kv("Prompt Tokens", ai.PromptTokens)
	kv("Output Tokens", fmt.Sprintf("%s%d%s", colorGreen, ai.OutputTokens, colorReset))

	fmt.Println()
}
