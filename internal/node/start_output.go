package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/provider"
	"github.com/flowcraft/engine/internal/retry"
)

// StartHandler passes the run's initial input through unchanged. Grounded
// on the teacher's trivial pass-through entry executor.
type StartHandler struct{}

func (StartHandler) Execute(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (Result, error) {
	return Result{Output: ec.Input}, nil
}

// OutputHandler publishes the node's input as part of the run's final
// result. Keys, if declared, pre-filters a map input before Mode is
// applied. With an empty Mode (the default) the filtered input is published
// unchanged; Mode="combine" concatenates the selected sources with optional
// IntroText/OutroText; Mode="synthesis" calls Provider once with a fixed
// synthesis prompt over the selected sources.
//
// Grounded on the teacher's final-node pass-through plus
// OpenAICompletionExecutor's single-call pattern (node_executors.go) for
// the synthesis path.
type OutputHandler struct {
	Provider provider.Provider
}

func (h *OutputHandler) Execute(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (Result, error) {
	var data domain.OutputData
	decodeInto(n.Data, &data)

	input := ec.Input
	if len(data.Keys) > 0 {
		if m, ok := input.(map[string]any); ok {
			filtered := make(map[string]any, len(data.Keys))
			for _, k := range data.Keys {
				if v, ok := m[k]; ok {
					filtered[k] = v
				}
			}
			input = filtered
		}
	}

	switch data.Mode {
	case "synthesis":
		return h.synthesize(ctx, n, data, input)
	case "combine":
		return Result{Output: combineSources(data, input)}, nil
	default:
		return Result{Output: input}, nil
	}
}

// synthesize calls the provider once over the node's selected sources,
// using its reply as the node's output.
func (h *OutputHandler) synthesize(ctx context.Context, n domain.Node, data domain.OutputData, input any) (Result, error) {
	if h.Provider == nil {
		return Result{}, retry.New(retry.KindValidation, n.ID, "output node requires a configured provider for synthesis mode", nil)
	}

	var b strings.Builder
	b.WriteString("Synthesize a single final answer from the following sources.\n\n")
	for i, s := range selectSources(data.Sources, input) {
		fmt.Fprintf(&b, "Source %d: %v\n", i+1, s)
	}

	resp, err := h.Provider.Complete(ctx, provider.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return Result{}, retry.Classify(n.ID, err)
	}
	return Result{Output: resp.Content}, nil
}

// combineSources concatenates the node's selected sources, wrapped in the
// optional intro/outro text.
func combineSources(data domain.OutputData, input any) string {
	var b strings.Builder
	if data.IntroText != "" {
		b.WriteString(data.IntroText)
		b.WriteString("\n")
	}
	for i, s := range selectSources(data.Sources, input) {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%v", s)
	}
	if data.OutroText != "" {
		b.WriteString("\n")
		b.WriteString(data.OutroText)
	}
	return b.String()
}

// selectSources pulls the named keys out of a map input in order, or every
// value when names is empty; a non-map input is treated as its own sole
// source.
func selectSources(names []string, input any) []any {
	m, ok := input.(map[string]any)
	if !ok {
		return []any{input}
	}
	if len(names) == 0 {
		out := make([]any, 0, len(m))
		for _, v := range m {
			out = append(out, v)
		}
		return out
	}
	out := make([]any, 0, len(names))
	for _, name := range names {
		if v, ok := m[name]; ok {
			out = append(out, v)
		}
	}
	return out
}
