// Package compaction implements the token counter and the conversation
// compactor that keeps an agent node's message history under its model's
// context window.
//
// Grounded on the teacher's internal/application/executor/conditions.go for
// the compiled-cache idiom reused here (as a sync.Map) for limit lookups; the
// compaction algorithm itself is new (the teacher has no equivalent), built
// in the same struct-with-config shape as its other executor components.
package compaction

import (
	"sync"

	"github.com/flowcraft/engine/internal/domain"
)

// CountTokens estimates token count as ceil(len(chars)/4), the cheap
// network-free heuristic most OpenAI-compatible providers quote as a rule
// of thumb.
func CountTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len([]rune(s))
	return (n + 3) / 4
}

// CountMessages sums CountTokens across every message, plus a small
// per-message overhead to approximate role/formatting tokens.
func CountMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += CountTokens(m.Content) + 4
	}
	return total
}

// LimitTable resolves a model name to its context window size. Safe for
// concurrent use; entries populate a sync.Map on first lookup, the same
// memoize-on-read pattern used elsewhere in the engine.
type LimitTable struct {
	defaults map[string]int
	cache    sync.Map
}

// NewLimitTable seeds the table with a small set of well-known OpenRouter /
// OpenAI context window sizes. Unknown models fall back to 8192.
func NewLimitTable() *LimitTable {
	return &LimitTable{defaults: map[string]int{
		"openai/gpt-4o":            128_000,
		"openai/gpt-4o-mini":       128_000,
		"openai/gpt-4-turbo":       128_000,
		"openai/gpt-3.5-turbo":     16_385,
		"anthropic/claude-3.5-sonnet": 200_000,
		"anthropic/claude-3-haiku":    200_000,
	}}
}

const fallbackLimit = 8192

// Limit returns the context window for model, falling back to a safe
// default for unrecognized names.
func (t *LimitTable) Limit(model string) int {
	if v, ok := t.cache.Load(model); ok {
		return v.(int)
	}
	limit := fallbackLimit
	if v, ok := t.defaults[model]; ok {
		limit = v
	}
	t.cache.Store(model, limit)
	return limit
}

// Register overrides or adds a model's context window size.
func (t *LimitTable) Register(model string, limit int) {
	t.cache.Store(model, limit)
}

// SummarizeFunc produces a short summary of the given messages, typically
// by calling back into an LLM provider. Kept as a function type rather than
// an interface so callers can pass a closure over their provider + model.
type SummarizeFunc func(msgs []domain.Message) (string, error)

// Compactor keeps a message history within a model's token budget by
// summarizing the oldest messages once the budget is exceeded, always
// preserving the leading system prompt and the most recent KeepLast
// messages verbatim.
type Compactor struct {
	Limits    *LimitTable
	KeepLast  int
	Summarize SummarizeFunc
}

// NewCompactor returns a Compactor keeping the last 6 messages verbatim by
// default, matching a typical "recent turns stay, older turns compact" UX.
func NewCompactor(limits *LimitTable, summarize SummarizeFunc) *Compactor {
	return &Compactor{Limits: limits, KeepLast: 6, Summarize: summarize}
}

// Result describes what Compact did, used to drive an onContextCompacted
// callback.
type Result struct {
	Compacted      bool
	TokensBefore   int
	TokensAfter    int
	MessagesBefore int
	MessagesAfter  int
}

// Compact returns a possibly-shortened copy of msgs such that it fits within
// model's context window (minus a safety margin for the reply itself). The
// leading system message (if any) and the last KeepLast messages are never
// summarized away.
func (c *Compactor) Compact(model string, msgs []domain.Message, replyReserve int) ([]domain.Message, Result, error) {
	before := CountMessages(msgs)
	limit := c.Limits.Limit(model)
	budget := limit - replyReserve
	res := Result{TokensBefore: before, MessagesBefore: len(msgs)}

	if before <= budget || len(msgs) <= c.KeepLast+1 {
		res.TokensAfter = before
		res.MessagesAfter = len(msgs)
		return msgs, res, nil
	}

	sysIdx := -1
	if len(msgs) > 0 && msgs[0].Role == "system" {
		sysIdx = 0
	}
	keepFrom := len(msgs) - c.KeepLast
	if keepFrom < 0 {
		keepFrom = 0
	}
	tailStart := keepFrom
	if sysIdx == 0 && tailStart == 0 {
		tailStart = 1
	}

	toSummarize := msgs[boolIdx(sysIdx):tailStart]
	out := make([]domain.Message, 0, len(msgs))
	if sysIdx == 0 {
		out = append(out, msgs[0])
	}

	if len(toSummarize) > 0 {
		var summary string
		summarized := false
		if c.Summarize != nil {
			s, err := c.Summarize(toSummarize)
			summary, summarized = s, err == nil
		}
		if !summarized {
			// Summarization failing (or no summarizer being configured) is not
			// fatal to the run: fall back to a hard truncation so the agent
			// node can still proceed.
			out = append(out, msgs[tailStart:]...)
			res.TokensAfter = CountMessages(out)
			res.MessagesAfter = len(out)
			res.Compacted = true
			return out, res, nil
		}
		out = append(out, domain.Message{Role: "system", Content: "Earlier conversation summary: " + summary})
	}
	out = append(out, msgs[tailStart:]...)

	res.TokensAfter = CountMessages(out)
	res.MessagesAfter = len(out)
	res.Compacted = true
	return out, res, nil
}

func boolIdx(sysIdx int) int {
	if sysIdx == 0 {
		return 1
	}
	return 0
}
