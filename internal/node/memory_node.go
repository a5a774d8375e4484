package node

import (
	"context"
	"fmt"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/memory"
	"github.com/flowcraft/engine/internal/retry"
)

// MemoryHandler reads from or writes to the configured memory.Adapter,
// implementing the engine side of C5's contract.
type MemoryHandler struct {
	Adapter memory.Adapter
}

func (h *MemoryHandler) Execute(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (Result, error) {
	var cfg domain.MemoryData
	decodeInto(n.Data, &cfg)

	if h.Adapter == nil {
		return Result{}, retry.New(retry.KindValidation, n.ID, "memory node has no adapter configured", nil)
	}

	switch cfg.Operation {
	case "write":
		key := cfg.Key
		if key == "" {
			key = n.ID
		}
		content := fmt.Sprintf("%v", ec.Input)
		if err := h.Adapter.Write(ctx, key, content); err != nil {
			return Result{}, retry.New(retry.KindUnknown, n.ID, "memory write failed", err)
		}
		return Result{Output: ec.Input}, nil
	case "read":
		topK := cfg.TopK
		if topK <= 0 {
			topK = 5
		}
		results, err := h.Adapter.Search(ctx, cfg.Query, topK)
		if err != nil {
			return Result{}, retry.New(retry.KindUnknown, n.ID, "memory search failed", err)
		}
		return Result{Output: results}, nil
	default:
		return Result{}, retry.New(retry.KindValidation, n.ID, fmt.Sprintf("unknown memory operation %q", cfg.Operation), nil)
	}
}
