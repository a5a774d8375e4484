package node

import (
	"context"
	"testing"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterHandler_MatchesFirstTrueCondition(t *testing.T) {
	h := NewRouterHandler(nil)
	n := domain.Node{ID: "r1", Data: map[string]any{
		"routes": []map[string]any{
			{"handle": "low", "condition": "input.score < 50"},
			{"handle": "high", "condition": "input.score >= 50"},
		},
		"default": "low",
	}}
	ec := &domain.ExecutionContext{Variables: domain.NewVariableSet(), Input: map[string]any{"score": 80}}
	res, err := h.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	assert.Equal(t, "high", res.Handle)
}

func TestRouterHandler_FallsBackToDefault(t *testing.T) {
	h := NewRouterHandler(nil)
	n := domain.Node{ID: "r1", Data: map[string]any{
		"routes":  []map[string]any{{"handle": "a", "condition": "false"}},
		"default": "fallback",
	}}
	ec := &domain.ExecutionContext{Variables: domain.NewVariableSet(), Input: map[string]any{}}
	res, err := h.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Handle)
}

func TestRouterHandler_FallsBackToFirstRouteWithoutDefault(t *testing.T) {
	h := NewRouterHandler(nil)
	n := domain.Node{ID: "r1", Data: map[string]any{
		"routes": []map[string]any{{"handle": "only", "condition": "false"}},
	}}
	ec := &domain.ExecutionContext{Variables: domain.NewVariableSet(), Input: map[string]any{}}
	res, err := h.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	assert.Equal(t, "only", res.Handle)
}

func TestRouterHandler_ErrorsWithNoRoutesAndNoDefault(t *testing.T) {
	h := NewRouterHandler(nil)
	n := domain.Node{ID: "r1", Data: map[string]any{}}
	ec := &domain.ExecutionContext{Variables: domain.NewVariableSet(), Input: map[string]any{}}
	_, err := h.Execute(context.Background(), ec, n)
	assert.Error(t, err)
}

func TestRouterHandler_AsksProviderWhenNoConditionMatches(t *testing.T) {
	mock := provider.NewMockProvider(provider.ChatResponse{Content: "a"})
	h := NewRouterHandler(mock)
	var selectedNode, selectedRoute string
	h.Callbacks.OnRouteSelected = func(nodeID, routeID string) {
		selectedNode, selectedRoute = nodeID, routeID
	}
	n := domain.Node{ID: "r1", Data: map[string]any{
		"routes": []map[string]any{
			{"handle": "a", "label": "Route A", "description": "handles A-shaped input"},
			{"handle": "b", "label": "Route B", "description": "handles B-shaped input"},
		},
	}}
	ec := &domain.ExecutionContext{Variables: domain.NewVariableSet(), Input: "some ambiguous text"}

	res, err := h.Execute(context.Background(), ec, n)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Handle)
	require.Len(t, mock.Calls(), 1)
	assert.Equal(t, "r1", selectedNode)
	assert.Equal(t, "a", selectedRoute)
}

func TestRouterHandler_ResolvesProviderReplyByLabelThenDefault(t *testing.T) {
	cfg := domain.RouterData{
		Routes:  []domain.RouteOption{{Handle: "a", Label: "Route A"}, {Handle: "b", Label: "Route B"}},
		Default: "b",
	}
	assert.Equal(t, "a", resolveRoute("Route A", cfg))
	assert.Equal(t, "b", resolveRoute("no such route", cfg))
}
