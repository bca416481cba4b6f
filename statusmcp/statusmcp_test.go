package statusmcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/K-dash/pyright-lsp-proxy/dispatcher"
)

type fakeSource struct {
	snap dispatcher.PoolSnapshot
	err  error
}

func (f fakeSource) Snapshot(ctx context.Context) (dispatcher.PoolSnapshot, error) {
	return f.snap, f.err
}

func TestPoolStatusHandlerReturnsMarshaledSnapshot(t *testing.T) {
	src := fakeSource{snap: dispatcher.PoolSnapshot{
		Capacity: 4,
		Entries:  []dispatcher.BackendSnapshot{{Environment: "/a/.venv", Status: "ready"}},
	}}
	handler := poolStatusHandler(src)

	result, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := firstText(t, result)
	var got dispatcher.PoolSnapshot
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, 4, got.Capacity)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "/a/.venv", got.Entries[0].Environment)
}

func TestPoolStatusHandlerReportsSourceError(t *testing.T) {
	handler := poolStatusHandler(fakeSource{err: errors.New("dial failed")})
	result, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestPoolReadinessHandlerAllReady(t *testing.T) {
	src := fakeSource{snap: dispatcher.PoolSnapshot{Entries: []dispatcher.BackendSnapshot{
		{Environment: "/a/.venv", Status: "ready"},
		{Environment: "/b/.venv", Status: "ready"},
	}}}
	handler := poolReadinessHandler(src)

	result, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	var got readiness
	require.NoError(t, json.Unmarshal([]byte(firstText(t, result)), &got))
	assert.True(t, got.Ready)
	assert.Equal(t, "ready", got.State)
	assert.Equal(t, 0, got.Warming)
}

func TestPoolReadinessHandlerMixedWarming(t *testing.T) {
	src := fakeSource{snap: dispatcher.PoolSnapshot{Entries: []dispatcher.BackendSnapshot{
		{Environment: "/a/.venv", Status: "ready"},
		{Environment: "/b/.venv", Status: "warming"},
	}}}
	handler := poolReadinessHandler(src)

	result, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	var got readiness
	require.NoError(t, json.Unmarshal([]byte(firstText(t, result)), &got))
	assert.False(t, got.Ready)
	assert.Equal(t, "mixed", got.State)
	assert.Equal(t, 1, got.Warming)
}

func TestPoolReadinessHandlerEmptyPool(t *testing.T) {
	handler := poolReadinessHandler(fakeSource{})
	result, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	var got readiness
	require.NoError(t, json.Unmarshal([]byte(firstText(t, result)), &got))
	assert.False(t, got.Ready)
	assert.Equal(t, "empty", got.State)
}

func TestNewServerReturnsServer(t *testing.T) {
	s := NewServer(fakeSource{})
	require.NotNil(t, s)
}

func firstText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}
