package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
)

func TestCallToolReturnsResult(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)

	res, err := o.CallTool(context.Background(), ToolCall{Server: "mem", Tool: "echo", Arguments: args(t, echoArgs{Text: "hi"})})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Empty(t, res.Error)
	assert.Equal(t, "mem", res.Server)
	assert.Equal(t, "echo", res.Tool)
	assert.Equal(t, "hi", resultText(t, res))
	assert.False(t, res.Timestamp.IsZero())
	assert.Positive(t, res.Duration)
}

func TestCallToolPreDispatchErrors(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		call ToolCall
		want error
	}{
		{"missing tool", ToolCall{Server: "mem"}, ErrInvalidCall},
		{"unknown server", ToolCall{Server: "nowhere", Tool: "echo"}, mcpmgr.ErrUnknownServer},
		{"unknown tool", ToolCall{Server: "mem", Tool: "teleport"}, mcpmgr.ErrUnknownTool},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := o.CallTool(ctx, tc.call)
			require.ErrorIs(t, err, tc.want)
			assert.True(t, IsPreDispatch(err))
			assert.Nil(t, res.Result)
			assert.NotEmpty(t, res.Error)
			assert.ErrorIs(t, res.Err, tc.want)
			assert.Less(t, res.Duration, 50*time.Millisecond)
		})
	}

	require.NoError(t, o.DisconnectServer(ctx, "mem"))
	res, err := o.CallTool(ctx, ToolCall{Server: "mem", Tool: "echo"})
	require.ErrorIs(t, err, mcpmgr.ErrServerUnavailable)
	assert.Nil(t, res.Result)
}

func TestCallToolRemoteFailureIsData(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)

	res, err := o.CallTool(context.Background(), ToolCall{Server: "mem", Tool: "fail", Arguments: args(t, failArgs{Message: "disk on fire"})})
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Nil(t, res.Result)
	assert.Contains(t, res.Error, "disk on fire")
	var toolErr *ToolError
	require.ErrorAs(t, res.Err, &toolErr)
	assert.Equal(t, "fail", toolErr.Tool)
}

func TestCallToolTimeoutIsData(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)

	res, err := o.CallTool(context.Background(), ToolCall{
		Server:    "mem",
		Tool:      "sleep",
		Arguments: args(t, sleepArgs{Millis: 1000}),
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Result)
	assert.ErrorIs(t, res.Err, mcpmgr.ErrRequestTimeout)
	assert.Less(t, res.Duration, 900*time.Millisecond)
	assert.Zero(t, o.Manager().PendingRequests("mem"))
}

func TestCallToolsParallelKeepsInputOrder(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)

	calls := []ToolCall{
		{Server: "mem", Tool: "sleep", Arguments: args(t, sleepArgs{Millis: 300, Label: "A"})},
		{Server: "mem", Tool: "sleep", Arguments: args(t, sleepArgs{Millis: 10, Label: "B"})},
		{Server: "mem", Tool: "sleep", Arguments: args(t, sleepArgs{Millis: 150, Label: "C"})},
		{Server: "mem", Tool: "fail"},
		{Server: "ghost", Tool: "sleep"},
	}
	start := time.Now()
	results := o.CallToolsParallel(context.Background(), calls)
	elapsed := time.Since(start)

	require.Len(t, results, len(calls))
	assert.Equal(t, "A", resultText(t, results[0]))
	assert.Equal(t, "B", resultText(t, results[1]))
	assert.Equal(t, "C", resultText(t, results[2]))
	assert.False(t, results[3].OK())
	assert.ErrorIs(t, results[4].Err, mcpmgr.ErrUnknownServer)
	assert.Less(t, elapsed, 440*time.Millisecond, "calls should run concurrently")
}

func TestValidateArguments(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, &Options{ValidateArguments: true})
	ctx := context.Background()

	res, err := o.CallTool(ctx, ToolCall{Server: "mem", Tool: "count", Arguments: []byte(`{"count":"many"}`)})
	require.NoError(t, err)
	assert.Nil(t, res.Result)
	assert.Contains(t, res.Error, "arguments for mem/count")

	res, err = o.CallTool(ctx, ToolCall{Server: "mem", Tool: "count", Arguments: []byte(`{"count":3}`)})
	require.NoError(t, err)
	assert.Equal(t, "ok", resultText(t, res))
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	o := New(&Options{MaxRetries: 3})
	assert.Equal(t, 30*time.Second, o.DefaultTimeout())
	assert.Equal(t, 3, o.MaxRetries())
	assert.Empty(t, o.Servers())
	assert.Empty(t, o.ListTools(mcpmgr.ToolFilter{}))
}

func TestResourceAndPromptDelegates(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	resources, err := o.ListResources(ctx, "mem")
	require.NoError(t, err)
	require.Len(t, resources, 1)

	read, err := o.ReadResource(ctx, "mem", "mem://readme")
	require.NoError(t, err)
	assert.Equal(t, "readme body", read.Contents[0].Text)

	prompts, err := o.ListPrompts(ctx, "mem")
	require.NoError(t, err)
	require.Len(t, prompts, 1)

	_, err = o.GetPrompt(ctx, "ghost", "greet", nil)
	assert.True(t, errors.Is(err, mcpmgr.ErrUnknownServer))
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) settledLevels(t *testing.T) []string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var levels []string
	dec := json.NewDecoder(bytes.NewReader(b.buf.Bytes()))
	for dec.More() {
		var rec struct {
			Level string `json:"level"`
			Msg   string `json:"msg"`
			Tool  string `json:"tool"`
		}
		require.NoError(t, dec.Decode(&rec))
		if rec.Msg == "tool call settled" {
			levels = append(levels, rec.Tool+"="+rec.Level)
		}
	}
	return levels
}

func TestSettledCallLogLevels(t *testing.T) {
	t.Parallel()

	for _, debug := range []bool{false, true} {
		var out lockedBuffer
		logger := slog.New(slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
		o := newTestOrchestrator(t, &Options{Logger: logger, DebugLogging: debug})

		_, err := o.CallTool(context.Background(), ToolCall{Server: "mem", Tool: "fail"})
		require.NoError(t, err)
		_, err = o.CallTool(context.Background(), ToolCall{Server: "mem", Tool: "echo", Arguments: args(t, echoArgs{Text: "hi"})})
		require.NoError(t, err)

		assert.Equal(t, []string{"fail=WARN", "echo=DEBUG"}, out.settledLevels(t), "DebugLogging=%v", debug)
	}
}
