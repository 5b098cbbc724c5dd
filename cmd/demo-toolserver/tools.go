package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// maxSleep caps the sleep tool so a typo cannot park a plan for hours.
const maxSleep = time.Minute

func newServer() *server.MCPServer {
	s := server.NewMCPServer(
		"demo-toolserver",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Demo tools for exercising mcp-orchestrator plans."),
	)
	s.AddTool(echoTool(), handleEcho)
	s.AddTool(sleepTool(), handleSleep)
	s.AddTool(failTool(), handleFail)
	s.AddTool(sumTool(), handleSum)
	return s
}

func echoTool() mcp.Tool {
	return mcp.NewTool("echo",
		mcp.WithDescription("Return the given text unchanged."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo")),
	)
}

func handleEcho(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(req.GetString("text", "")), nil
}

func sleepTool() mcp.Tool {
	return mcp.NewTool("sleep",
		mcp.WithDescription("Wait for ms milliseconds, then return label."),
		mcp.WithNumber("ms", mcp.Required(), mcp.Description("Milliseconds to wait (max 60000)")),
		mcp.WithString("label", mcp.Description("Text returned when done")),
	)
}

func handleSleep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d := time.Duration(numberArg(req, "ms", 0)) * time.Millisecond
	if d < 0 {
		return mcp.NewToolResultError("'ms' must not be negative"), nil
	}
	d = min(d, maxSleep)
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	label := req.GetString("label", "")
	if label == "" {
		label = "slept " + d.String()
	}
	return mcp.NewToolResultText(label), nil
}

func failTool() mcp.Tool {
	return mcp.NewTool("fail",
		mcp.WithDescription("Always fail with the given message."),
		mcp.WithString("message", mcp.Description("Error message")),
	)
}

func handleFail(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(req.GetString("message", "deliberate failure")), nil
}

func sumTool() mcp.Tool {
	return mcp.NewTool("sum",
		mcp.WithDescription("Add two numbers."),
		mcp.WithNumber("a", mcp.Required()),
		mcp.WithNumber("b", mcp.Required()),
	)
}

func handleSum(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	for _, key := range []string{"a", "b"} {
		if _, ok := args[key].(float64); !ok {
			return mcp.NewToolResultError(fmt.Sprintf("'%s' must be a number", key)), nil
		}
	}
	total := numberArg(req, "a", 0) + numberArg(req, "b", 0)
	return mcp.NewToolResultText(strconv.FormatFloat(total, 'f', -1, 64)), nil
}

// numberArg extracts a numeric argument from a tool request.
func numberArg(req mcp.CallToolRequest, key string, defaultVal float64) float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return v
}
