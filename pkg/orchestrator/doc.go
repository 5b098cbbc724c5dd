// Package orchestrator calls tools across many MCP servers and runs
// orchestration plans: directed graphs of steps whose dependencies decide
// execution order.
//
// Errors that happen after a call is dispatched are data. CallTool and
// CallToolsParallel report remote errors, timeouts and closed connections in
// ToolResult, and only return a Go error for calls that could never be sent.
// ExecutePlan fails only for plans that cannot run to completion.
//
// A step whose dependency failed still runs: completion, not success, is
// what releases dependents. Every step's outcome, failed or not, is in the
// returned results map.
package orchestrator
