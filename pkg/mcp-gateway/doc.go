// Package mcpgateway exposes an HTTP-facing aggregation layer that mirrors the
// tools, prompts, and resources of every server registered with an
// orchestrator over a single Streamable MCP server. Upstream names are
// namespaced per server, tool calls are routed through the orchestrator, and
// an extra tool runs whole orchestration plans. The HTTP surface also serves
// /healthz and /servers for operators.
package mcpgateway
