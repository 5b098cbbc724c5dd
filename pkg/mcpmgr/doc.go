// Package mcpmgr keeps one persistent Model Context Protocol connection per
// registered server and correlates the requests sent over it.
//
// # Core entry points
//
//   - Manager owns the connections. Construct it with NewManager, then call
//     RegisterServer to connect, run the initialize handshake and discover
//     tools. DisconnectServer and RemoveServer tear connections down.
//   - ServerConfig (StdioServerConfig, HTTPServerConfig or
//     TransportServerConfig) declares how each server is launched or reached.
//   - Send issues a raw JSON-RPC request with a timeout. Every request is
//     matched to its response by ID regardless of arrival order, and a
//     request still pending when its connection drops fails with
//     ErrConnectionClosed.
//
// ListTools, Tool and Servers query the catalog learned at registration.
// ListResources, ReadResource, ListPrompts and GetPrompt are thin wrappers
// over Send. Subscribe streams status transitions.
//
// When inspecting server configurations returned from GetServerConfig, use
// IsStdio/IsHTTP and AsStdio/AsHTTP or TransportOf to branch on the concrete
// transport type. Avoid marshaling BaseServerConfig directly because it
// contains function fields.
package mcpmgr
