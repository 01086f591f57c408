// Package mcpconn manages connections to Model Context Protocol (MCP)
// backends from a single Go process. It translates declarative server
// specifications into live transports (stdio subprocess, SSE, or Streamable
// HTTP via the modelcontextprotocol/go-sdk client), tracks each connection
// through an explicit lifecycle (Connecting, Ready, Degraded, Draining,
// Closed), and recovers dropped sessions with bounded backoff so callers can
// treat heterogeneous backends uniformly.
//
// # Core entry points
//
//   - ServerSpec (and the StdioServerSpec / SSEServerSpec /
//     StreamableServerSpec variants) declare how a backend is launched or
//     contacted. Specs are plain data and safe to compare with Equal, which
//     the hot-reload differ relies on.
//   - Config models the declarative "mcpServers" JSON file; ParseConfig,
//     LoadConfig, and SaveConfig read and write it.
//   - Dial establishes a Conn. Use Tools to discover the backend's tool
//     catalog, Call to invoke a tool, and Drain/Close to retire the
//     connection without stranding in-flight calls.
package mcpconn
