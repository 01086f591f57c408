package mcpconn

import (
	"reflect"
	"time"
)

// BaseServerSpec captures settings shared by all transport kinds. Specs carry
// plain data only so they can be compared and replaced wholesale when the
// configuration changes.
type BaseServerSpec struct {
	// Timeout bounds individual calls to the backend. Zero falls back to the
	// dial options' default.
	Timeout time.Duration
}

// StdioServerSpec describes an MCP backend launched as a subprocess speaking
// the protocol over its standard streams.
type StdioServerSpec struct {
	BaseServerSpec
	Command string
	Args    []string
	Env     map[string]string
}

func (s *StdioServerSpec) base() *BaseServerSpec { return &s.BaseServerSpec }

// Equal reports whether other describes the same stdio backend.
func (s *StdioServerSpec) Equal(other ServerSpec) bool {
	o, ok := other.(*StdioServerSpec)
	return ok && reflect.DeepEqual(s, o)
}

// SSEServerSpec describes an MCP backend reachable over the SSE transport:
// a persistent server-pushed event stream with a companion request channel.
type SSEServerSpec struct {
	BaseServerSpec
	Endpoint string
	Headers  map[string]string
}

func (s *SSEServerSpec) base() *BaseServerSpec { return &s.BaseServerSpec }

// Equal reports whether other describes the same SSE backend.
func (s *SSEServerSpec) Equal(other ServerSpec) bool {
	o, ok := other.(*SSEServerSpec)
	return ok && reflect.DeepEqual(s, o)
}

// StreamableServerSpec describes an MCP backend reachable over the
// bidirectional Streamable HTTP transport.
type StreamableServerSpec struct {
	BaseServerSpec
	Endpoint   string
	Headers    map[string]string
	MaxRetries int
}

func (s *StreamableServerSpec) base() *BaseServerSpec { return &s.BaseServerSpec }

// Equal reports whether other describes the same Streamable HTTP backend.
func (s *StreamableServerSpec) Equal(other ServerSpec) bool {
	o, ok := other.(*StreamableServerSpec)
	return ok && reflect.DeepEqual(s, o)
}

// ServerSpec is implemented by all transport-specific backend descriptions.
type ServerSpec interface {
	base() *BaseServerSpec
	Equal(ServerSpec) bool
}

// SpecTransport identifies the transport family used by a ServerSpec.
type SpecTransport string

const (
	TransportStdio      SpecTransport = "stdio"
	TransportSSE        SpecTransport = "sse"
	TransportStreamable SpecTransport = "streamable-http"
)

// TransportOf returns the transport kind for a ServerSpec. Returns an empty
// string when the value is nil or an unknown implementation.
func TransportOf(spec ServerSpec) SpecTransport {
	switch spec.(type) {
	case *StdioServerSpec:
		return TransportStdio
	case *SSEServerSpec:
		return TransportSSE
	case *StreamableServerSpec:
		return TransportStreamable
	default:
		return ""
	}
}

// IsStdio reports whether spec is a *StdioServerSpec.
func IsStdio(spec ServerSpec) bool {
	_, ok := spec.(*StdioServerSpec)
	return ok
}

// IsSSE reports whether spec is a *SSEServerSpec.
func IsSSE(spec ServerSpec) bool {
	_, ok := spec.(*SSEServerSpec)
	return ok
}

// IsStreamable reports whether spec is a *StreamableServerSpec.
func IsStreamable(spec ServerSpec) bool {
	_, ok := spec.(*StreamableServerSpec)
	return ok
}

// AsStdio narrows spec to *StdioServerSpec, returning (nil, false) when it
// does not match.
func AsStdio(spec ServerSpec) (*StdioServerSpec, bool) {
	s, ok := spec.(*StdioServerSpec)
	return s, ok
}

// AsSSE narrows spec to *SSEServerSpec, returning (nil, false) when it does
// not match.
func AsSSE(spec ServerSpec) (*SSEServerSpec, bool) {
	s, ok := spec.(*SSEServerSpec)
	return s, ok
}

// AsStreamable narrows spec to *StreamableServerSpec, returning (nil, false)
// when it does not match.
func AsStreamable(spec ServerSpec) (*StreamableServerSpec, bool) {
	s, ok := spec.(*StreamableServerSpec)
	return s, ok
}
