package mcpconn

import "fmt"

// ConfigError reports a malformed declarative configuration source. It is
// fatal at startup and non-fatal during hot reload, where the cycle aborts
// and the prior topology is retained.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("mcpconn: invalid config: %v", e.Err)
	}
	return fmt.Sprintf("mcpconn: invalid config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectionError reports a backend that is unreachable at connect time or
// not in a state that accepts calls.
type ConnectionError struct {
	Server string
	State  State
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mcpconn: server %q unavailable (%s)", e.Server, e.State)
	}
	return fmt.Sprintf("mcpconn: server %q unreachable: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unexpected message from a backend.
type ProtocolError struct {
	Server string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcpconn: protocol error from %q: %v", e.Server, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InvocationError reports a tool-level failure, a timed-out call, or a call
// cancelled because its connection closed.
type InvocationError struct {
	Server    string
	Tool      string
	Timeout   bool
	Cancelled bool
	Err       error
}

func (e *InvocationError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("mcpconn: call %s on %q timed out", e.Tool, e.Server)
	case e.Cancelled:
		return fmt.Sprintf("mcpconn: call %s on %q cancelled", e.Tool, e.Server)
	default:
		return fmt.Sprintf("mcpconn: call %s on %q failed: %v", e.Tool, e.Server, e.Err)
	}
}

func (e *InvocationError) Unwrap() error { return e.Err }
