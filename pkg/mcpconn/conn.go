package mcpconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// State is the lifecycle phase of a backend connection.
type State string

const (
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateDegraded   State = "degraded"
	StateDraining   State = "draining"
	StateClosed     State = "closed"
)

// DialOptions tune how a Conn is established and maintained.
type DialOptions struct {
	// ClientName and ClientVersion identify this process to the backend
	// during the MCP handshake.
	ClientName    string
	ClientVersion string
	// ConnectTimeout bounds the transport handshake.
	ConnectTimeout time.Duration
	// CallTimeout is applied to calls whose context carries no deadline and
	// whose spec declares no per-backend timeout.
	CallTimeout time.Duration
	// ReconnectAttempts caps how many times a dropped session is redialed
	// before the connection stays Degraded.
	ReconnectAttempts int
	// ReconnectBackoff is the initial delay before redialing; it doubles per
	// attempt up to ReconnectMaxBackoff.
	ReconnectBackoff    time.Duration
	ReconnectMaxBackoff time.Duration
	// OnReconnect, when set, runs on its own goroutine after a dropped
	// session is re-established. The backend behind a fresh session may not
	// be the process the old one spoke to, so callers typically re-run
	// discovery here.
	OnReconnect func()
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *DialOptions) withDefaults() DialOptions {
	if o == nil {
		o = &DialOptions{}
	}
	opts := *o
	if opts.ClientName == "" {
		opts.ClientName = "mcp-openapi-bridge"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 500 * time.Millisecond
	}
	if opts.ReconnectMaxBackoff <= 0 {
		opts.ReconnectMaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Conn is one live backend connection. It owns the MCP client session, the
// lifecycle state machine, and the in-flight call bookkeeping used while
// draining. All methods are safe for concurrent use.
type Conn struct {
	name string
	spec ServerSpec
	opts DialOptions

	// lifeCtx spans the whole connection. The transports bind their streams
	// (the SSE event stream, the streamable session) to the context passed to
	// Connect, so sessions must be dialed on a context that survives the
	// handshake and stays live until teardown finishes.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu         sync.Mutex
	state      State
	session    *mcp.ClientSession
	generation uint64

	inflight  sync.WaitGroup
	closedCh  chan struct{}
	closeOnce sync.Once
}

// Dial connects to the backend described by spec and performs the MCP
// handshake. A failure returns a *ConnectionError; the caller decides whether
// to retry.
func Dial(ctx context.Context, name string, spec ServerSpec, opts *DialOptions) (*Conn, error) {
	if spec == nil {
		return nil, fmt.Errorf("mcpconn: missing spec for %q", name)
	}
	c := &Conn{
		name:     name,
		spec:     spec,
		opts:     opts.withDefaults(),
		state:    StateConnecting,
		closedCh: make(chan struct{}),
	}
	c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())
	session, err := c.connect(ctx)
	if err != nil {
		c.setState(StateClosed)
		c.lifeCancel()
		return nil, &ConnectionError{Server: name, State: StateConnecting, Err: err}
	}
	c.mu.Lock()
	c.session = session
	c.generation = 1
	c.state = StateReady
	c.mu.Unlock()
	go c.monitor(session)
	return c, nil
}

// Name returns the backend name the connection was dialed with.
func (c *Conn) Name() string { return c.name }

// Spec returns the immutable spec the connection was dialed with.
func (c *Conn) Spec() ServerSpec { return c.spec }

// State returns the current lifecycle phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation counts successful session establishments, starting at 1. A
// reconnection after an outage bumps it, which lets callers detect that work
// correlated with an earlier session is stale.
func (c *Conn) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Tools performs discovery, returning the backend's declared tool catalog.
// Backends that do not implement tools/list yield an empty catalog; other
// failures wrap ProtocolError.
func (c *Conn) Tools(ctx context.Context) ([]*mcp.Tool, error) {
	session, release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	res, err := session.ListTools(callCtx, nil)
	if err != nil {
		if isMethodUnavailableError(err, "tools/list") {
			return nil, nil
		}
		return nil, &ProtocolError{Server: c.name, Err: err}
	}
	if res == nil {
		return nil, nil
	}
	return res.Tools, nil
}

// Call invokes a tool and returns its raw result. Calls fail fast with a
// *ConnectionError unless the connection is Ready; a context deadline maps to
// InvocationError{Timeout: true}; a call outstanding when the connection
// closes resolves with InvocationError{Cancelled: true} rather than hanging.
func (c *Conn) Call(ctx context.Context, tool string, args any) (*mcp.CallToolResult, error) {
	session, release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	res, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		switch {
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return nil, &InvocationError{Server: c.name, Tool: tool, Timeout: true, Err: err}
		case errors.Is(callCtx.Err(), context.Canceled):
			return nil, &InvocationError{Server: c.name, Tool: tool, Cancelled: true, Err: err}
		default:
			return nil, &InvocationError{Server: c.name, Tool: tool, Err: err}
		}
	}
	return res, nil
}

// Ping checks protocol-level liveness of the current session.
func (c *Conn) Ping(ctx context.Context) error {
	session, release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	return session.Ping(callCtx, nil)
}

// Drain stops accepting new calls, waits for in-flight ones until ctx
// expires, then closes the connection. Slow calls still outstanding at the
// deadline are cancelled by the close.
func (c *Conn) Drain(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateDraining {
		c.state = StateDraining
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.opts.Logger.Warn("drain deadline reached with calls still in flight", "server", c.name)
	}
	return c.Close()
}

// Close tears the connection down immediately. In-flight calls resolve with a
// cancellation error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closedCh) })
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.state = StateClosed
	c.mu.Unlock()

	// Order matters: closedCh cancels outstanding call contexts so their
	// requests resolve, then the session runs its close exchange on the
	// still-live session context. Cancelling lifeCtx first would abort the
	// teardown itself.
	var err error
	if session != nil {
		err = session.Close()
	}
	c.lifeCancel()
	return err
}

// acquire checks the connection is Ready and registers an in-flight call.
func (c *Conn) acquire() (*mcp.ClientSession, func(), error) {
	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return nil, nil, &ConnectionError{Server: c.name, State: state}
	}
	session := c.session
	c.inflight.Add(1)
	c.mu.Unlock()
	return session, func() { c.inflight.Done() }, nil
}

// callContext applies the per-backend timeout when the caller brought no
// deadline, and ties the context to the connection's closed channel so a
// Close never strands a waiter.
func (c *Conn) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		timeout := c.spec.base().Timeout
		if timeout <= 0 {
			timeout = c.opts.CallTimeout
		}
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	go func() {
		select {
		case <-c.closedCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (c *Conn) connect(ctx context.Context) (*mcp.ClientSession, error) {
	transport, err := c.transport()
	if err != nil {
		return nil, err
	}
	impl := &mcp.Implementation{Name: c.opts.ClientName, Version: c.opts.ClientVersion}
	client := mcp.NewClient(impl, nil)

	// The session keeps using this context after Connect returns, so it is
	// derived from the connection lifetime; only the handshake itself is
	// bounded, by a watchdog that aborts when Connect takes too long.
	connectCtx, abort := context.WithCancel(c.lifeCtx)
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-handshakeDone:
		case <-time.After(c.opts.ConnectTimeout):
			abort()
		case <-ctx.Done():
			abort()
		case <-c.closedCh:
			abort()
		}
	}()
	session, err := client.Connect(connectCtx, transport, nil)
	close(handshakeDone)
	if err != nil {
		abort()
		return nil, err
	}
	return session, nil
}

func (c *Conn) transport() (mcp.Transport, error) {
	switch spec := c.spec.(type) {
	case *StdioServerSpec:
		if spec.Command == "" {
			return nil, fmt.Errorf("command missing for %q", c.name)
		}
		cmd := exec.Command(spec.Command, spec.Args...)
		if len(spec.Env) > 0 {
			env := os.Environ()
			for k, v := range spec.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
			cmd.Env = env
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case *SSEServerSpec:
		if spec.Endpoint == "" {
			return nil, fmt.Errorf("endpoint missing for %q", c.name)
		}
		return &mcp.SSEClientTransport{
			Endpoint:   spec.Endpoint,
			HTTPClient: headerClient(spec.Headers),
		}, nil
	case *StreamableServerSpec:
		if spec.Endpoint == "" {
			return nil, fmt.Errorf("endpoint missing for %q", c.name)
		}
		return &mcp.StreamableClientTransport{
			Endpoint:   spec.Endpoint,
			HTTPClient: headerClient(spec.Headers),
			MaxRetries: spec.MaxRetries,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported spec for %q", c.name)
	}
}

// monitor watches the session until it terminates. A session that dies while
// the connection is Ready moves it to Degraded and kicks off reconnection.
func (c *Conn) monitor(session *mcp.ClientSession) {
	err := session.Wait()
	c.mu.Lock()
	if c.session != session || (c.state != StateReady && c.state != StateConnecting) {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.state = StateDegraded
	c.mu.Unlock()
	c.opts.Logger.Warn("backend session lost", "server", c.name, "error", err)
	go c.reconnect()
}

// reconnect redials with exponential backoff. The backend is respawned (or
// the stream resubscribed) rather than resumed; success bumps the generation.
func (c *Conn) reconnect() {
	backoff := c.opts.ReconnectBackoff
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-c.closedCh:
			return
		case <-time.After(backoff):
		}
		if c.State() != StateDegraded {
			return
		}
		session, err := c.connect(context.Background())
		if err != nil {
			c.opts.Logger.Warn("reconnect attempt failed",
				"server", c.name, "attempt", attempt, "error", err)
			backoff = min(backoff*2, c.opts.ReconnectMaxBackoff)
			continue
		}
		c.mu.Lock()
		if c.state != StateDegraded {
			c.mu.Unlock()
			session.Close()
			return
		}
		c.session = session
		c.generation++
		c.state = StateReady
		c.mu.Unlock()
		c.opts.Logger.Info("backend reconnected", "server", c.name, "attempt", attempt)
		go c.monitor(session)
		if c.opts.OnReconnect != nil {
			go c.opts.OnReconnect()
		}
		return
	}
	c.opts.Logger.Error("reconnect attempts exhausted; backend stays degraded", "server", c.name)
}

func (c *Conn) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// headerClient returns an http.Client that injects the configured headers
// into every outbound request to the backend.
func headerClient(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return http.DefaultClient
	}
	clone := *http.DefaultClient
	clone.Transport = &headerDecorator{next: http.DefaultTransport, headers: headers}
	return &clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers map[string]string
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	return d.next.RoundTrip(req)
}

func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	method = strings.ToLower(method)
	if strings.Contains(lower, method) {
		return true
	}
	for _, part := range strings.FieldsFunc(method, func(r rune) bool {
		return r == '/' || r == ':' || r == '.' || r == '_' || r == '-'
	}) {
		if part != "" && strings.Contains(lower, part) {
			return true
		}
	}
	return true
}
