package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-openapi-bridge/pkg/mcpconn"
	"github.com/vikashloomba/mcp-openapi-bridge/pkg/toolschema"
)

// maxRequestBody caps inbound tool-call bodies. Backends receive structured
// arguments, not blobs; anything larger is a client error.
const maxRequestBody = 4 << 20

// buildMount dials the backend, discovers its tool catalog, compiles one
// binder per tool, and assembles the mount's route table. The mount is fully
// usable when buildMount returns; nothing is published until the caller puts
// it in the registry.
func (b *Bridge) buildMount(ctx context.Context, name string, spec mcpconn.ServerSpec) (*Mount, error) {
	conn, err := mcpconn.Dial(ctx, name, spec, &mcpconn.DialOptions{
		ClientName:     b.opts.ClientName,
		ClientVersion:  b.opts.ClientVersion,
		ConnectTimeout: b.opts.ConnectTimeout,
		CallTimeout:    b.opts.InvokeTimeout,
		OnReconnect:    func() { b.refreshMount(context.Background(), name) },
		Logger:         b.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	tools, err := conn.Tools(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}

	m := b.assembleMount(name, spec, conn, conn.Generation(), tools)
	return m, nil
}

// assembleMount builds the route table and per-mount handler for a discovered
// tool catalog. Tool input schemas arrive as untyped JSON; one that cannot be
// interpreted downgrades that tool to an accept-anything binder instead of
// dropping it.
func (b *Bridge) assembleMount(name string, spec mcpconn.ServerSpec, conn *mcpconn.Conn, generation uint64, tools []*mcp.Tool) *Mount {
	m := &Mount{
		Name:       name,
		Spec:       spec,
		Conn:       conn,
		Generation: generation,
	}
	for _, tool := range tools {
		if tool == nil || tool.Name == "" {
			continue
		}
		schema, err := toolschema.SchemaFor(tool.InputSchema)
		if err != nil {
			b.opts.Logger.Warn("unusable tool input schema; accepting any object",
				"server", name, "tool", tool.Name, "error", err)
			schema = nil
		}
		m.routes = append(m.routes, toolRoute{
			Tool:   tool,
			Binder: toolschema.Compile(schema),
		})
	}
	m.handler = b.mountHandler(m)
	return m
}

// refreshMount re-runs discovery against a connection that survived an
// outage. A respawned backend may advertise a different tool catalog, so the
// routes and binders are rebuilt and swapped in; the connection itself is
// kept. A rediscovery failure keeps the previous routes serving.
func (b *Bridge) refreshMount(ctx context.Context, name string) {
	lock := b.registry.nameLock(name)
	lock.Lock()
	defer lock.Unlock()
	m, ok := b.registry.lookup(name)
	if !ok {
		return
	}
	generation := m.Conn.Generation()
	if generation == m.Generation {
		return
	}
	tools, err := m.Conn.Tools(ctx)
	if err != nil {
		b.opts.Logger.Warn("tool rediscovery failed after reconnect", "server", name, "error", err)
		return
	}
	refreshed := b.assembleMount(name, m.Spec, m.Conn, generation, tools)
	b.registry.replace(refreshed)
	b.opts.Logger.Info("backend routes refreshed",
		"server", name, "generation", generation, "tools", len(refreshed.routes))
}

// mountHandler builds the per-mount mux: one POST route per tool plus the
// backend-scoped documentation routes. Paths are relative; the dispatcher
// strips the "/<name>" prefix before handing the request over.
func (b *Bridge) mountHandler(m *Mount) http.Handler {
	mux := http.NewServeMux()
	for _, rt := range m.routes {
		mux.HandleFunc("POST /"+rt.Tool.Name, func(w http.ResponseWriter, r *http.Request) {
			b.handleToolCall(w, r, m, rt)
		})
	}
	mux.HandleFunc("GET /openapi.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, b.openapiDoc(m))
	})
	mux.HandleFunc("GET /docs", func(w http.ResponseWriter, r *http.Request) {
		writeDocsPage(w, m.Name+" - "+b.opts.Title, "openapi.json")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return mux
}

func (b *Bridge) handleToolCall(w http.ResponseWriter, r *http.Request, m *Mount, rt toolRoute) {
	body, err := readBody(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "failed to read request body")
		}
		return
	}
	args, err := rt.Binder.Bind(body)
	if err != nil {
		var verr *toolschema.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "validation",
				"fields": verr.Fields,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := m.Conn.Call(r.Context(), rt.Tool.Name, args)
	if err != nil {
		status, msg := upstreamStatus(err)
		b.opts.Logger.Warn("tool call failed",
			slog.String("server", m.Name),
			slog.String("tool", rt.Tool.Name),
			slog.Int("status", status),
			slog.Any("error", err))
		writeError(w, status, msg)
		return
	}
	if res != nil && res.IsError {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "tool execution failed",
			"detail": relayResult(res),
		})
		return
	}
	writeJSON(w, http.StatusOK, relayResult(res))
}

// upstreamStatus maps connection-layer failures onto gateway status codes:
// unreachable backends are 503, timeouts 504, protocol violations 502.
func upstreamStatus(err error) (int, string) {
	var inv *mcpconn.InvocationError
	if errors.As(err, &inv) {
		if inv.Timeout {
			return http.StatusGatewayTimeout, "backend call timed out"
		}
		if inv.Cancelled {
			return http.StatusBadGateway, "backend call cancelled"
		}
		return http.StatusBadGateway, "backend call failed"
	}
	var conn *mcpconn.ConnectionError
	if errors.As(err, &conn) {
		return http.StatusServiceUnavailable, fmt.Sprintf("backend unavailable (%s)", conn.State)
	}
	var proto *mcpconn.ProtocolError
	if errors.As(err, &proto) {
		return http.StatusBadGateway, "backend protocol error"
	}
	return http.StatusBadGateway, "backend call failed"
}

// relayResult converts a tool result into the JSON value returned to the HTTP
// caller. Structured output wins; otherwise a lone text block is surfaced
// directly, parsed as JSON when it happens to be JSON; multi-block content
// comes back as an array.
func relayResult(res *mcp.CallToolResult) any {
	if res == nil {
		return nil
	}
	if res.StructuredContent != nil {
		return res.StructuredContent
	}
	if len(res.Content) == 1 {
		if tc, ok := res.Content[0].(*mcp.TextContent); ok {
			return textValue(tc.Text)
		}
	}
	out := make([]any, 0, len(res.Content))
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out = append(out, textValue(tc.Text))
		} else {
			out = append(out, c)
		}
	}
	return out
}

// textValue returns text as parsed JSON when it is a self-contained JSON
// document, and as a plain string otherwise.
func textValue(text string) any {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return text
	}
	if dec.More() {
		return text
	}
	return v
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
