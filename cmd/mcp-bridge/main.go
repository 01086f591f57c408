// Command mcp-bridge exposes MCP tool servers as an OpenAPI-documented HTTP
// service. Backends come from a declarative config file (--config) or, for
// single-backend mode, from the command line:
//
//	mcp-bridge --config servers.json --hot-reload
//	mcp-bridge --api-key secret -- uvx mcp-server-time --local-timezone=UTC
//	mcp-bridge --server-type streamable-http -- http://127.0.0.1:8001/mcp
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vikashloomba/mcp-openapi-bridge/pkg/bridge"
	"github.com/vikashloomba/mcp-openapi-bridge/pkg/mcpconn"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func run(args []string) int {
	fs := flag.NewFlagSet("mcp-bridge", flag.ContinueOnError)
	var (
		host       = fs.String("host", "0.0.0.0", "listen host")
		port       = fs.Int("port", 8000, "listen port")
		apiKey     = fs.String("api-key", "", "shared secret required as a Bearer token")
		strictAuth = fs.Bool("strict-auth", false, "require the API key on documentation routes too")
		configPath = fs.String("config", "", "path to the mcpServers JSON config file")
		hotReload  = fs.Bool("hot-reload", false, "watch the config file and apply changes live")
		reloadMs   = fs.Duration("reload-interval", time.Second, "config poll interval")
		timeout    = fs.Duration("timeout", 30*time.Second, "per-call backend timeout")
		serverType = fs.String("server-type", "stdio", "single-backend transport: stdio, sse, or streamable-http")
		name       = fs.String("name", "", "API title (and single-backend mount name)")
		version    = fs.String("api-version", "1.0.0", "API version string")
		desc       = fs.String("description", "", "API description")
		logLevel   = fs.String("log-level", "info", "log level: debug, info, warn, or error")
		corsList   stringList
		headerList stringList
	)
	fs.Var(&corsList, "cors-origin", "allowed CORS origin (repeatable)")
	fs.Var(&headerList, "header", "extra header KEY=VALUE for remote backends (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	opts := &bridge.Options{
		Addr:           fmt.Sprintf("%s:%d", *host, *port),
		APIKey:         *apiKey,
		StrictAuth:     *strictAuth,
		CORSOrigins:    corsList,
		ConfigPath:     *configPath,
		HotReload:      *hotReload,
		ReloadInterval: *reloadMs,
		InvokeTimeout:  *timeout,
		Title:          *name,
		Version:        *version,
		Description:    *desc,
		Logger:         logger,
	}

	if *configPath == "" {
		spec, mountName, err := commandLineSpec(fs.Args(), *serverType, headerList, *timeout)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mcp-bridge:", err)
			return 1
		}
		if *name != "" {
			mountName = *name
		}
		opts.StaticServers = map[string]mcpconn.ServerSpec{mountName: spec}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bridge.New(opts)
	if err := b.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	if err := b.ListenAndServe(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

// commandLineSpec builds the single-backend spec from the positional
// arguments: a command line for stdio, or a URL for the remote transports.
func commandLineSpec(rest []string, serverType string, headers stringList, timeout time.Duration) (mcpconn.ServerSpec, string, error) {
	if len(rest) == 0 {
		return nil, "", fmt.Errorf("no --config file and no backend command given")
	}
	base := mcpconn.BaseServerSpec{Timeout: timeout}
	switch serverType {
	case "stdio", "":
		return &mcpconn.StdioServerSpec{
			BaseServerSpec: base,
			Command:        rest[0],
			Args:           rest[1:],
		}, mountNameFor(rest[0]), nil
	case "sse":
		return &mcpconn.SSEServerSpec{
			BaseServerSpec: base,
			Endpoint:       rest[0],
			Headers:        parseHeaders(headers),
		}, "server", nil
	case "streamable-http", "streamable_http", "http":
		return &mcpconn.StreamableServerSpec{
			BaseServerSpec: base,
			Endpoint:       rest[0],
			Headers:        parseHeaders(headers),
		}, "server", nil
	default:
		return nil, "", fmt.Errorf("unknown --server-type %q", serverType)
	}
}

func mountNameFor(command string) string {
	if i := strings.LastIndexByte(command, '/'); i >= 0 {
		command = command[i+1:]
	}
	if command == "" {
		return "server"
	}
	return command
}

func parseHeaders(list stringList) map[string]string {
	if len(list) == 0 {
		return nil
	}
	headers := make(map[string]string, len(list))
	for _, kv := range list {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			k, v, _ = strings.Cut(kv, ":")
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
