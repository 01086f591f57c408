package bridge

import (
	"log/slog"
	"time"

	"github.com/vikashloomba/mcp-openapi-bridge/pkg/mcpconn"
)

// Options configure a Bridge instance.
type Options struct {
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8000".
	Addr string
	// APIKey is the shared secret required on inbound requests. Empty disables
	// the auth gate entirely.
	APIKey string
	// StrictAuth extends the auth gate to documentation routes, which are
	// otherwise on the allow-list alongside /health.
	StrictAuth bool
	// CORSOrigins is the allow-list handed to the CORS middleware. Empty
	// disables CORS handling.
	CORSOrigins []string
	// ConfigPath points at the declarative "mcpServers" JSON file. Required
	// for hot reload and the config-management API.
	ConfigPath string
	// StaticServers supplies backend specs directly, bypassing the config
	// file. Used for single-backend mode; ignored when ConfigPath is set.
	StaticServers map[string]mcpconn.ServerSpec
	// HotReload enables the config watcher and reload orchestrator.
	HotReload bool
	// ReloadInterval is the config file poll/debounce interval. Defaults to 1s.
	ReloadInterval time.Duration
	// InvokeTimeout bounds each backend call lacking its own deadline.
	// Defaults to 30s.
	InvokeTimeout time.Duration
	// ConnectTimeout bounds backend handshakes. Defaults to 30s.
	ConnectTimeout time.Duration
	// DrainTimeout bounds how long a removed or replaced backend may finish
	// in-flight calls before being closed forcibly. Defaults to 10s.
	DrainTimeout time.Duration
	// SetupRetries is how many extra dial attempts a backend gets, in the
	// background, after its initial connect fails. Defaults to 3.
	SetupRetries int
	// SetupRetryBackoff is the initial delay between those attempts,
	// doubling per attempt. Defaults to 2s.
	SetupRetryBackoff time.Duration
	// ClientName and ClientVersion identify the bridge to backends during
	// the MCP handshake.
	ClientName    string
	ClientVersion string
	// Title, Version, and Description populate the OpenAPI info block.
	Title       string
	Version     string
	Description string
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = time.Second
	}
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	if opts.SetupRetries < 0 {
		opts.SetupRetries = 0
	} else if opts.SetupRetries == 0 {
		opts.SetupRetries = 3
	}
	if opts.SetupRetryBackoff <= 0 {
		opts.SetupRetryBackoff = 2 * time.Second
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcp-openapi-bridge"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.Title == "" {
		opts.Title = "MCP OpenAPI Bridge"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
