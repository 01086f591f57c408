package mcpconn

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseConfigMapsTransports(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"mcpServers": {
			"time": {"command": "uvx", "args": ["mcp-server-time"], "env": {"TZ": "UTC"}},
			"events": {"type": "sse", "url": "http://127.0.0.1:8001/sse"},
			"files": {"type": "streamable-http", "url": "http://127.0.0.1:8002/mcp", "headers": {"Authorization": "Bearer x"}}
		}
	}`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if got := cfg.Names(); !reflect.DeepEqual(got, []string{"events", "files", "time"}) {
		t.Fatalf("Names() = %v", got)
	}

	specs, err := cfg.Specs()
	if err != nil {
		t.Fatalf("Specs: %v", err)
	}
	stdio, ok := AsStdio(specs["time"])
	if !ok {
		t.Fatalf("time spec = %T, want stdio", specs["time"])
	}
	if stdio.Command != "uvx" || len(stdio.Args) != 1 || stdio.Env["TZ"] != "UTC" {
		t.Fatalf("unexpected stdio spec: %+v", stdio)
	}
	if !IsSSE(specs["events"]) {
		t.Fatalf("events spec = %T, want sse", specs["events"])
	}
	stream, ok := AsStreamable(specs["files"])
	if !ok {
		t.Fatalf("files spec = %T, want streamable", specs["files"])
	}
	if stream.Endpoint != "http://127.0.0.1:8002/mcp" || stream.Headers["Authorization"] != "Bearer x" {
		t.Fatalf("unexpected streamable spec: %+v", stream)
	}
}

func TestParseConfigRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"malformed json":  `{"mcpServers": `,
		"missing command": `{"mcpServers": {"bad": {"args": ["x"]}}}`,
		"missing url":     `{"mcpServers": {"bad": {"type": "sse"}}}`,
		"unknown type":    `{"mcpServers": {"bad": {"type": "websocket", "url": "ws://x"}}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(data))
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("ParseConfig error = %v, want *ConfigError", err)
			}
		})
	}
}

func TestParseConfigEmptyDocument(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.MCPServers == nil || len(cfg.MCPServers) != 0 {
		t.Fatalf("MCPServers = %v, want empty map", cfg.MCPServers)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("LoadConfig error = %v, want *ConfigError", err)
	}
	if ce.Path == "" {
		t.Fatalf("ConfigError.Path not set: %v", ce)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "servers.json")
	cfg := Config{MCPServers: map[string]ServerEntry{
		"time": {Command: "uvx", Args: []string{"mcp-server-time"}},
	}}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Fatalf("round trip mismatch: got %+v want %+v", loaded, cfg)
	}

	// The write is atomic: no temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("config dir has %d entries, want 1", len(entries))
	}
}

func TestSpecEqual(t *testing.T) {
	t.Parallel()

	a := &StdioServerSpec{Command: "uvx", Args: []string{"mcp-server-time"}}
	b := &StdioServerSpec{Command: "uvx", Args: []string{"mcp-server-time"}}
	if !a.Equal(b) {
		t.Fatalf("identical stdio specs compare unequal")
	}
	b.Args = []string{"mcp-server-git"}
	if a.Equal(b) {
		t.Fatalf("different stdio specs compare equal")
	}
	if a.Equal(&SSEServerSpec{Endpoint: "http://x"}) {
		t.Fatalf("cross-transport specs compare equal")
	}
}
