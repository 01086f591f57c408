package mcpconn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ServerEntry is one backend in the declarative config file. The schema is
// permissive: unknown extra fields are ignored on decode.
type ServerEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Config models the "mcpServers" JSON document consumed at startup and on
// every hot-reload cycle.
type Config struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
}

// ParseConfig decodes a declarative config document. Malformed JSON or an
// entry that cannot be mapped to a transport returns a *ConfigError.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigError{Err: err}
	}
	for name, entry := range cfg.MCPServers {
		if _, err := entry.Spec(); err != nil {
			return Config{}, &ConfigError{Err: fmt.Errorf("server %q: %w", name, err)}
		}
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]ServerEntry{}
	}
	return cfg, nil
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Path = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes the config document to path, creating parent directories
// as needed. The write goes through a temp file so a crash cannot leave a
// truncated config behind.
func SaveConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("mcpconn: encode config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mcpconn: create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("mcpconn: write config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("mcpconn: write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("mcpconn: write config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("mcpconn: write config: %w", err)
	}
	return nil
}

// Spec maps a config entry to its transport-specific ServerSpec. The "type"
// field selects the transport; when omitted the entry describes a stdio
// subprocess.
func (e ServerEntry) Spec() (ServerSpec, error) {
	kind := strings.ToLower(strings.TrimSpace(e.Type))
	switch kind {
	case "", "stdio":
		if e.Command == "" {
			return nil, fmt.Errorf("stdio server requires a command")
		}
		return &StdioServerSpec{Command: e.Command, Args: e.Args, Env: e.Env}, nil
	case "sse":
		if e.URL == "" {
			return nil, fmt.Errorf("sse server requires a url")
		}
		return &SSEServerSpec{Endpoint: e.URL, Headers: e.Headers}, nil
	case "streamable-http", "streamable_http", "http":
		if e.URL == "" {
			return nil, fmt.Errorf("streamable-http server requires a url")
		}
		return &StreamableServerSpec{Endpoint: e.URL, Headers: e.Headers}, nil
	default:
		return nil, fmt.Errorf("unknown server type %q", e.Type)
	}
}

// Specs maps every entry to its ServerSpec, keyed by backend name.
func (c Config) Specs() (map[string]ServerSpec, error) {
	specs := make(map[string]ServerSpec, len(c.MCPServers))
	for name, entry := range c.MCPServers {
		spec, err := entry.Spec()
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("server %q: %w", name, err)}
		}
		specs[name] = spec
	}
	return specs, nil
}

// Names returns the configured backend names in sorted order.
func (c Config) Names() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
