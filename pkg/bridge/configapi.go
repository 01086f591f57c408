package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vikashloomba/mcp-openapi-bridge/pkg/mcpconn"
)

// handleConfigAPI serves the config-management surface:
//
//	GET    /config                  full config document
//	GET    /config/servers          server entries keyed by name
//	POST   /config/servers/{name}   add a server (409 if it exists)
//	PUT    /config/servers/{name}   add or replace a server
//	DELETE /config/servers/{name}   remove a server (404 if absent)
//
// Mutations rewrite the config file and trigger a reload cycle, so the
// running topology follows the API when hot reload is enabled.
func (b *Bridge) handleConfigAPI(w http.ResponseWriter, r *http.Request) {
	if b.opts.ConfigPath == "" {
		writeError(w, http.StatusNotFound, "no config file configured")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/config")
	switch {
	case path == "" || path == "/":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		b.getConfig(w)
	case path == "/servers" || path == "/servers/":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		b.getConfigServers(w)
	case strings.HasPrefix(path, "/servers/"):
		name := strings.TrimPrefix(path, "/servers/")
		if name == "" || strings.Contains(name, "/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		b.mutateConfigServer(w, r, name)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (b *Bridge) getConfig(w http.ResponseWriter) {
	cfg, err := mcpconn.LoadConfig(b.opts.ConfigPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (b *Bridge) getConfigServers(w http.ResponseWriter) {
	cfg, err := mcpconn.LoadConfig(b.opts.ConfigPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read config")
		return
	}
	writeJSON(w, http.StatusOK, cfg.MCPServers)
}

func (b *Bridge) mutateConfigServer(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		if err := validateBackendName(name); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entry, err := decodeServerEntry(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		b.upsertConfigServer(w, name, entry, r.Method == http.MethodPost)
	case http.MethodDelete:
		b.deleteConfigServer(w, name)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func decodeServerEntry(r *http.Request) (mcpconn.ServerEntry, error) {
	var entry mcpconn.ServerEntry
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err != nil {
		return entry, fmt.Errorf("failed to read request body")
	}
	if err := json.Unmarshal(body, &entry); err != nil {
		return entry, fmt.Errorf("request body is not a valid server entry")
	}
	if _, err := entry.Spec(); err != nil {
		return entry, err
	}
	return entry, nil
}

// upsertConfigServer adds (or, for PUT, replaces) one entry under the config
// write lock, so concurrent API mutations never lose each other's changes.
func (b *Bridge) upsertConfigServer(w http.ResponseWriter, name string, entry mcpconn.ServerEntry, createOnly bool) {
	b.configMu.Lock()
	defer b.configMu.Unlock()
	cfg, err := mcpconn.LoadConfig(b.opts.ConfigPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read config")
		return
	}
	_, exists := cfg.MCPServers[name]
	if createOnly && exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("server %q already exists", name))
		return
	}
	cfg.MCPServers[name] = entry
	if err := mcpconn.SaveConfig(b.opts.ConfigPath, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to write config")
		return
	}
	b.triggerReload()
	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"name": name, "server": entry})
}

func (b *Bridge) deleteConfigServer(w http.ResponseWriter, name string) {
	b.configMu.Lock()
	defer b.configMu.Unlock()
	cfg, err := mcpconn.LoadConfig(b.opts.ConfigPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read config")
		return
	}
	if _, exists := cfg.MCPServers[name]; !exists {
		writeError(w, http.StatusNotFound, fmt.Sprintf("server %q not found", name))
		return
	}
	delete(cfg.MCPServers, name)
	if err := mcpconn.SaveConfig(b.opts.ConfigPath, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to write config")
		return
	}
	b.triggerReload()
	writeJSON(w, http.StatusOK, map[string]any{"removed": name})
}
