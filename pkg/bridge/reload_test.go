package bridge

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vikashloomba/mcp-openapi-bridge/pkg/mcpconn"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}

func writeServers(t *testing.T, path string, servers map[string]mcpconn.ServerEntry) {
	t.Helper()
	if err := mcpconn.SaveConfig(path, mcpconn.Config{MCPServers: servers}); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
}

func streamEntry(url string) mcpconn.ServerEntry {
	return mcpconn.ServerEntry{Type: "streamable-http", URL: url}
}

// newConfigBridge starts a bridge from a config file and serves its handler.
func newConfigBridge(t *testing.T, configPath string, opts *Options) (*Bridge, *httptest.Server) {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	opts.ConfigPath = configPath
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.SetupRetries == 0 {
		opts.SetupRetries = -1
	}

	b := New(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = b.Shutdown(shutdownCtx)
	})
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return b, srv
}

func TestStartFailsOnMalformedConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "servers.json")
	if err := writeFile(path, `{"mcpServers": {"bad": {"type": "sse"}}}`); err != nil {
		t.Fatalf("write config: %v", err)
	}
	b := New(&Options{
		ConfigPath: path,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := b.Start(context.Background()); err == nil {
		t.Fatalf("Start accepted malformed config")
	}
}

func TestReloadAppliesTopologyDiff(t *testing.T) {
	t.Parallel()

	backendA := newTimeServer(t, nil)
	backendB := newTimeServer(t, nil)
	backendC := newTimeServer(t, nil)

	path := filepath.Join(t.TempDir(), "servers.json")
	writeServers(t, path, map[string]mcpconn.ServerEntry{
		"alpha": streamEntry(backendA.URL),
		"beta":  streamEntry(backendB.URL),
	})
	b, srv := newConfigBridge(t, path, nil)

	alphaBefore, ok := b.registry.lookup("alpha")
	if !ok {
		t.Fatalf("alpha not mounted at startup")
	}

	// alpha unchanged, beta removed, gamma added.
	writeServers(t, path, map[string]mcpconn.ServerEntry{
		"alpha": streamEntry(backendA.URL),
		"gamma": streamEntry(backendC.URL),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	mounts := b.Mounts()
	if len(mounts) != 2 || mounts[0].Name != "alpha" || mounts[1].Name != "gamma" {
		t.Fatalf("mounts after reload = %+v", mounts)
	}

	// The unchanged backend kept its live connection.
	alphaAfter, _ := b.registry.lookup("alpha")
	if alphaAfter != alphaBefore {
		t.Fatalf("unchanged backend was rebuilt during reload")
	}
	if alphaAfter.Conn.State() != mcpconn.StateReady {
		t.Fatalf("alpha state = %q after reload", alphaAfter.Conn.State())
	}

	res, body := postJSON(t, srv.URL+"/gamma/get_time", `{"timezone": "UTC"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("added backend unusable: %d %s", res.StatusCode, body)
	}
	res, _ = postJSON(t, srv.URL+"/beta/get_time", `{"timezone": "UTC"}`)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("removed backend still routed: %d", res.StatusCode)
	}
}

func TestReloadReplacesChangedBackend(t *testing.T) {
	t.Parallel()

	backendOld := newTimeServer(t, nil)
	backendNew := newTimeServer(t, nil)

	path := filepath.Join(t.TempDir(), "servers.json")
	writeServers(t, path, map[string]mcpconn.ServerEntry{
		"time": streamEntry(backendOld.URL),
	})
	b, srv := newConfigBridge(t, path, nil)

	before, _ := b.registry.lookup("time")
	oldConn := before.Conn

	writeServers(t, path, map[string]mcpconn.ServerEntry{
		"time": streamEntry(backendNew.URL),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	after, ok := b.registry.lookup("time")
	if !ok || after == before {
		t.Fatalf("changed backend was not replaced")
	}
	if oldConn.State() != mcpconn.StateClosed {
		t.Fatalf("displaced connection state = %q, want closed", oldConn.State())
	}
	res, body := postJSON(t, srv.URL+"/time/get_time", `{"timezone": "UTC"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("replacement backend unusable: %d %s", res.StatusCode, body)
	}
}

func TestReloadKeepsTopologyOnBadConfig(t *testing.T) {
	t.Parallel()

	backend := newTimeServer(t, nil)
	path := filepath.Join(t.TempDir(), "servers.json")
	writeServers(t, path, map[string]mcpconn.ServerEntry{
		"time": streamEntry(backend.URL),
	})
	b, srv := newConfigBridge(t, path, nil)

	if err := writeFile(path, `{"mcpServers": `); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := b.Reload(context.Background()); err == nil {
		t.Fatalf("Reload accepted malformed config")
	}

	// The previous topology keeps serving.
	res, body := postJSON(t, srv.URL+"/time/get_time", `{"timezone": "UTC"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("topology lost after bad reload: %d %s", res.StatusCode, body)
	}
}

func TestReloadRejectsReservedNames(t *testing.T) {
	t.Parallel()

	backend := newTimeServer(t, nil)
	path := filepath.Join(t.TempDir(), "servers.json")
	writeServers(t, path, map[string]mcpconn.ServerEntry{
		"time": streamEntry(backend.URL),
	})
	b, srv := newConfigBridge(t, path, nil)

	writeServers(t, path, map[string]mcpconn.ServerEntry{
		"time": streamEntry(backend.URL),
		"docs": streamEntry(backend.URL),
	})
	if err := b.Reload(context.Background()); err == nil {
		t.Fatalf("Reload accepted a backend shadowing a built-in endpoint")
	}

	res, body := postJSON(t, srv.URL+"/time/get_time", `{"timezone": "UTC"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("topology lost after rejected reload: %d %s", res.StatusCode, body)
	}
}

func TestWatcherPicksUpFileChanges(t *testing.T) {
	t.Parallel()

	backendA := newTimeServer(t, nil)
	backendB := newTimeServer(t, nil)
	path := filepath.Join(t.TempDir(), "servers.json")
	writeServers(t, path, map[string]mcpconn.ServerEntry{
		"alpha": streamEntry(backendA.URL),
	})
	b, _ := newConfigBridge(t, path, &Options{
		HotReload:      true,
		ReloadInterval: 50 * time.Millisecond,
	})

	writeServers(t, path, map[string]mcpconn.ServerEntry{
		"alpha": streamEntry(backendA.URL),
		"beta":  streamEntry(backendB.URL),
	})

	deadline := time.Now().Add(15 * time.Second)
	for {
		if _, ok := b.registry.lookup("beta"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher never mounted the added backend")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
