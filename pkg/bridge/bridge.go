package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vikashloomba/mcp-openapi-bridge/pkg/mcpconn"
)

// Bridge republishes MCP backends as HTTP tool endpoints. Create one with
// New, call Start to connect the initial topology, then serve Handler (or use
// ListenAndServe). A Bridge must not be copied after first use.
type Bridge struct {
	opts     Options
	registry *registry

	configMu sync.Mutex // serializes config file writes
	cycleMu  sync.Mutex // serializes reload cycles

	desiredMu sync.Mutex
	desired   map[string]mcpconn.ServerSpec // current desired topology

	reloadCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New returns an unstarted Bridge.
func New(opts *Options) *Bridge {
	return &Bridge{
		opts:     opts.withDefaults(),
		registry: newRegistry(),
		reloadCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start loads the initial topology and connects every backend. An unreadable
// or malformed config file is fatal, as is a backend name that collides with
// a root endpoint; a single backend failing to connect is not — Start waits
// for the first dial attempt only, and failed backends keep retrying in the
// background while the rest of the bridge serves. When hot reload is enabled
// Start also spawns the config watcher and the reload orchestrator.
func (b *Bridge) Start(ctx context.Context) error {
	specs, err := b.initialSpecs()
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("bridge: no backends configured")
	}
	for name := range specs {
		if err := validateBackendName(name); err != nil {
			return err
		}
	}
	b.setDesired(specs)

	var wg sync.WaitGroup
	for name, spec := range specs {
		wg.Add(1)
		go func(name string, spec mcpconn.ServerSpec) {
			defer wg.Done()
			b.setupBackend(ctx, name, spec)
		}(name, spec)
	}
	wg.Wait()

	if b.opts.HotReload && b.opts.ConfigPath != "" {
		b.wg.Add(2)
		go b.watchConfig()
		go b.reloadLoop()
	}
	return nil
}

// reservedBackendNames are the first path segments owned by the bridge's own
// endpoints. A backend with one of these names would be unreachable, so the
// collision is rejected at configuration time.
var reservedBackendNames = map[string]bool{
	"health":       true,
	"docs":         true,
	"openapi.json": true,
	"config":       true,
}

func validateBackendName(name string) error {
	if name == "" {
		return fmt.Errorf("bridge: backend name must not be empty")
	}
	if strings.ContainsAny(name, "/ ") {
		return fmt.Errorf("bridge: backend name %q must not contain slashes or spaces", name)
	}
	if reservedBackendNames[name] {
		return fmt.Errorf("bridge: backend name %q collides with a built-in endpoint", name)
	}
	return nil
}

func (b *Bridge) setDesired(specs map[string]mcpconn.ServerSpec) {
	b.desiredMu.Lock()
	defer b.desiredMu.Unlock()
	b.desired = specs
}

// wantsSpec reports whether the desired topology still contains this exact
// backend. Background setup retries check it so a reload that removes or
// changes a backend also stops the stale retry loop.
func (b *Bridge) wantsSpec(name string, spec mcpconn.ServerSpec) bool {
	b.desiredMu.Lock()
	defer b.desiredMu.Unlock()
	want, ok := b.desired[name]
	return ok && want.Equal(spec)
}

func (b *Bridge) initialSpecs() (map[string]mcpconn.ServerSpec, error) {
	if b.opts.ConfigPath != "" {
		cfg, err := mcpconn.LoadConfig(b.opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		return cfg.Specs()
	}
	return b.opts.StaticServers, nil
}

// setupBackend makes one synchronous mount attempt so callers learn the
// initial outcome quickly. When the attempt fails and retries are configured,
// the retry loop moves to a background goroutine; the caller returns while it
// runs.
func (b *Bridge) setupBackend(ctx context.Context, name string, spec mcpconn.ServerSpec) {
	err := b.tryMount(ctx, name, spec)
	if err == nil {
		return
	}
	if b.opts.SetupRetries <= 0 {
		b.opts.Logger.Error("backend setup failed; giving up", "server", name, "error", err)
		return
	}
	b.opts.Logger.Warn("backend setup failed; retrying in background",
		"server", name, "error", err)
	b.wg.Add(1)
	go b.retrySetup(ctx, name, spec)
}

// tryMount performs a single dial-discover-mount attempt under the backend's
// name lock. A stale attempt (the desired topology no longer carries this
// spec) is dropped without error.
func (b *Bridge) tryMount(ctx context.Context, name string, spec mcpconn.ServerSpec) error {
	lock := b.registry.nameLock(name)
	lock.Lock()
	defer lock.Unlock()
	if !b.wantsSpec(name, spec) {
		return nil
	}
	if existing, ok := b.registry.lookup(name); ok && existing.Spec.Equal(spec) {
		return nil
	}
	m, err := b.buildMount(ctx, name, spec)
	if err != nil {
		return err
	}
	if err := b.registry.mount(m); err != nil {
		m.Conn.Close()
		return err
	}
	b.opts.Logger.Info("backend mounted", "server", name, "tools", len(m.routes))
	return nil
}

// retrySetup retries a failed backend with exponential backoff. Retries stop
// as soon as the bridge shuts down or a reload removes the backend from the
// desired topology.
func (b *Bridge) retrySetup(ctx context.Context, name string, spec mcpconn.ServerSpec) {
	defer b.wg.Done()
	backoff := b.opts.SetupRetryBackoff
	for attempt := 1; attempt <= b.opts.SetupRetries; attempt++ {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if !b.wantsSpec(name, spec) {
			return
		}
		err := b.tryMount(ctx, name, spec)
		if err == nil {
			return
		}
		b.opts.Logger.Warn("backend setup failed; retrying",
			"server", name, "attempt", attempt, "error", err)
	}
	b.opts.Logger.Error("backend setup failed; giving up", "server", name)
}

// Handler returns the bridge's complete HTTP surface, middleware included.
func (b *Bridge) Handler() http.Handler {
	return b.middleware(http.HandlerFunc(b.dispatch))
}

// dispatch routes a request to the fixed root endpoints or to the mount named
// by the first path segment. Mount resolution happens per request, so a hot
// reload changes routing the instant the registry is swapped.
func (b *Bridge) dispatch(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health":
		b.handleHealth(w, r)
		return
	case r.URL.Path == "/openapi.json" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, b.globalDoc(b.registry.snapshot()))
		return
	case r.URL.Path == "/docs" && r.Method == http.MethodGet:
		writeDocsPage(w, b.opts.Title, "openapi.json")
		return
	case r.URL.Path == "/config" || strings.HasPrefix(r.URL.Path, "/config/"):
		b.handleConfigAPI(w, r)
		return
	}

	name, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if name == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	m, ok := b.registry.lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown backend %q", name))
		return
	}
	http.StripPrefix("/"+name, m.handler).ServeHTTP(w, r)
}

// handleHealth reports per-backend lifecycle states. The endpoint itself is
// always 200; a dead backend is data, not an outage of the bridge.
func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	mounts := b.registry.snapshot()
	servers := make(map[string]any, len(mounts))
	for _, m := range mounts {
		servers[m.Name] = map[string]any{
			"state":      string(m.Conn.State()),
			"generation": m.Conn.Generation(),
			"tools":      len(m.routes),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"servers": servers,
	})
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled, then shuts down gracefully. The listener is opened eagerly so a
// bind failure surfaces as the returned error instead of a background log.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.opts.Addr)
	if err != nil {
		return fmt.Errorf("bridge: listen on %s: %w", b.opts.Addr, err)
	}
	srv := &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	b.opts.Logger.Info("bridge listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), b.opts.DrainTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	return b.Shutdown(shutdownCtx)
}

// Shutdown stops the watcher goroutines and drains every mounted backend.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()

	var errs []error
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, m := range b.registry.snapshot() {
		m := b.registry.detach(m.Name)
		if m == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			drainCtx, cancel := context.WithTimeout(ctx, b.opts.DrainTimeout)
			defer cancel()
			if err := m.Conn.Drain(drainCtx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Mounts returns the current topology snapshot, sorted by name.
func (b *Bridge) Mounts() []*Mount {
	return b.registry.snapshot()
}
