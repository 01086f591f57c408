package bridge

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-openapi-bridge/pkg/mcpconn"
	"github.com/vikashloomba/mcp-openapi-bridge/pkg/toolschema"
)

// Mount is one live backend published under its private route prefix. A
// Mount is fully constructed before it is placed in the registry and never
// mutated afterward; only its connection's lifecycle state changes.
type Mount struct {
	Name       string
	Spec       mcpconn.ServerSpec
	Conn       *mcpconn.Conn
	Generation uint64

	routes  []toolRoute
	handler http.Handler
}

type toolRoute struct {
	Tool   *mcp.Tool
	Binder *toolschema.Binder
}

// Routes returns the tool names published by this mount, in discovery order.
func (m *Mount) Routes() []string {
	names := make([]string, len(m.routes))
	for i, rt := range m.routes {
		names[i] = rt.Tool.Name
	}
	return names
}

// registry is the single source of truth for what is currently reachable.
// Reads take the registry lock; mutations additionally serialize through a
// per-name lock so concurrent transitions for different backends never block
// each other while same-name transitions never interleave.
type registry struct {
	mu     sync.RWMutex
	mounts map[string]*Mount
	locks  map[string]*sync.Mutex
}

func newRegistry() *registry {
	return &registry{
		mounts: make(map[string]*Mount),
		locks:  make(map[string]*sync.Mutex),
	}
}

// nameLock returns the mutation lock for one backend name, creating it on
// first use. Locks are never deleted; the set of names is small.
func (r *registry) nameLock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// mount publishes m. It rejects a name whose current entry is still
// Connecting or Ready; the caller must remove (or replace) it first.
func (r *registry) mount(m *Mount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.mounts[m.Name]; ok {
		switch existing.Conn.State() {
		case mcpconn.StateReady, mcpconn.StateConnecting:
			return fmt.Errorf("bridge: backend %q is already mounted", m.Name)
		}
	}
	r.mounts[m.Name] = m
	return nil
}

// replace atomically swaps in m and returns the displaced mount, if any. The
// old mount keeps serving right up to the swap; the caller drains it.
func (r *registry) replace(m *Mount) *Mount {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.mounts[m.Name]
	r.mounts[m.Name] = m
	return old
}

// detach removes the entry for name and returns it, or nil when absent.
// Routes stop resolving the moment detach returns; draining the connection
// is the caller's job.
func (r *registry) detach(name string) *Mount {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.mounts[name]
	delete(r.mounts, name)
	return m
}

func (r *registry) lookup(name string) (*Mount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mounts[name]
	return m, ok
}

// snapshot returns the current mounts sorted by name.
func (r *registry) snapshot() []*Mount {
	r.mu.RLock()
	mounts := make([]*Mount, 0, len(r.mounts))
	for _, m := range r.mounts {
		mounts = append(mounts, m)
	}
	r.mu.RUnlock()
	sort.Slice(mounts, func(i, j int) bool { return mounts[i].Name < mounts[j].Name })
	return mounts
}
