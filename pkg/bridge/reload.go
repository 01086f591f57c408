package bridge

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/vikashloomba/mcp-openapi-bridge/pkg/mcpconn"
)

// watchConfig polls the config file for mtime/size changes and fires the
// reload trigger. Polling keeps the watcher portable and tolerates editors
// that replace the file rather than write in place.
func (b *Bridge) watchConfig() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.ReloadInterval)
	defer ticker.Stop()

	var lastMod time.Time
	var lastSize int64
	if info, err := os.Stat(b.opts.ConfigPath); err == nil {
		lastMod, lastSize = info.ModTime(), info.Size()
	}
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
		}
		info, err := os.Stat(b.opts.ConfigPath)
		if err != nil {
			continue
		}
		if info.ModTime().Equal(lastMod) && info.Size() == lastSize {
			continue
		}
		lastMod, lastSize = info.ModTime(), info.Size()
		b.triggerReload()
	}
}

// triggerReload requests a reload cycle. The channel holds one pending
// request; coalescing bursts of file events into a single cycle is the point.
func (b *Bridge) triggerReload() {
	select {
	case b.reloadCh <- struct{}{}:
	default:
	}
}

func (b *Bridge) reloadLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case <-b.reloadCh:
		}
		if err := b.runReloadCycle(context.Background()); err != nil {
			b.opts.Logger.Error("config reload failed; topology unchanged", "error", err)
		}
	}
}

// Reload forces a reload cycle synchronously. It is the programmatic
// equivalent of the file watcher firing.
func (b *Bridge) Reload(ctx context.Context) error {
	return b.runReloadCycle(ctx)
}

type reloadPlan struct {
	added   map[string]mcpconn.ServerSpec
	removed []*Mount
	changed map[string]mcpconn.ServerSpec
}

// runReloadCycle diffs the config file against the live registry and applies
// the difference: unchanged backends are left untouched, removed ones are
// detached and drained, added ones are mounted, and changed ones get a fully
// constructed replacement before the old mount is swapped out and drained.
// Cycles never overlap; a parse failure aborts before anything is touched.
func (b *Bridge) runReloadCycle(ctx context.Context) error {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	cfg, err := mcpconn.LoadConfig(b.opts.ConfigPath)
	if err != nil {
		return err
	}
	specs, err := cfg.Specs()
	if err != nil {
		return err
	}
	for name := range specs {
		if err := validateBackendName(name); err != nil {
			return err
		}
	}
	b.setDesired(specs)

	plan := b.diff(specs)
	if len(plan.added) == 0 && len(plan.removed) == 0 && len(plan.changed) == 0 {
		return nil
	}
	b.opts.Logger.Info("applying config reload",
		"added", len(plan.added), "removed", len(plan.removed), "changed", len(plan.changed))

	var wg sync.WaitGroup
	for _, m := range plan.removed {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.teardownBackend(ctx, m.Name)
		}()
	}
	for name, spec := range plan.added {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.setupBackend(ctx, name, spec)
		}()
	}
	for name, spec := range plan.changed {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.replaceBackend(ctx, name, spec)
		}()
	}
	wg.Wait()
	return nil
}

// diff splits the desired topology against the registry snapshot. Spec
// equality decides "unchanged"; a backend mid-retry (desired but not yet
// mounted) counts as added so the new cycle owns its setup.
func (b *Bridge) diff(desired map[string]mcpconn.ServerSpec) reloadPlan {
	plan := reloadPlan{
		added:   make(map[string]mcpconn.ServerSpec),
		changed: make(map[string]mcpconn.ServerSpec),
	}
	current := make(map[string]*Mount)
	for _, m := range b.registry.snapshot() {
		current[m.Name] = m
	}
	for name, spec := range desired {
		m, ok := current[name]
		switch {
		case !ok:
			plan.added[name] = spec
		case !m.Spec.Equal(spec):
			plan.changed[name] = spec
		}
	}
	for name, m := range current {
		if _, ok := desired[name]; !ok {
			plan.removed = append(plan.removed, m)
		}
	}
	return plan
}

// teardownBackend detaches a mount so routes stop resolving immediately, then
// drains the connection in the background of the cycle.
func (b *Bridge) teardownBackend(ctx context.Context, name string) {
	lock := b.registry.nameLock(name)
	lock.Lock()
	m := b.registry.detach(name)
	lock.Unlock()
	if m == nil {
		return
	}
	drainCtx, cancel := context.WithTimeout(ctx, b.opts.DrainTimeout)
	defer cancel()
	if err := m.Conn.Drain(drainCtx); err != nil {
		b.opts.Logger.Warn("drain failed during teardown", "server", name, "error", err)
	}
	b.opts.Logger.Info("backend removed", "server", name)
}

// replaceBackend builds the new mount first, swaps it in atomically, then
// drains the displaced one, so in-flight calls against the old session finish
// while new requests already hit the new session. If the new mount cannot be
// built the old one is torn down anyway: its spec no longer exists in the
// desired topology.
func (b *Bridge) replaceBackend(ctx context.Context, name string, spec mcpconn.ServerSpec) {
	lock := b.registry.nameLock(name)
	lock.Lock()
	m, err := b.buildMount(ctx, name, spec)
	if err != nil {
		old := b.registry.detach(name)
		lock.Unlock()
		b.opts.Logger.Error("backend replacement failed; old instance removed",
			"server", name, "error", err)
		if old != nil {
			drainCtx, cancel := context.WithTimeout(ctx, b.opts.DrainTimeout)
			defer cancel()
			old.Conn.Drain(drainCtx)
		}
		return
	}
	old := b.registry.replace(m)
	lock.Unlock()
	b.opts.Logger.Info("backend replaced", "server", name, "tools", len(m.routes))
	if old != nil {
		drainCtx, cancel := context.WithTimeout(ctx, b.opts.DrainTimeout)
		defer cancel()
		old.Conn.Drain(drainCtx)
	}
}
