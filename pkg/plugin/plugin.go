package plugin

import (
	"context"
	"maps"
)

// Plugin is the lifecycle contract every extension implements. The manager
// calls Configure once at registration, Init once before the first Start,
// and Start/Stop as the host comes up and shuts down.
type Plugin interface {
	// Info returns static metadata about the extension.
	Info() Info
	// Configure receives the plugin's config block before initialisation.
	// Implementations may write defaults back into the map.
	Configure(cfg map[string]any) error
	// Init prepares the extension for use.
	Init(ctx *ExecutionContext) error
	// Start activates the extension; long running work belongs in
	// goroutines spawned here.
	Start(ctx *ExecutionContext) error
	// Stop halts the extension and releases its resources.
	Stop(ctx *ExecutionContext) error
}

// AlertSink is implemented by notifier plugins in addition to Plugin. The
// host hands each emitted alert to Deliver as a flat JSON-compatible payload,
// keeping the plugin ABI free of host-internal types.
type AlertSink interface {
	Deliver(ctx context.Context, payload map[string]any) error
}

// ExecutionContext carries per-call state into every lifecycle hook.
type ExecutionContext struct {
	// C carries cancellation and deadlines.
	C context.Context
	// Config is the plugin's configuration block.
	Config map[string]any
	// Resources exposes shared services supplied by the host.
	Resources map[string]any
}

// Clone copies the context so a plugin can mutate the maps without
// affecting the manager's view.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Config != nil {
		dup.Config = make(map[string]any, len(c.Config))
		maps.Copy(dup.Config, c.Config)
	}
	if c.Resources != nil {
		dup.Resources = make(map[string]any, len(c.Resources))
		maps.Copy(dup.Resources, c.Resources)
	}
	return &dup
}

// Option adjusts manager construction.
type Option func(*Manager)

// WithLoader overrides the default shared-object loader, mainly for tests.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy installs a custom capability enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithResource exposes a shared host service to all plugins under key.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = make(map[string]any)
		}
		m.resources[key] = value
	}
}
