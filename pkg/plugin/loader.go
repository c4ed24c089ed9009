package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"
)

// Loader turns a plugin binary on disk into a Plugin instance. The manager
// uses GoPluginLoader by default; tests substitute an in-process loader.
type Loader interface {
	Load(path string) (Plugin, error)
}

// GoPluginLoader loads notifier extensions built with
// `go build -buildmode=plugin`.
type GoPluginLoader struct{}

// Load opens the shared object and resolves its exported `Plugin` symbol.
// The symbol may be a Plugin value, a pointer to one, or a constructor
// returning one.
func (GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", path, err)
	}
	return resolveSymbol(symbol)
}

func resolveSymbol(symbol any) (Plugin, error) {
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	case func() Plugin:
		return p(), nil
	default:
		return nil, errors.New("plugin symbol must implement plugin.Plugin")
	}
}
