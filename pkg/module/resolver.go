package module

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/bft-labs/gracehost/internal/domain"
)

// Resolver locates a module. found=false means the resolver definitely
// does not have it and the next resolver is tried; a non-nil error aborts
// resolution.
type Resolver interface {
	Name() string
	Resolve(d domain.ModuleDescriptor, root string) (m Module, location string, found bool, err error)
}

// Catalog maps a key to a module factory.
type Catalog map[string]Factory

// Builtin resolves modules shipped with the host by name. Registrations
// with a path override are left to the application resolvers.
type Builtin struct {
	Catalog Catalog
}

// Name implements Resolver.
func (Builtin) Name() string { return "builtin" }

// Resolve implements Resolver.
func (b Builtin) Resolve(d domain.ModuleDescriptor, root string) (Module, string, bool, error) {
	if d.PathOverride != "" {
		return nil, "", false, nil
	}
	f, ok := b.Catalog[d.Name]
	if !ok {
		return nil, "", false, nil
	}
	return f(), "builtin:" + d.Name, true, nil
}

// App resolves application modules compiled into the binary. The catalog
// is keyed by the override location (slash separated, relative to the
// root) or by the module name when no override was given.
type App struct {
	Catalog Catalog
}

// Name implements Resolver.
func (App) Name() string { return "app" }

// Resolve implements Resolver.
func (a App) Resolve(d domain.ModuleDescriptor, root string) (Module, string, bool, error) {
	key := d.Name
	if d.PathOverride != "" {
		key = path.Clean(filepath.ToSlash(d.PathOverride))
	}
	f, ok := a.Catalog[key]
	if !ok {
		return nil, "", false, nil
	}
	return f(), "app:" + key, true, nil
}

// PluginSymbol is the factory symbol a Go plugin must export, with type
// func() interface{}.
const PluginSymbol = "New"

// Plugin resolves Go plugins (.so) at the override location.
type Plugin struct{}

// Name implements Resolver.
func (Plugin) Name() string { return "plugin" }

// Resolve implements Resolver.
func (Plugin) Resolve(d domain.ModuleDescriptor, root string) (Module, string, bool, error) {
	if d.PathOverride == "" {
		return nil, "", false, nil
	}
	p := d.PathOverride
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}

	file, ok := pluginFile(p, d.Name)
	if !ok {
		return nil, "", false, nil
	}

	plug, err := plugin.Open(file)
	if err != nil {
		return nil, "", false, fmt.Errorf("open plugin %s: %w", file, err)
	}
	sym, err := plug.Lookup(PluginSymbol)
	if err != nil {
		return nil, "", false, fmt.Errorf("plugin %s: %w", file, err)
	}
	var factory func() interface{}
	switch f := sym.(type) {
	case func() interface{}:
		factory = f
	case *func() interface{}:
		factory = *f
	default:
		return nil, "", false, fmt.Errorf("plugin %s: symbol %s has type %T", file, PluginSymbol, sym)
	}
	return factory(), "plugin:" + file, true, nil
}

// pluginFile finds the shared object for p: p itself, p.so, or
// p/<name>.so when p is a directory.
func pluginFile(p, name string) (string, bool) {
	candidates := []string{p}
	if !strings.HasSuffix(p, ".so") {
		candidates = append(candidates, p+".so")
	}
	candidates = append(candidates, filepath.Join(p, name+".so"))

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err == nil && info.Mode().IsRegular() {
			return c, true
		}
	}
	return "", false
}

// DefaultResolvers returns the resolver order used by the host: built-in
// catalog, application catalog, Go plugin.
func DefaultResolvers(builtin, app Catalog) []Resolver {
	return []Resolver{Builtin{Catalog: builtin}, App{Catalog: app}, Plugin{}}
}
