// Package module registers, resolves and sets up the application's modules.
//
// Modules are registered with Registry.Use before the host starts. During
// the Modules phase the Loader resolves each module through an ordered list
// of resolvers, hands it its configuration section and runs its setup hook.
// Modules are processed strictly one after another in registration order;
// the first failure aborts the phase.
package module

import (
	"context"

	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/mesh"
	"github.com/bft-labs/gracehost/pkg/shutdown"
)

// Module is a loaded module instance. Modules opt into the lifecycle by
// implementing ConfigReader and/or SetupHook.
type Module interface{}

// Factory creates a module instance.
type Factory func() Module

// ConfigReader receives the module's configuration section before setup.
type ConfigReader interface {
	ReadConfig(section config.Section) error
}

// SetupHook prepares the module. The next module is not started until
// Setup returns.
type SetupHook interface {
	Setup(ctx context.Context, mc *Context) error
}

// Env is what the host provides to the loader.
type Env struct {
	Root       string
	InstanceID string
	Role       string
	Worker     string
	Logger     log.Logger
	Config     *config.Store
	Mesh       mesh.Network
	Shutdown   *shutdown.Coordinator

	// OnReady, when set, queues a callback for when the host is ready.
	OnReady func(func())
}

// Context is a module's view of the host during setup.
type Context struct {
	Name       string
	Root       string
	InstanceID string
	Role       string

	// Worker is the worker id, empty unless Role is "worker".
	Worker string

	Logger log.Logger

	// Config is the module's own section; Store is the whole configuration.
	Config config.Section
	Store  *config.Store

	// Mesh is nil when the process runs without a mesh.
	Mesh mesh.Network

	shutdown *shutdown.Coordinator
	registry *Registry
	onReady  func(func())
}

// NewContext returns the context a module named name sees under env. Its
// Config is the section named after the module.
func NewContext(name string, env Env) *Context {
	c := &Context{
		Name:       name,
		Root:       env.Root,
		InstanceID: env.InstanceID,
		Role:       env.Role,
		Worker:     env.Worker,
		Logger:     env.Logger,
		Config:     config.Section{},
		Store:      env.Config,
		Mesh:       env.Mesh,
		shutdown:   env.Shutdown,
		onReady:    env.OnReady,
	}
	if c.Logger == nil {
		c.Logger = log.NewNoopLogger()
	}
	if env.Config != nil {
		c.Config = env.Config.Section(name)
	}
	return c
}

// RegisterShutdown adds a shutdown task named after the module.
func (c *Context) RegisterShutdown(task shutdown.Task, opts ...shutdown.Option) {
	if c.shutdown == nil {
		return
	}
	c.shutdown.Register(c.Name, task, opts...)
}

// Lookup returns an already loaded module.
func (c *Context) Lookup(name string) (Module, bool) {
	if c.registry == nil {
		return nil, false
	}
	return c.registry.Module(name)
}

// Modules returns the names of the modules loaded so far.
func (c *Context) Modules() []string {
	if c.registry == nil {
		return nil
	}
	return c.registry.Loaded()
}

// OnReady runs fn once the host is ready. Without a host it runs fn at
// once.
func (c *Context) OnReady(fn func()) {
	if c.onReady == nil {
		fn()
		return
	}
	c.onReady(fn)
}
