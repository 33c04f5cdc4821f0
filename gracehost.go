// Package gracehost hosts an application as a set of modules under one
// lifecycle.
//
// A host loads configuration, sets up logging and profiling, decides
// whether the process is a master, a worker or a singleton, connects the
// process mesh and then loads every registered module in order. Stopping
// runs the registered shutdown tasks before the process exits.
//
// Example usage:
//
//	h := gracehost.New(host.WithRoot("/srv/app"))
//	if err := h.Use("status", ""); err != nil {
//	    log.Fatal(err)
//	}
//	if err := h.Start(context.Background(), nil); err != nil {
//	    log.Fatal(err)
//	}
//	select {}
package gracehost

import (
	"github.com/bft-labs/gracehost/pkg/host"
	"github.com/bft-labs/gracehost/pkg/module"
	"github.com/bft-labs/gracehost/plugins/builtin"
)

// Host runs the startup pipeline and owns the process lifecycle.
type Host = host.Host

// Option configures a Host.
type Option = host.Option

// Module is anything a factory returns; see module.ConfigReader and
// module.SetupHook for the hooks a module may implement.
type Module = module.Module

// Context is a module's view of the host during setup.
type Context = module.Context

// New creates a host with the built-in modules available. Options are
// applied after the defaults, so WithBuiltinModules replaces the catalog.
func New(opts ...Option) *Host {
	all := append([]Option{host.WithBuiltinModules(builtin.Catalog())}, opts...)
	return host.New(all...)
}
