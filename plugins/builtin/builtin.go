// Package builtin collects the modules shipped with gracehost.
package builtin

import (
	"github.com/bft-labs/gracehost/pkg/module"
	"github.com/bft-labs/gracehost/plugins/configwatcher"
	"github.com/bft-labs/gracehost/plugins/heartbeat"
	"github.com/bft-labs/gracehost/plugins/status"
)

// Catalog returns the built-in modules by name.
func Catalog() module.Catalog {
	return module.Catalog{
		configwatcher.Name: configwatcher.Factory,
		heartbeat.Name:     heartbeat.Factory,
		status.Name:        status.Factory,
	}
}
