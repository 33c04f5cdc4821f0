package host

import (
	"time"

	"github.com/bft-labs/gracehost/pkg/cluster"
	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/ipc"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/module"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures optional behavior of a Host.
type Option func(*options)

// options holds the optional configuration for a Host instance.
type options struct {
	root        string
	configDir   string
	configFiles []string
	overrides   map[string]interface{}
	store       *config.Store

	logger log.Logger

	builtin   module.Catalog
	app       module.Catalog
	resolvers []module.Resolver

	clusterOpts []cluster.Option

	registry        *prometheus.Registry
	shutdownTimeout time.Duration
	signals         bool
	exit            func(code int)
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() options {
	return options{
		root:      ".",
		configDir: "configs",
		overrides: map[string]interface{}{},
		signals:   true,
	}
}

// WithRoot sets the application root. The config directory and module
// override paths are relative to it.
func WithRoot(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.root = dir
		}
	}
}

// WithConfig sets the config directory (relative to the root unless
// absolute) and the files loaded from it, in merge order.
func WithConfig(dir string, files ...string) Option {
	return func(o *options) {
		o.configDir = dir
		o.configFiles = append([]string(nil), files...)
	}
}

// WithConfigStore supplies an already populated store and skips loading
// files.
func WithConfigStore(s *config.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithConfigValue sets a configuration value that wins over every file.
func WithConfigValue(key string, value interface{}) Option {
	return func(o *options) {
		o.overrides[key] = value
	}
}

// WithLogger uses logger as the sink instead of building one from the log
// configuration section.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBuiltinModules sets the catalog modules registered without a path
// override are resolved from first.
func WithBuiltinModules(c module.Catalog) Option {
	return func(o *options) {
		o.builtin = c
	}
}

// WithAppModules sets the application catalog, keyed by override path or
// module name.
func WithAppModules(c module.Catalog) Option {
	return func(o *options) {
		o.app = c
	}
}

// WithResolvers replaces the resolver order entirely.
func WithResolvers(r ...module.Resolver) Option {
	return func(o *options) {
		o.resolvers = r
	}
}

// WithSpawner sets how worker processes are started.
func WithSpawner(s cluster.Spawner) Option {
	return func(o *options) {
		o.clusterOpts = append(o.clusterOpts, cluster.WithSpawner(s))
	}
}

// WithCPUCount overrides the CPU count bounding the worker count.
func WithCPUCount(n int) Option {
	return func(o *options) {
		o.clusterOpts = append(o.clusterOpts, cluster.WithCPUCount(func() int { return n }))
	}
}

// WithLookupEnv overrides how the worker marker is read.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *options) {
		o.clusterOpts = append(o.clusterOpts, cluster.WithLookupEnv(fn))
	}
}

// WithUpstream overrides how a worker opens its channel to the master.
func WithUpstream(fn func() (*ipc.Conn, error)) Option {
	return func(o *options) {
		o.clusterOpts = append(o.clusterOpts, cluster.WithUpstream(fn))
	}
}

// WithMetricsRegistry registers host metrics on r.
func WithMetricsRegistry(r *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithShutdownTimeout bounds each shutdown task.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = d
	}
}

// WithoutSignals disables SIGINT/SIGQUIT/SIGTERM handling in Start.
func WithoutSignals() Option {
	return func(o *options) {
		o.signals = false
	}
}

// WithExit replaces os.Exit.
func WithExit(fn func(code int)) Option {
	return func(o *options) {
		o.exit = fn
	}
}
