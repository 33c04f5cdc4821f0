package module

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/log"
)

// LoadObserver is told how long each module took to load.
type LoadObserver func(name string, took time.Duration)

// Loader runs the Modules phase over a registry.
type Loader struct {
	registry  *Registry
	resolvers []Resolver
	observer  LoadObserver
}

// NewLoader creates a loader trying resolvers in order.
func NewLoader(reg *Registry, resolvers []Resolver, observer LoadObserver) *Loader {
	if observer == nil {
		observer = func(string, time.Duration) {}
	}
	return &Loader{registry: reg, resolvers: resolvers, observer: observer}
}

// Load resolves, configures and sets up every registered module in
// registration order. The first failure stops the loop; later modules are
// not attempted.
func (l *Loader) Load(ctx context.Context, env Env) error {
	logger := log.OrNoop(env.Logger)

	for _, d := range l.registry.Descriptors() {
		start := time.Now()
		mlog := log.With(logger, log.String("module", d.Name))

		if err := l.loadOne(ctx, d, env, mlog); err != nil {
			mlog.Error("module load failed", log.Err(err))
			return &domain.ModuleError{Module: d.Name, Err: err}
		}

		took := time.Since(start)
		l.observer(d.Name, took)
		mlog.Info("module loaded", log.Duration("took", took))
	}
	return nil
}

func (l *Loader) loadOne(ctx context.Context, d domain.ModuleDescriptor, env Env, mlog log.Logger) error {
	m, location, err := l.resolve(d, env.Root)
	if err != nil {
		return err
	}
	l.registry.resolved(d.Name, location)
	mlog.Debug("module resolved", log.String("location", location))

	section := config.Section{}
	if env.Config != nil {
		section = env.Config.Section(d.ConfigKey)
	}

	if cr, ok := m.(ConfigReader); ok {
		if err := guard(func() error { return cr.ReadConfig(section) }); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrModuleConfig, err)
		}
	}

	if sh, ok := m.(SetupHook); ok {
		mc := NewContext(d.Name, env)
		mc.Logger = mlog
		mc.Config = section
		mc.registry = l.registry
		if err := guard(func() error { return sh.Setup(ctx, mc) }); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrModuleSetup, err)
		}
	}

	l.registry.attach(d.Name, m)
	return nil
}

func (l *Loader) resolve(d domain.ModuleDescriptor, root string) (Module, string, error) {
	var tried []string
	for _, r := range l.resolvers {
		m, location, found, err := r.Resolve(d, root)
		if err != nil {
			return nil, "", fmt.Errorf("%w: resolver %s: %w", domain.ErrModuleSetup, r.Name(), err)
		}
		if found {
			if m == nil {
				return nil, "", fmt.Errorf("%w: resolver %s returned a nil module", domain.ErrModuleSetup, r.Name())
			}
			return m, location, nil
		}
		tried = append(tried, r.Name())
	}
	return nil, "", fmt.Errorf("%w: tried %v", domain.ErrModuleNotFound, tried)
}

// guard turns a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.Recovered(r)
		}
	}()
	return fn()
}
