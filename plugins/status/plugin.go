// Package status provides process status files as a gracehost module.
// Each process writes its own status.json (status.worker-<id>.json for
// workers) when the module loads, again once the host is ready, and a
// last time with the stop time during shutdown. The gracehost status
// command reads these files.
package status

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/lifecycle"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/module"
	"github.com/bft-labs/gracehost/pkg/state"
)

// Name is the module name the plugin is registered under.
const Name = "status"

// Config holds configuration options for the status plugin.
type Config struct {
	// Dir is the directory status files are written to, relative to the
	// host root unless absolute.
	// Default: run
	Dir string

	// Retention is how long status files of stopped workers are kept
	// before a master or singleton removes them at startup.
	// Default: 24 hours
	Retention time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:       "run",
		Retention: 24 * time.Hour,
	}
}

// Plugin implements status file persistence.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	cfg Config

	// Runtime state
	repo   *state.FileRepository
	status state.Status
	mc     *module.Context
	logger log.Logger
	now    func() time.Time
}

// New creates a new status plugin with the given configuration.
func New(cfg Config) *Plugin {
	def := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &Plugin{cfg: cfg, logger: log.NewNoopLogger(), now: time.Now}
}

// Factory returns a module factory with default settings.
func Factory() module.Module {
	return New(DefaultConfig())
}

// ReadConfig applies the module's configuration section.
func (p *Plugin) ReadConfig(sec config.Section) error {
	if dir := sec.String("dir"); dir != "" {
		p.cfg.Dir = dir
	}
	if d := sec.Duration("retention"); d > 0 {
		p.cfg.Retention = d
	}
	return nil
}

// Setup writes the initial status and schedules the ready and stop updates.
func (p *Plugin) Setup(ctx context.Context, mc *module.Context) error {
	dir := p.cfg.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(mc.Root, dir)
	}
	label := ""
	if mc.Worker != "" {
		label = "worker-" + mc.Worker
	}

	p.mu.Lock()
	p.mc = mc
	p.logger = mc.Logger
	p.repo = state.NewFileRepository(dir, state.FileName(label))
	p.status = state.Status{
		Instance:  mc.InstanceID,
		Pid:       os.Getpid(),
		Role:      mc.Role,
		Worker:    mc.Worker,
		Phase:     lifecycle.PhaseModules.String(),
		StartedAt: p.now().UTC(),
	}
	p.mu.Unlock()

	if mc.Worker == "" {
		if n, err := state.Prune(dir, p.cfg.Retention, p.now()); err != nil {
			p.logger.Warn("Status: prune failed", log.Err(err))
		} else if n > 0 {
			p.logger.Info("Status: removed stale worker files", log.Int("count", n))
		}
	}

	if err := p.save(ctx); err != nil {
		return err
	}

	mc.OnReady(p.ready)
	mc.RegisterShutdown(p.stop)

	p.logger.Info("Status plugin initialized", log.String("path", p.repo.Path()))
	return nil
}

// Status returns the last written status.
func (p *Plugin) Status() state.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Path returns the status file path, empty before Setup.
func (p *Plugin) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.repo == nil {
		return ""
	}
	return p.repo.Path()
}

func (p *Plugin) ready() {
	at := p.now().UTC()

	p.mu.Lock()
	p.status.Phase = lifecycle.PhaseReady.String()
	p.status.ReadyAt = &at
	p.status.Modules = p.mc.Modules()
	p.mu.Unlock()

	if err := p.save(context.Background()); err != nil {
		p.logger.Error("Status: write failed", log.Err(err))
	}
}

func (p *Plugin) stop(ctx context.Context) error {
	at := p.now().UTC()

	p.mu.Lock()
	p.status.Phase = lifecycle.PhaseStopped.String()
	p.status.StoppedAt = &at
	p.mu.Unlock()

	return p.save(ctx)
}

func (p *Plugin) save(ctx context.Context) error {
	p.mu.Lock()
	s := p.status
	repo := p.repo
	p.mu.Unlock()

	return repo.Save(ctx, s)
}
