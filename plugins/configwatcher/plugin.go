// Package configwatcher provides config file monitoring as a gracehost
// module. When loaded, it reloads the configuration store whenever one of
// its files is written and announces every successful reload on a mesh
// channel so other modules, in any process, can re-read their settings.
package configwatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/mesh"
	"github.com/bft-labs/gracehost/pkg/module"
)

// Name is the module name the plugin is registered under.
const Name = "configwatcher"

// DefaultChannel is the mesh channel reload notices are sent on.
const DefaultChannel = "config.reload"

// Notice is the payload sent on the reload channel.
type Notice struct {
	Node  string    `json:"node"`
	Files []string  `json:"files"`
	At    time.Time `json:"at"`
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// RetryInterval is the delay before retrying a failed reload, e.g. after
	// an editor left a half-written file.
	// Default: 5 seconds
	RetryInterval time.Duration `json:"retry_interval"`

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration `json:"debounce_delay"`

	// Channel is the mesh channel reloads are announced on.
	// Default: config.reload
	Channel string `json:"channel"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryInterval: 5 * time.Second,
		DebounceDelay: config.DefaultDebounceDelay,
		Channel:       DefaultChannel,
	}
}

// Plugin implements config watching functionality.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	cfg Config

	// Runtime state
	store   *config.Store
	watcher *config.Watcher
	network mesh.Network
	logger  log.Logger
	retry   *time.Timer
	stopped bool
	reloads int
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	p := &Plugin{logger: log.NewNoopLogger()}
	p.apply(cfg)
	return p
}

func (p *Plugin) apply(cfg Config) {
	def := DefaultConfig()
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = def.DebounceDelay
	}
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	p.cfg = cfg
}

// Factory returns a module factory with default settings.
func Factory() module.Module {
	return New(DefaultConfig())
}

// ReadConfig applies the module's configuration section. Durations are
// strings ("5s") or milliseconds.
func (p *Plugin) ReadConfig(sec config.Section) error {
	cfg := p.cfg
	if d := sec.Duration("retry_interval"); d > 0 {
		cfg.RetryInterval = d
	}
	if d := sec.Duration("debounce_delay"); d > 0 {
		cfg.DebounceDelay = d
	}
	if ch := sec.String("channel"); ch != "" {
		cfg.Channel = ch
	}
	p.apply(cfg)
	return nil
}

// Setup starts watching the host's configuration files.
func (p *Plugin) Setup(ctx context.Context, mc *module.Context) error {
	if mc.Store == nil {
		return fmt.Errorf("%w: no configuration store", domain.ErrModuleSetup)
	}

	p.mu.Lock()
	p.store = mc.Store
	p.network = mc.Mesh
	p.logger = mc.Logger
	p.mu.Unlock()

	if len(mc.Store.Paths()) == 0 {
		p.logger.Warn("Config watcher disabled: configuration has no files")
		return nil
	}

	w := config.NewWatcher(mc.Store, p.cfg.DebounceDelay, mc.Logger)
	w.OnReload(p.onReload)
	if err := w.Start(context.Background()); err != nil {
		return fmt.Errorf("watch configuration: %w", err)
	}
	p.mu.Lock()
	p.watcher = w
	p.mu.Unlock()

	mc.RegisterShutdown(func(context.Context) error {
		p.Shutdown()
		return nil
	})

	p.logger.Info("Config watcher plugin initialized",
		log.Strings("files", mc.Store.Paths()),
		log.String("channel", p.cfg.Channel))
	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown() {
	p.mu.Lock()
	p.stopped = true
	w := p.watcher
	if p.retry != nil {
		p.retry.Stop()
	}
	p.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

// Reloads returns the number of successful reloads.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *Plugin) onReload(err error) {
	if err != nil {
		p.scheduleRetry()
		return
	}

	p.mu.Lock()
	p.reloads++
	network := p.network
	files := p.store.Paths()
	p.mu.Unlock()

	if network == nil {
		return
	}
	notice := Notice{Node: network.ID(), Files: files, At: time.Now().UTC()}
	if err := network.Send(context.Background(), p.cfg.Channel, notice); err != nil {
		p.logger.Error("Config watcher: reload notice failed", log.Err(err))
	}
}

// scheduleRetry retries a failed reload after RetryInterval until one
// succeeds or the plugin stops.
func (p *Plugin) scheduleRetry() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.watcher == nil {
		return
	}
	if p.retry != nil {
		p.retry.Stop()
	}
	w := p.watcher
	p.retry = time.AfterFunc(p.cfg.RetryInterval, w.Reload)
}
