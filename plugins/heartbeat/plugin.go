// Package heartbeat provides mesh liveness beats as a gracehost module.
// Every process running the module publishes a small beat on a mesh
// channel at a fixed interval and keeps the last beat heard from each
// peer, so any process can tell which nodes are alive and how busy they
// are.
package heartbeat

import (
	"context"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/mesh"
	"github.com/bft-labs/gracehost/pkg/module"
)

// Name is the module name the plugin is registered under.
const Name = "heartbeat"

// Beat is the payload published on the heartbeat channel.
type Beat struct {
	Node       string    `json:"node"`
	Role       string    `json:"role"`
	Worker     string    `json:"worker,omitempty"`
	Pid        int       `json:"pid"`
	Seq        uint64    `json:"seq"`
	Goroutines int       `json:"goroutines"`
	CPUs       int       `json:"cpus"`
	At         time.Time `json:"at"`
}

// Config holds configuration options for the heartbeat plugin.
type Config struct {
	// Interval is the time between two beats.
	// Default: 5 seconds
	Interval time.Duration

	// Expiry is how long a peer stays listed without a new beat.
	// Default: 3 intervals
	Expiry time.Duration

	// Channel is the mesh channel beats are published on.
	// Default: heartbeat
	Channel string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Expiry:   15 * time.Second,
		Channel:  "heartbeat",
	}
}

// Plugin implements the heartbeat.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	cfg Config

	// Runtime state
	network mesh.Network
	self    Beat
	peers   map[string]Beat
	logger  log.Logger
	now     func() time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new heartbeat plugin with the given configuration.
func New(cfg Config) *Plugin {
	p := &Plugin{
		peers:  map[string]Beat{},
		logger: log.NewNoopLogger(),
		now:    time.Now,
	}
	p.apply(cfg)
	return p
}

func (p *Plugin) apply(cfg Config) {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 3 * cfg.Interval
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

// ReadConfig applies the module's configuration section.
func (p *Plugin) ReadConfig(sec config.Section) error {
	cfg := p.cfg
	if d := sec.Duration("interval"); d > 0 {
		cfg.Interval = d
		cfg.Expiry = 0
	}
	if d := sec.Duration("expiry"); d > 0 {
		cfg.Expiry = d
	}
	if ch := sec.String("channel"); ch != "" {
		cfg.Channel = ch
	}
	p.apply(cfg)
	return nil
}

// Setup joins the heartbeat channel. Beats start once the host is ready.
func (p *Plugin) Setup(ctx context.Context, mc *module.Context) error {
	p.mu.Lock()
	p.logger = mc.Logger
	p.network = mc.Mesh
	p.mu.Unlock()

	if mc.Mesh == nil {
		p.logger.Warn("Heartbeat disabled: no mesh")
		return nil
	}

	p.self = Beat{
		Node:   mc.Mesh.ID(),
		Role:   mc.Role,
		Worker: mc.Worker,
		Pid:    os.Getpid(),
		CPUs:   runtime.NumCPU(),
	}

	mc.Mesh.On(p.cfg.Channel, p.record)
	if err := mc.Mesh.Join(ctx, p.cfg.Channel); err != nil {
		return err
	}

	mc.OnReady(p.start)
	mc.RegisterShutdown(p.Shutdown)

	p.logger.Info("Heartbeat plugin initialized",
		log.String("channel", p.cfg.Channel),
		log.Duration("interval", p.cfg.Interval))
	return nil
}

// Shutdown stops beating and leaves the channel.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	network := p.network
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	if network == nil {
		return nil
	}
	return network.Leave(ctx, p.cfg.Channel)
}

// Peers returns the latest beat of every node heard within Expiry,
// ordered by node id. The local node is included once its own beat has
// come back through the mesh.
func (p *Plugin) Peers() []Beat {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cutoff := p.now().Add(-p.cfg.Expiry)
	out := make([]Beat, 0, len(p.peers))
	for _, b := range p.peers {
		if b.At.Before(cutoff) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

func (p *Plugin) start() {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.beatLoop(ctx)
}

// beatLoop publishes a beat at once and then every Interval.
func (p *Plugin) beatLoop(ctx context.Context) {
	defer p.wg.Done()

	p.beat(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.beat(ctx)
		}
	}
}

func (p *Plugin) beat(ctx context.Context) {
	p.mu.Lock()
	p.self.Seq++
	p.self.Goroutines = runtime.NumGoroutine()
	p.self.At = p.now().UTC()
	b := p.self
	network := p.network
	p.mu.Unlock()

	if err := network.Send(ctx, p.cfg.Channel, b); err != nil && ctx.Err() == nil {
		p.logger.Warn("Heartbeat: send failed", log.Err(err))
	}
}

func (p *Plugin) record(m mesh.Message) {
	var b Beat
	if err := m.Decode(&b); err != nil {
		p.logger.Warn("Heartbeat: bad beat", log.String("from", m.From), log.Err(err))
		return
	}
	if b.Node == "" {
		b.Node = m.From
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.peers[b.Node]; ok && prev.Seq > b.Seq && prev.Pid == b.Pid {
		return
	}
	p.peers[b.Node] = b
}
