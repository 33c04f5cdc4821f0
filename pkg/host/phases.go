package host

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/cluster"
	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/ipc"
	"github.com/bft-labs/gracehost/pkg/lifecycle"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/mesh"
	"github.com/bft-labs/gracehost/pkg/module"
)

type step struct {
	phase lifecycle.Phase
	run   func(ctx context.Context) error
	skip  func() bool
}

func (h *Host) steps() []step {
	return []step{
		{phase: lifecycle.PhaseConfig, run: h.loadConfig},
		{phase: lifecycle.PhaseLog, run: h.setupLog},
		{phase: lifecycle.PhaseProfiler, run: h.setupProfiler},
		{phase: lifecycle.PhaseProcessRole, run: h.resolveRole},
		{phase: lifecycle.PhaseMesh, run: h.setupMesh},
		{phase: lifecycle.PhaseModules, run: h.loadModules, skip: h.skipModules},
	}
}

func (h *Host) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(h.opts.root, p)
}

func (h *Host) loadConfig(ctx context.Context) error {
	store := h.opts.store
	if store == nil {
		store = config.NewStore(h.path(h.opts.configDir), h.opts.configFiles)
		if err := store.Load(); err != nil {
			return err
		}
	}
	for k, v := range h.opts.overrides {
		store.Set(k, v)
	}

	h.mu.Lock()
	h.store = store
	h.clusterCfg = cluster.ConfigFrom(store)
	h.mu.Unlock()

	h.profiler.Mark("config loaded")
	return nil
}

func (h *Host) setupLog(ctx context.Context) error {
	if h.opts.logger != nil {
		h.logger.Set(h.opts.logger)
		return nil
	}

	sec := h.Config().Section("log")
	opts := log.Options{
		Level:   sec.String("level"),
		Console: true,
		Color:   sec.Bool("color"),
		File:    h.path(sec.String("file")),
	}
	if sec.Get("console") != nil {
		opts.Console = sec.Bool("console")
	}

	adapter, err := log.Open(opts)
	if err != nil {
		return err
	}
	h.logger.Set(adapter)
	h.addCloser("log", func(context.Context) error {
		h.logger.Set(log.NewZerologAdapter())
		return adapter.Close()
	})
	return nil
}

func (h *Host) setupProfiler(ctx context.Context) error {
	h.profiler.Mark("log ready")
	return nil
}

func (h *Host) resolveRole(ctx context.Context) error {
	role, err := h.workers().ResolveRole(h.clusterCfg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.role = role
	h.mu.Unlock()
	h.logger.Set(log.With(h.logger.Current(), roleFields(role)...))

	m, master := role.(cluster.Master)
	h.shutdown.SetMasterOnly(master && !h.clusterCfg.MasterModules)
	if master {
		handles, err := h.workers().SpawnWorkers(ctx, m.Workers)
		h.profiler.SetWorkers(len(handles))
		if err != nil {
			return err
		}
		h.logger.Info("workers spawned", log.Int("workers", len(handles)))
	}

	if _, ok := role.(cluster.Worker); !ok {
		if addr := h.Config().String("metrics.addr"); addr != "" {
			stop, err := h.profiler.Serve(addr, h.logger)
			if err != nil {
				return fmt.Errorf("%w: metrics.addr: %w", domain.ErrConfiguration, err)
			}
			h.addCloser("metrics", stop)
		}
	}
	h.profiler.Mark("role " + role.String())
	return nil
}

func (h *Host) setupMesh(ctx context.Context) error {
	opts := []mesh.Option{
		mesh.WithAddress(nodeAddress()),
		mesh.WithLogger(h.logger),
		mesh.WithObserver(h.profiler),
		mesh.WithPanicHandler(h.exception),
	}

	var network mesh.Network
	switch r := h.Role().(type) {
	case cluster.Worker:
		client, err := mesh.NewClient(r.Upstream, opts...)
		if err != nil {
			return err
		}
		mux := ipc.NewMux(r.Upstream, h.logger)
		mux.Handle(ipc.CategoryMesh, client.Handle)
		h.Go(func(ctx context.Context) {
			if err := mux.Serve(ctx); err != nil {
				h.logger.Warn("upstream channel failed", log.Err(err))
			}
			client.Close()
			if ctx.Err() == nil && !h.isStopping() {
				go h.Stop(fmt.Errorf("%w: master channel", domain.ErrClosed))
			}
		})
		network = client
	default:
		coord := mesh.NewCoordinator(opts...)
		for _, w := range h.Workers() {
			conn := w.Channel
			h.Go(func(ctx context.Context) {
				if err := coord.Serve(ctx, conn); err != nil {
					h.logger.Warn("worker channel failed", log.Err(err))
				}
			})
		}
		network = coord
	}

	h.mu.Lock()
	h.network = network
	h.mu.Unlock()
	h.addCloser("mesh", func(context.Context) error {
		return network.Close()
	})

	h.profiler.Mark("mesh ready")
	return nil
}

func (h *Host) skipModules() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !cluster.RunsModules(h.role, h.clusterCfg)
}

func (h *Host) loadModules(ctx context.Context) error {
	n, _ := h.mesh()
	role := h.Role()
	var worker string
	if w, ok := role.(cluster.Worker); ok {
		worker = w.ID
	}
	return h.loader.Load(ctx, module.Env{
		Root:       h.opts.root,
		InstanceID: h.id,
		Role:       role.String(),
		Worker:     worker,
		Logger:     h.logger,
		Config:     h.Config(),
		Mesh:       n,
		Shutdown:   h.shutdown,
		OnReady:    h.OnReady,
	})
}
