package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/cluster"
	"github.com/bft-labs/gracehost/pkg/config"
	"github.com/bft-labs/gracehost/pkg/lifecycle"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/bft-labs/gracehost/pkg/mesh"
	"github.com/bft-labs/gracehost/pkg/module"
	"github.com/bft-labs/gracehost/pkg/profiler"
	"github.com/bft-labs/gracehost/pkg/shutdown"
	"github.com/google/uuid"
)

// goroutineGrace bounds how long Stop waits for goroutines started with Go.
const goroutineGrace = 5 * time.Second

// closer releases a host resource after the shutdown tasks drained.
type closer struct {
	name string
	fn   func(context.Context) error
}

// Host drives an application from cold start to a ready, clustered state
// and back down. Use New to create one, Use to register modules, then
// Start (processes) or Load (embedding and tests).
type Host struct {
	opts      options
	id        string
	logger    *log.Dynamic
	lifecycle *lifecycle.DefaultManager
	registry  *module.Registry
	loader    *module.Loader
	shutdown  *shutdown.Coordinator
	cluster   *cluster.Manager
	profiler  *profiler.Profiler

	mu            sync.Mutex
	started       bool
	loaded        bool
	stopping      bool
	running       bool
	failure       error
	closers       []closer
	store         *config.Store
	clusterCfg    cluster.Config
	role          cluster.Role
	network       mesh.Network
	ready         chan struct{}
	readyHooks    []func()
	exceptionHook []func(error)
	shutdownHooks []func(error)
	runCtx        context.Context
	cancelRun     context.CancelFunc
	stopSignals   func()
}

// New creates a host in PhaseNone.
func New(opts ...Option) *Host {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.exit == nil {
		o.exit = os.Exit
	}

	logger := log.NewDynamic(o.logger)
	if o.logger == nil {
		logger.Set(log.NewZerologAdapter())
	}

	prof := profiler.New(o.registry)
	sd := shutdown.New(logger)
	if o.shutdownTimeout > 0 {
		sd.SetTaskTimeout(o.shutdownTimeout)
	}

	resolvers := o.resolvers
	if resolvers == nil {
		resolvers = module.DefaultResolvers(o.builtin, o.app)
	}
	reg := module.NewRegistry()

	h := &Host{
		opts:      o,
		id:        uuid.NewString(),
		logger:    logger,
		lifecycle: lifecycle.NewManager(logger, prof),
		registry:  reg,
		loader:    module.NewLoader(reg, resolvers, prof.ObserveModule),
		shutdown:  sd,
		profiler:  prof,
		ready:     make(chan struct{}),
	}
	h.cluster = h.newCluster()
	return h
}

// newCluster creates the worker manager for one run.
func (h *Host) newCluster() *cluster.Manager {
	m := cluster.NewManager(h.logger, h.opts.clusterOpts...)
	m.OnWorkerExit(func(cluster.WorkerHandle, cluster.ExitStatus) {
		h.profiler.WorkerExited()
		h.profiler.SetWorkers(len(m.Workers()))
	})
	return m
}

func (h *Host) workers() *cluster.Manager {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cluster
}

// ID returns the host instance id.
func (h *Host) ID() string { return h.id }

// Logger returns the host logger. Its sink changes at the Log phase.
func (h *Host) Logger() log.Logger { return h.logger }

// Profiler returns the startup profiler and metrics collector.
func (h *Host) Profiler() *profiler.Profiler { return h.profiler }

// Use registers a module before start. pathOverride is relative to the
// root; empty means the default locations.
func (h *Host) Use(name, pathOverride string, opts ...module.UseOption) error {
	return h.registry.Use(name, pathOverride, opts...)
}

// Module returns a loaded module by name.
func (h *Host) Module(name string) (module.Module, bool) {
	return h.registry.Module(name)
}

// Phase returns the current lifecycle phase.
func (h *Host) Phase() lifecycle.Phase {
	return h.lifecycle.Phase()
}

// IsReady reports whether the host reached Ready and is not shutting down.
func (h *Host) IsReady() bool {
	return h.lifecycle.Phase() == lifecycle.PhaseReady
}

// Ready returns a channel closed once the host is ready.
func (h *Host) Ready() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Role returns the process role, or nil before the ProcessRole phase.
func (h *Host) Role() cluster.Role {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.role
}

// Config returns the configuration store, or nil before the Config phase.
func (h *Host) Config() *config.Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store
}

// Workers returns the live workers of a Master.
func (h *Host) Workers() []cluster.WorkerHandle {
	return h.workers().Workers()
}

// OnReady runs fn when the host becomes ready, or at once if it already is.
func (h *Host) OnReady(fn func()) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	select {
	case <-h.ready:
		h.mu.Unlock()
		fn()
		return
	default:
	}
	h.readyHooks = append(h.readyHooks, fn)
	h.mu.Unlock()
}

// OnException adds a hook for panics recovered after the host is ready.
func (h *Host) OnException(fn func(error)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exceptionHook = append(h.exceptionHook, fn)
}

// OnShutdown adds a listener notified when shutdown begins. err is the
// cause passed to Stop, nil for a signal or clean stop.
func (h *Host) OnShutdown(fn func(err error)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownHooks = append(h.shutdownHooks, fn)
}

// RegisterShutdownTask adds a task drained at shutdown in registration
// order. Tasks run in Workers and Singletons; pass shutdown.OnMaster() for
// a task that must also run in the Master.
func (h *Host) RegisterShutdownTask(name string, task shutdown.Task, opts ...shutdown.Option) {
	h.shutdown.Register(name, task, opts...)
}

// Go runs fn in a goroutine tracked until shutdown. A panic after Ready is
// passed to the exception hooks. A panic while the pipeline runs fails it:
// Start exits and Load returns the panic as its error.
func (h *Host) Go(fn func(ctx context.Context)) {
	ctx := h.context()
	h.lifecycle.AddWorker()
	go func() {
		defer h.lifecycle.WorkerDone()
		defer func() {
			if r := recover(); r != nil {
				h.exception(domain.Recovered(r))
			}
		}()
		fn(ctx)
	}()
}

func (h *Host) context() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runCtx == nil {
		h.runCtx, h.cancelRun = context.WithCancel(context.Background())
	}
	return h.runCtx
}

// exception routes a recovered panic.
func (h *Host) exception(err error) {
	h.mu.Lock()
	if h.running {
		if h.failure == nil {
			h.failure = err
		}
		load := h.loaded
		h.mu.Unlock()
		h.logger.Error("panic before ready", log.Err(err))
		if !load {
			go h.Stop(err)
		}
		return
	}
	hooks := append([]func(error){}, h.exceptionHook...)
	h.mu.Unlock()

	h.profiler.Exception()

	if len(hooks) == 0 {
		h.logger.Error("unhandled exception", log.Err(err))
		return
	}
	for _, fn := range hooks {
		fn(err)
	}
}

// Start runs the startup pipeline. On failure it logs the error, drains
// shutdown tasks and exits the process with status 1. SIGINT, SIGQUIT and
// SIGTERM trigger a graceful stop.
func (h *Host) Start(ctx context.Context, onReady func()) error {
	if err := h.begin(false); err != nil {
		return err
	}
	if h.opts.signals {
		h.handleSignals()
	}

	if err := h.run(ctx, onReady); err != nil {
		h.logger.Error("startup failed", log.Err(err))
		h.terminate(syscall.SIGTERM, err)
		return err
	}
	return nil
}

// Load runs the same pipeline as Start but never exits the process. On
// failure the host is shut down and left Stopped, and the error returned;
// Load may then be called again.
func (h *Host) Load(ctx context.Context, onReady func()) error {
	if err := h.begin(true); err != nil {
		return err
	}

	if err := h.run(ctx, onReady); err != nil {
		h.logger.Error("load failed", log.Err(err))
		h.teardown(syscall.SIGTERM, err)
		h.release()
		return err
	}
	return nil
}

// begin claims the host for a pipeline run.
func (h *Host) begin(load bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return domain.ErrAlreadyStarted
	}
	if h.lifecycle.Phase() == lifecycle.PhaseStopped {
		if err := h.lifecycle.Reset(); err != nil {
			return err
		}
		h.ready = make(chan struct{})
		h.role = nil
		h.cluster = h.newCluster()
	}
	if !h.lifecycle.CanStart() {
		return domain.ErrAlreadyStarted
	}
	h.started = true
	h.loaded = load
	h.failure = nil
	if h.runCtx == nil {
		h.runCtx, h.cancelRun = context.WithCancel(context.Background())
	}
	return nil
}

// Unload shuts down a host brought up with Load and makes it loadable
// again.
func (h *Host) Unload(ctx context.Context) error {
	h.mu.Lock()
	if !h.loaded {
		h.mu.Unlock()
		return domain.ErrNotLoaded
	}
	h.mu.Unlock()

	h.teardown(syscall.SIGTERM, nil)
	h.release()
	return nil
}

// release makes a torn down host loadable again.
func (h *Host) release() {
	h.mu.Lock()
	h.started, h.loaded, h.stopping = false, false, false
	h.ready = make(chan struct{})
	h.mu.Unlock()
	h.registry.Reset()
}

func (h *Host) isStopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

// Stop shuts the host down: shutdown listeners are notified, workers are
// signalled, shutdown tasks drained, and the process exits with status 0,
// or 1 when err is non-nil.
func (h *Host) Stop(err error) {
	h.terminate(syscall.SIGTERM, err)
}

func (h *Host) terminate(sig os.Signal, err error) {
	if !h.teardown(sig, err) {
		return
	}
	code := 0
	if err != nil {
		code = 1
	}
	h.logger.Info("exiting", log.Int("code", code))
	h.opts.exit(code)
}

// teardown runs the shutdown sequence once per run. It reports whether
// this call performed it.
func (h *Host) teardown(sig os.Signal, cause error) bool {
	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		return false
	}
	if !h.started {
		h.mu.Unlock()
		return true
	}
	h.stopping = true
	hooks := append([]func(error){}, h.shutdownHooks...)
	cancel := h.cancelRun
	h.runCtx, h.cancelRun = nil, nil
	stopSignals := h.stopSignals
	h.stopSignals = nil
	h.mu.Unlock()

	if stopSignals != nil {
		stopSignals()
	}

	phase := h.lifecycle.Phase()
	if phase > lifecycle.PhaseNone && phase < lifecycle.PhaseShuttingDown {
		reason := "stop"
		if cause != nil {
			reason = cause.Error()
		}
		_ = h.lifecycle.TransitionTo(lifecycle.PhaseShuttingDown, reason)
	}

	h.logger.Info("shutting down", log.String("signal", sig.String()))
	for _, fn := range hooks {
		fn(cause)
	}

	if n := h.workers().BroadcastSignal(sig); n > 0 {
		h.logger.Info("relayed signal to workers", log.Int("workers", n))
	}

	report := h.shutdown.Drain(context.Background())
	if len(report.Failures) > 0 {
		h.logger.Warn("shutdown finished with failures", log.Int("failed", len(report.Failures)))
	}
	h.runClosers()

	if cancel != nil {
		cancel()
	}
	if err := h.lifecycle.WaitWithTimeout(goroutineGrace); err != nil {
		h.logger.Warn("goroutines still running at shutdown", log.Err(err))
	}

	h.mu.Lock()
	h.network = nil
	h.mu.Unlock()

	if h.lifecycle.Phase() == lifecycle.PhaseShuttingDown {
		_ = h.lifecycle.TransitionTo(lifecycle.PhaseStopped, "drained")
	}
	return true
}

// addCloser registers a resource closed after the shutdown tasks, in every
// role.
func (h *Host) addCloser(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closers = append(h.closers, closer{name: name, fn: fn})
}

// runClosers closes resources in reverse order of acquisition.
func (h *Host) runClosers() {
	h.mu.Lock()
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(context.Background()); err != nil {
			h.logger.Warn("close failed", log.String("resource", c.name), log.Err(err))
		}
	}
}

// run executes the pipeline phases in order.
func (h *Host) run(ctx context.Context, onReady func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.Recovered(r)
		}
	}()

	h.setRunning(true)
	defer h.setRunning(false)

	h.profiler.Start()
	for _, step := range h.steps() {
		if step.skip != nil && step.skip() {
			h.logger.Debug("phase skipped", log.String("phase", step.phase.String()))
			continue
		}
		if err := h.lifecycle.TransitionTo(step.phase, "pipeline"); err != nil {
			return &domain.PhaseError{Phase: step.phase.String(), Err: h.failed(err)}
		}
		if err := step.run(ctx); err != nil {
			return &domain.PhaseError{Phase: step.phase.String(), Err: h.failed(err)}
		}
		if err := h.failed(nil); err != nil {
			return &domain.PhaseError{Phase: step.phase.String(), Err: err}
		}
	}

	// Panics from here on go to the exception hooks.
	h.mu.Lock()
	failure := h.failure
	h.running = false
	h.mu.Unlock()
	if failure != nil {
		return &domain.PhaseError{Phase: lifecycle.PhaseReady.String(), Err: failure}
	}

	if err := h.lifecycle.TransitionTo(lifecycle.PhaseReady, "pipeline complete"); err != nil {
		return err
	}
	h.becomeReady(onReady)
	return nil
}

func (h *Host) setRunning(v bool) {
	h.mu.Lock()
	h.running = v
	h.mu.Unlock()
}

// failed prefers a panic recorded from a pipeline goroutine over err.
func (h *Host) failed(err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failure != nil {
		return h.failure
	}
	return err
}

func (h *Host) becomeReady(onReady func()) {
	h.mu.Lock()
	close(h.ready)
	hooks := h.readyHooks
	h.readyHooks = nil
	h.mu.Unlock()

	h.profiler.Mark("ready")
	h.profiler.Report(h.logger)
	h.logger.Info("host ready", log.String("role", h.Role().String()))

	if onReady != nil {
		onReady()
	}
	for _, fn := range hooks {
		fn()
	}
}

// MeshJoin subscribes this process to channel.
func (h *Host) MeshJoin(ctx context.Context, channel string) error {
	n, err := h.mesh()
	if err != nil {
		return err
	}
	return n.Join(ctx, channel)
}

// MeshLeave unsubscribes this process from channel.
func (h *Host) MeshLeave(ctx context.Context, channel string) error {
	n, err := h.mesh()
	if err != nil {
		return err
	}
	return n.Leave(ctx, channel)
}

// MeshSend publishes data to every subscriber of channel.
func (h *Host) MeshSend(ctx context.Context, channel string, data interface{}) error {
	n, err := h.mesh()
	if err != nil {
		return err
	}
	return n.Send(ctx, channel, data)
}

// MeshReceive adds a handler for messages delivered on channel.
func (h *Host) MeshReceive(channel string, fn mesh.Handler) error {
	n, err := h.mesh()
	if err != nil {
		return err
	}
	n.On(channel, fn)
	return nil
}

// MeshEachNode calls fn for every node in the directory.
func (h *Host) MeshEachNode(ctx context.Context, fn func(domain.MeshNode)) error {
	n, err := h.mesh()
	if err != nil {
		return err
	}
	return n.EachNode(ctx, fn)
}

func (h *Host) mesh() (mesh.Network, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.network == nil {
		return nil, domain.ErrMeshUnavailable
	}
	return h.network, nil
}

// IsPhaseError reports whether err came from the given phase.
func IsPhaseError(err error, phase lifecycle.Phase) bool {
	var pe *domain.PhaseError
	return errors.As(err, &pe) && pe.Phase == phase.String()
}

func roleFields(r cluster.Role) []log.Field {
	fields := []log.Field{log.String("role", r.String()), log.Int("pid", os.Getpid())}
	if w, ok := r.(cluster.Worker); ok {
		fields = append(fields, log.String("worker", w.ID))
	}
	return fields
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

func nodeAddress() string {
	return fmt.Sprintf("%s/%d", hostname(), os.Getpid())
}
