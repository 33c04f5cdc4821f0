// Package profiler records startup timing marks and exposes host metrics.
//
// Marks are named points in time relative to Start, reported once the host
// is ready. The same measurements feed Prometheus histograms registered on a
// private registry, which Handler exposes in the exposition format.
package profiler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bft-labs/gracehost/pkg/lifecycle"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric.
const Namespace = "gracehost"

// Mark is a named point in the startup timeline.
type Mark struct {
	Name    string
	Elapsed time.Duration
	Delta   time.Duration
}

// Profiler collects marks and metrics. It implements
// lifecycle.EventEmitter and mesh.Observer.
type Profiler struct {
	registry *prometheus.Registry
	now      func() time.Time

	mu         sync.Mutex
	start      time.Time
	last       time.Time
	marks      []Mark
	phaseStart time.Time

	phaseSeconds  *prometheus.HistogramVec
	moduleSeconds *prometheus.HistogramVec
	workers       prometheus.Gauge
	workerExits   prometheus.Counter
	meshSent      *prometheus.CounterVec
	meshDelivered *prometheus.CounterVec
	exceptions    prometheus.Counter
}

// New creates a profiler. A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Profiler {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	buckets := []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}

	p := &Profiler{
		registry: registry,
		now:      time.Now,
		phaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each lifecycle phase.",
			Buckets:   buckets,
		}, []string{"phase"}),
		moduleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "module_load_duration_seconds",
			Help:      "Time taken to resolve, configure and set up each module.",
			Buckets:   buckets,
		}, []string{"module"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "workers",
			Help:      "Live worker processes.",
		}),
		workerExits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "worker_exits_total",
			Help:      "Worker processes that exited.",
		}),
		meshSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mesh",
			Name:      "messages_sent_total",
			Help:      "Mesh messages sent by this process.",
		}, []string{"channel"}),
		meshDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mesh",
			Name:      "messages_delivered_total",
			Help:      "Mesh messages delivered to this process.",
		}, []string{"channel"}),
		exceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "exceptions_total",
			Help:      "Panics recovered after the host became ready.",
		}),
	}
	registry.MustRegister(
		p.phaseSeconds,
		p.moduleSeconds,
		p.workers,
		p.workerExits,
		p.meshSent,
		p.meshDelivered,
		p.exceptions,
	)
	return p
}

// Start resets the timeline.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.start, p.last, p.phaseStart = now, now, now
	p.marks = nil
}

// Mark records a named point.
func (p *Profiler) Mark(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if p.start.IsZero() {
		p.start, p.last = now, now
	}
	p.marks = append(p.marks, Mark{Name: name, Elapsed: now.Sub(p.start), Delta: now.Sub(p.last)})
	p.last = now
}

// Marks returns the recorded marks in order.
func (p *Profiler) Marks() []Mark {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Mark(nil), p.marks...)
}

// Report logs every mark.
func (p *Profiler) Report(logger log.Logger) {
	for _, m := range p.Marks() {
		logger.Info("profile",
			log.String("mark", m.Name),
			log.Duration("elapsed", m.Elapsed),
			log.Duration("delta", m.Delta))
	}
}

// OnPhaseChange implements lifecycle.EventEmitter.
func (p *Profiler) OnPhaseChange(previous, current lifecycle.Phase, reason string) {
	p.mu.Lock()
	now := p.now()
	since := p.phaseStart
	p.phaseStart = now
	p.mu.Unlock()

	if previous == lifecycle.PhaseNone || since.IsZero() {
		return
	}
	p.phaseSeconds.WithLabelValues(previous.String()).Observe(now.Sub(since).Seconds())
	if previous.Starting() {
		p.Mark("phase [" + previous.String() + "] done")
	}
}

// ObserveModule records a module load duration.
func (p *Profiler) ObserveModule(name string, took time.Duration) {
	p.moduleSeconds.WithLabelValues(name).Observe(took.Seconds())
	p.Mark("module [" + name + "] loaded")
}

// SetWorkers sets the live worker gauge.
func (p *Profiler) SetWorkers(n int) {
	p.workers.Set(float64(n))
}

// WorkerExited counts a worker exit.
func (p *Profiler) WorkerExited() {
	p.workerExits.Inc()
}

// Exception counts a recovered panic.
func (p *Profiler) Exception() {
	p.exceptions.Inc()
}

// MessageSent implements mesh.Observer.
func (p *Profiler) MessageSent(channel string) {
	p.meshSent.WithLabelValues(channel).Inc()
}

// MessageDelivered implements mesh.Observer.
func (p *Profiler) MessageDelivered(channel string) {
	p.meshDelivered.WithLabelValues(channel).Inc()
}

// Registry returns the registry the metrics are registered on.
func (p *Profiler) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (p *Profiler) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Serve exposes Handler at /metrics on addr in the background. The
// returned function shuts the server down.
func (p *Profiler) Serve(addr string, logger log.Logger) (func(context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", log.Err(err))
		}
	}()
	logger.Info("metrics listening", log.String("addr", ln.Addr().String()))
	return srv.Shutdown, nil
}
