package runtime

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the binding layer's Prometheus collectors.
type Metrics struct {
	RuntimeRefs     prometheus.Gauge
	EngineInits     *prometheus.CounterVec
	EngineTeardowns prometheus.Counter
	ModuleLoads     *prometheus.CounterVec
	Instantiations  *prometheus.CounterVec
	Calls           *prometheus.CounterVec
	CallDuration    prometheus.Histogram
}

// NewMetrics registers and returns the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RuntimeRefs: f.NewGauge(prometheus.GaugeOpts{
			Name: "wasm_bind_runtime_refs",
			Help: "Live runtime holders sharing the engine initialization.",
		}),
		EngineInits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wasm_bind_engine_inits_total",
			Help: "Engine initializations by result.",
		}, []string{"result"}),
		EngineTeardowns: f.NewCounter(prometheus.CounterOpts{
			Name: "wasm_bind_engine_teardowns_total",
			Help: "Engine teardowns.",
		}),
		ModuleLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wasm_bind_module_loads_total",
			Help: "Module loads by result.",
		}, []string{"result"}),
		Instantiations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wasm_bind_instantiations_total",
			Help: "Instantiations by result.",
		}, []string{"result"}),
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wasm_bind_calls_total",
			Help: "Exported function calls by result.",
		}, []string{"result"}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wasm_bind_call_duration_seconds",
			Help:    "Exported function call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

var active atomic.Pointer[Metrics]

// EnableMetrics registers the collectors on reg and starts recording.
// Passing nil stops recording.
func EnableMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		active.Store(nil)
		return nil
	}
	m := NewMetrics(reg)
	active.Store(m)
	return m
}

// metrics is the recording front for the active collectors.
var metrics recorder

type recorder struct{}

func (recorder) setRefs(n int) {
	if m := active.Load(); m != nil {
		m.RuntimeRefs.Set(float64(n))
	}
}

func (recorder) engineInit(ok bool) {
	if m := active.Load(); m != nil {
		m.EngineInits.WithLabelValues(result(ok)).Inc()
	}
}

func (recorder) engineTeardown() {
	if m := active.Load(); m != nil {
		m.EngineTeardowns.Inc()
	}
}

func (recorder) moduleLoad(ok bool) {
	if m := active.Load(); m != nil {
		m.ModuleLoads.WithLabelValues(result(ok)).Inc()
	}
}

func (recorder) instantiation(ok bool) {
	if m := active.Load(); m != nil {
		m.Instantiations.WithLabelValues(result(ok)).Inc()
	}
}

func (recorder) call(ok bool, d time.Duration) {
	if m := active.Load(); m != nil {
		m.Calls.WithLabelValues(result(ok)).Inc()
		m.CallDuration.Observe(d.Seconds())
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
