package highlight

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/asheshgoplani/snipdeck/internal/engine"
	"github.com/asheshgoplani/snipdeck/internal/eventbus"
	"github.com/asheshgoplani/snipdeck/internal/loader"
)

// Fallback reasons, used as metric labels and event payloads.
const (
	ReasonLargeInput    = "large_input"
	ReasonEngine        = "engine_unavailable"
	ReasonLanguageLoad  = "language_load_failed"
	ReasonThemeLoad     = "theme_load_failed"
	ReasonRenderError   = "render_error"
	ReasonRenderPanic   = "render_panic"
	ReasonMissingMarkup = "malformed_output"
	ReasonCanceled      = "canceled"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipdeck_render_cache_lookups_total",
		Help: "Render cache lookups by result (hit, shared_hit, miss).",
	}, []string{"result"})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snipdeck_render_cache_evictions_total",
		Help: "Entries removed from the render cache by capacity eviction.",
	})

	resourceLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipdeck_resource_loads_total",
		Help: "Engine resource loads by kind and outcome.",
	}, []string{"kind", "outcome"})

	resourceLoadSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snipdeck_resource_load_duration_seconds",
		Help:    "Duration of engine resource loads.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"kind"})

	renderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipdeck_render_fallbacks_total",
		Help: "Highlight calls answered with plain markup, by reason.",
	}, []string{"reason"})

	renderSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snipdeck_render_duration_seconds",
		Help:    "Duration of engine render calls.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 9),
	})

	engineGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snipdeck_engine_generation",
		Help: "Generation of the live engine, 0 when none is built.",
	})
)

// LoadObserver returns a loader observer that records load metrics and
// publishes resource events on bus. bus may be nil.
func LoadObserver(bus *eventbus.EventBus) func(loader.Result) {
	return func(r loader.Result) {
		kind := string(r.Kind)
		data := eventbus.ResourceData{
			Kind:       kind,
			ID:         r.ID,
			Generation: r.Generation,
			DurationMS: r.Duration.Milliseconds(),
		}
		resourceLoadSeconds.WithLabelValues(kind).Observe(r.Duration.Seconds())
		if r.Err != nil {
			resourceLoads.WithLabelValues(kind, "error").Inc()
			data.Error = r.Err.Error()
			bus.Emit(eventbus.Event{Type: eventbus.EventResourceLoadFailed, Channel: r.ID, Data: data})
			return
		}
		resourceLoads.WithLabelValues(kind, "ok").Inc()
		bus.Emit(eventbus.Event{Type: eventbus.EventResourceLoaded, Channel: r.ID, Data: data})
	}
}

// LifecycleObserver returns an engine lifecycle hook that tracks the live
// generation and publishes engine events on bus. bus may be nil.
func LifecycleObserver(bus *eventbus.EventBus) func(engine.LifecycleEvent) {
	return func(ev engine.LifecycleEvent) {
		data := eventbus.EngineData{Generation: ev.Generation}
		if ev.Err != nil {
			data.Error = ev.Err.Error()
		}
		switch ev.Type {
		case engine.LifecycleCreated:
			engineGeneration.Set(float64(ev.Generation))
			bus.Emit(eventbus.Event{Type: eventbus.EventEngineCreated, Channel: eventbus.ChannelEngine, Data: data})
		case engine.LifecycleFailed:
			bus.Emit(eventbus.Event{Type: eventbus.EventEngineFailed, Channel: eventbus.ChannelEngine, Data: data})
		case engine.LifecycleDisposed:
			engineGeneration.Set(0)
			bus.Emit(eventbus.Event{Type: eventbus.EventEngineDisposed, Channel: eventbus.ChannelEngine, Data: data})
		}
	}
}
