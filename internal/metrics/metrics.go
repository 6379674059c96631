package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "relay",
			Name:      "polls_total",
			Help:      "Number of poll attempts against the relay endpoint.",
		}, []string{"result"},
	)
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "relay",
			Name:      "events_total",
			Help:      "Number of events received, by disposition.",
		}, []string{"disposition"},
	)
	syncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "repo",
			Name:      "syncs_total",
			Help:      "Number of repository sync operations, by result.",
		}, []string{"result"},
	)
	restartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of restarts of the managed application.",
		},
	)
	crashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deploywatch",
			Subsystem: "process",
			Name:      "crashes_total",
			Help:      "Number of liveness-check failures that marked the application crashed.",
		},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "deploywatch",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{pollsTotal, eventsTotal, syncsTotal, restartsTotal, crashesTotal, currentState}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncPoll(result string) {
	if regOK.Load() {
		pollsTotal.WithLabelValues(result).Inc()
	}
}

func IncEvent(disposition string) {
	if regOK.Load() {
		eventsTotal.WithLabelValues(disposition).Inc()
	}
}

func IncSync(result string) {
	if regOK.Load() {
		syncsTotal.WithLabelValues(result).Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		restartsTotal.Inc()
	}
}

func IncCrash() {
	if regOK.Load() {
		crashesTotal.Inc()
	}
}

// SetState marks state as the single active supervisor state.
func SetState(state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1.0
		}
		currentState.WithLabelValues(s).Set(v)
	}
}
