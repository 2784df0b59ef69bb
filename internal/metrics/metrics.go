package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "fgsvc"
	subsystem = "task"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	taskStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "starts_total",
			Help:      "Number of successful task handle acquisitions.",
		}, []string{"name"},
	)
	taskStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "start_failures_total",
			Help:      "Number of failed task handle acquisitions.",
		}, []string{"name"},
	)
	taskStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stops_total",
			Help:      "Number of explicit stops.",
		}, []string{"name"},
	)
	taskRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restarts_total",
			Help:      "Number of restart requests that scheduled a deferred start.",
		}, []string{"name"},
	)
	taskRestartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restart_failures_total",
			Help:      "Number of deferred restart starts that failed.",
		}, []string{"name"},
	)
	taskReclaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reclaims_total",
			Help:      "Number of times the OS was found to have reclaimed a running task.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"name", "from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer. Every
// registerer gets the full set; registering twice with the same one is a no-op.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{
		taskStarts, taskStartFailures, taskStops, taskRestarts,
		taskRestartFailures, taskReclaims, stateTransitions, currentState,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer, e.g. a test registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Recording helpers no-op until Register has succeeded.

func IncStart(name string) {
	if regOK.Load() {
		taskStarts.WithLabelValues(name).Inc()
	}
}

func IncStartFailure(name string) {
	if regOK.Load() {
		taskStartFailures.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		taskStops.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		taskRestarts.WithLabelValues(name).Inc()
	}
}

func IncRestartFailure(name string) {
	if regOK.Load() {
		taskRestartFailures.WithLabelValues(name).Inc()
	}
}

func IncReclaim(name string) {
	if regOK.Load() {
		taskReclaims.WithLabelValues(name).Inc()
	}
}

// RecordTransition counts the transition and flips the current_state gauge.
func RecordTransition(name, from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(name, from, to).Inc()
	currentState.WithLabelValues(name, from).Set(0)
	currentState.WithLabelValues(name, to).Set(1)
}
