// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/anvilgate/environment"
)

const metricsNamespace = "anvilgate"

// Transport label values.
const (
	transportHTTP      = "http"
	transportWebSocket = "websocket"
)

// Outcome label values for request units.
const (
	outcomeForwarded    = "forwarded"
	outcomeRejected     = "rejected"
	outcomeBackendError = "backend_error"
)

// Metrics holds the gateway's Prometheus collectors on a private
// registry. All methods are safe on a nil *Metrics, which records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	units           *prometheus.CounterVec
	backendFailures *prometheus.CounterVec
	relaySessions   prometheus.Gauge
	state           prometheus.Gauge
	provisioning    *prometheus.HistogramVec
}

// NewMetrics creates and registers the gateway's collectors, together
// with the standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rpc_units_total",
			Help:      "JSON-RPC request units handled, by transport and outcome.",
		}, []string{"transport", "outcome"}),
		backendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backend_failures_total",
			Help:      "Backend calls or connections that failed, by transport.",
		}, []string{"transport"}),
		relaySessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "relay_sessions",
			Help:      "WebSocket relay sessions currently open.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "environment_state",
			Help:      "Environment lifecycle state: 0 uninitialized, 1 provisioning, 2 ready.",
		}),
		provisioning: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "provisioning_duration_seconds",
			Help:      "Duration of provisioning attempts, by result.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.units,
		m.backendFailures,
		m.relaySessions,
		m.state,
		m.provisioning,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveState implements environment.Observer.
func (m *Metrics) ObserveState(state environment.State) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

// ObserveProvisioning implements environment.Observer.
func (m *Metrics) ObserveProvisioning(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.provisioning.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *Metrics) unit(transport, outcome string) {
	m.unitN(transport, outcome, 1)
}

func (m *Metrics) unitN(transport, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.units.WithLabelValues(transport, outcome).Add(float64(count))
}

func (m *Metrics) backendFailure(transport string) {
	if m == nil {
		return
	}
	m.backendFailures.WithLabelValues(transport).Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.relaySessions.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.relaySessions.Dec()
}
